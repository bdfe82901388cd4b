// Package ratelimit provides the per-connection inbound frame limiter used by
// the signaling relay.
package ratelimit

import (
	"sync"
	"time"
)

// One token is 1e9 nano-tokens, so a fill rate of X tokens/sec adds exactly X
// nano-tokens per nanosecond elapsed. Fixed-point avoids float drift on the
// hot path.
const nanosPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket is a deterministic token bucket refilling at an integer
// tokens/sec rate against an injectable Clock.
type TokenBucket struct {
	mu sync.Mutex

	clock    Clock
	capacity int64 // tokens
	fillRate int64 // tokens/sec

	available int64 // nano-tokens
	last      time.Time
}

func NewTokenBucket(clock Clock, capacity, fillRate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if fillRate < 0 {
		fillRate = 0
	}
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		fillRate:  fillRate,
		available: toNano(capacity),
		last:      clock.Now(),
	}
}

// Allow consumes tokens if available. tokens <= 0 always succeeds.
func (b *TokenBucket) Allow(tokens int64) bool {
	if tokens <= 0 {
		return true
	}
	cost := toNano(tokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()
	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards; don't refill, just move the reference point.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Nanoseconds()
	if elapsed <= 0 {
		return
	}
	b.last = now

	if b.fillRate <= 0 || b.capacity <= 0 {
		return
	}

	capNano := toNano(b.capacity)
	need := capNano - b.available
	if need <= 0 {
		b.available = capNano
		return
	}

	// fillRate in tokens/sec equals nano-tokens/ns. Clamp instead of risking
	// overflow when enough time passed to fill the bucket outright.
	if maxFill := need / b.fillRate; maxFill <= 0 || elapsed >= maxFill {
		b.available = capNano
		return
	}
	b.available += elapsed * b.fillRate
	if b.available > capNano {
		b.available = capNano
	}
}

func toNano(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanosPerToken {
		return maxInt64
	}
	return tokens * nanosPerToken
}
