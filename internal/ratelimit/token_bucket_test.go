package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestTokenBucketBurstThenDeny(t *testing.T) {
	clock := newFakeClock()
	b := NewTokenBucket(clock, 3, 1)

	for i := 0; i < 3; i++ {
		if !b.Allow(1) {
			t.Fatalf("token %d should be available", i)
		}
	}
	if b.Allow(1) {
		t.Fatalf("bucket should be empty")
	}
}

func TestTokenBucketRefills(t *testing.T) {
	clock := newFakeClock()
	b := NewTokenBucket(clock, 2, 2)

	if !b.Allow(2) {
		t.Fatalf("initial burst should succeed")
	}
	if b.Allow(1) {
		t.Fatalf("bucket should be empty")
	}

	clock.advance(500 * time.Millisecond) // 1 token at 2/sec
	if !b.Allow(1) {
		t.Fatalf("half a second at 2/sec should refill one token")
	}
	if b.Allow(1) {
		t.Fatalf("only one token should have refilled")
	}
}

func TestTokenBucketCapacityClamp(t *testing.T) {
	clock := newFakeClock()
	b := NewTokenBucket(clock, 2, 100)

	clock.advance(time.Hour)
	if !b.Allow(2) {
		t.Fatalf("bucket should be full after a long idle period")
	}
	if b.Allow(1) {
		t.Fatalf("refill must clamp at capacity")
	}
}

func TestTokenBucketTimeGoingBackwards(t *testing.T) {
	clock := newFakeClock()
	b := NewTokenBucket(clock, 1, 1)

	if !b.Allow(1) {
		t.Fatalf("initial token should be available")
	}

	clock.advance(-time.Hour)
	if b.Allow(1) {
		t.Fatalf("a backwards clock must not mint tokens")
	}

	clock.advance(time.Hour + time.Second)
	if !b.Allow(1) {
		t.Fatalf("bucket should refill once time moves forward again")
	}
}

func TestTokenBucketZeroCost(t *testing.T) {
	b := NewTokenBucket(newFakeClock(), 0, 0)
	if !b.Allow(0) {
		t.Fatalf("zero cost always succeeds")
	}
	if b.Allow(1) {
		t.Fatalf("zero-capacity bucket never has tokens")
	}
}
