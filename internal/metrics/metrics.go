package metrics

import "sync"

// Event counter names used across the call control plane.
const (
	RoomCreated          = "room_created"
	RoomDestroyed        = "room_destroyed"
	ClientJoined         = "client_joined"
	ClientLeft           = "client_left"
	HostElected          = "host_elected"
	MessageRelayed       = "message_relayed"
	ProtocolError        = "protocol_error"
	AuthzDenied          = "authz_denied"
	UnknownTargetDropped = "unknown_target_dropped"
	RateLimited          = "rate_limited"
	SendQueueDropped     = "send_queue_dropped"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// The relay keeps no durable state, so counters reset with the process; they
// exist for operator visibility. The silent-drop paths in particular
// (authorization denials, unknown targets) are invisible on the wire by
// design and would otherwise be undiagnosable.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{m: make(map[string]uint64)}
}

// Inc increments the named counter. A nil receiver is a no-op so callers can
// leave metrics unconfigured in tests.
func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
