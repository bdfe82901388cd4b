// Package room holds the in-memory registry of active call rooms.
//
// Registry state is authoritative only for the lifetime of the process: a
// restart legitimately drops every active call. Durability for ephemeral
// session state is an explicit non-goal.
package room

import (
	"errors"
	"sync"

	"github.com/biooids/web-rtc-biooids/internal/wire"
)

// ErrNotFound is returned when an operation references a room that does not
// exist (any longer). An emptied room is removed before any further message
// referencing its id is processed.
var ErrNotFound = errors.New("room: not found")

// Sender delivers an envelope to one connected client without blocking the
// caller. Implementations report false when the message was dropped.
type Sender interface {
	Enqueue(env wire.Envelope) bool
}

// Member is one connected client within a room.
type Member struct {
	ID          string
	DisplayName string
	Sender      Sender
}

// Room is the unit of call membership.
//
// All mutations of one room are serialized under its mutex; the lock ordering
// is Registry.mu before Room.mu and never the reverse.
type Room struct {
	id string

	mu             sync.Mutex
	hostID         string
	members        map[string]*Member
	everyoneMuted  bool
	allowedToSpeak map[string]struct{}
	// destroyed marks a room the registry no longer tracks. A joiner that
	// looked the room up before the last member left must not append to it.
	destroyed bool
}

// Registry maps room ids to live rooms.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// JoinResult describes the state handed to a freshly joined client and the
// peers that must be told about it.
type JoinResult struct {
	RoomCreated bool
	HostID      string
	IsRoomMuted bool
	Roster      []wire.PeerInfo
	Others      []*Member
}

// Join adds m to the room with the given id, creating the room when it is the
// first connection to an unseen id. The first member becomes host.
func (r *Registry) Join(roomID string, m *Member) JoinResult {
	for {
		r.mu.Lock()
		rm, ok := r.rooms[roomID]
		if !ok {
			rm = &Room{
				id:             roomID,
				members:        make(map[string]*Member),
				allowedToSpeak: make(map[string]struct{}),
			}
			r.rooms[roomID] = rm
		}
		r.mu.Unlock()

		rm.mu.Lock()
		if rm.destroyed {
			// Lost a race with the last member's Leave: that room object is
			// already deleted from the map. Look it up again.
			rm.mu.Unlock()
			continue
		}

		res := JoinResult{RoomCreated: !ok}
		if len(rm.members) == 0 {
			rm.hostID = m.ID
		}
		for _, other := range rm.members {
			res.Roster = append(res.Roster, wire.PeerInfo{ID: other.ID, DisplayName: other.DisplayName})
			res.Others = append(res.Others, other)
		}
		rm.members[m.ID] = m
		res.HostID = rm.hostID
		res.IsRoomMuted = rm.everyoneMuted
		rm.mu.Unlock()
		return res
	}
}

// LeaveResult describes the aftermath of a departure.
type LeaveResult struct {
	// Removed is false when the client was already gone; callers must not
	// broadcast anything in that case.
	Removed       bool
	RoomDestroyed bool
	WasHost       bool
	NewHostID     string
	Remaining     []*Member
}

// Leave removes the client from the room. It is idempotent: leaving twice
// yields Removed=false the second time. When the departing client was host, a
// new host is elected from whatever member remains; the selection order is
// intentionally arbitrary and non-deterministic (map iteration).
func (r *Registry) Leave(roomID, clientID string) LeaveResult {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return LeaveResult{}
	}

	rm.mu.Lock()
	if _, present := rm.members[clientID]; !present {
		rm.mu.Unlock()
		r.mu.Unlock()
		return LeaveResult{}
	}

	delete(rm.members, clientID)
	delete(rm.allowedToSpeak, clientID)

	res := LeaveResult{Removed: true, WasHost: rm.hostID == clientID}

	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
		rm.hostID = ""
		rm.destroyed = true
		res.RoomDestroyed = true
		rm.mu.Unlock()
		r.mu.Unlock()
		return res
	}
	r.mu.Unlock()

	if res.WasHost {
		for id := range rm.members {
			rm.hostID = id
			break
		}
	}
	res.NewHostID = rm.hostID
	for _, m := range rm.members {
		res.Remaining = append(res.Remaining, m)
	}
	rm.mu.Unlock()
	return res
}

func (r *Registry) get(roomID string) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	return rm, ok
}

// Exists reports whether a room is currently live.
func (r *Registry) Exists(roomID string) bool {
	_, ok := r.get(roomID)
	return ok
}

// HostID returns the current host of the room.
func (r *Registry) HostID(roomID string) (string, error) {
	rm, ok := r.get(roomID)
	if !ok {
		return "", ErrNotFound
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.hostID, nil
}

// IsHost reports whether clientID currently holds the host role. This is the
// single authorization check backing every host-gated message type.
func (r *Registry) IsHost(roomID, clientID string) bool {
	hostID, err := r.HostID(roomID)
	return err == nil && clientID != "" && clientID == hostID
}

// Member returns the live member with the given id.
func (r *Registry) Member(roomID, clientID string) (*Member, error) {
	rm, ok := r.get(roomID)
	if !ok {
		return nil, ErrNotFound
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	m, present := rm.members[clientID]
	if !present {
		return nil, ErrNotFound
	}
	return m, nil
}

// Members returns the room's membership minus any excluded client ids.
func (r *Registry) Members(roomID string, exclude ...string) []*Member {
	rm, ok := r.get(roomID)
	if !ok {
		return nil
	}

	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]*Member, 0, len(rm.members))
	for id, m := range rm.members {
		if _, excluded := skip[id]; excluded {
			continue
		}
		out = append(out, m)
	}
	return out
}

// SetEveryoneMuted flips the room-wide mute flag. Muting clears the
// allowed-to-speak set: a fresh room-wide mute starts with no exemptions and
// applying it twice is indistinguishable from applying it once. Unmuting also
// clears the set, per the room invariants.
func (r *Registry) SetEveryoneMuted(roomID string, muted bool) error {
	rm, ok := r.get(roomID)
	if !ok {
		return ErrNotFound
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.everyoneMuted = muted
	rm.allowedToSpeak = make(map[string]struct{})
	return nil
}

// EveryoneMuted reports the room-wide mute flag.
func (r *Registry) EveryoneMuted(roomID string) (bool, error) {
	rm, ok := r.get(roomID)
	if !ok {
		return false, ErrNotFound
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.everyoneMuted, nil
}

// GrantSpeak exempts a member from the current room-wide mute.
func (r *Registry) GrantSpeak(roomID, clientID string) error {
	rm, ok := r.get(roomID)
	if !ok {
		return ErrNotFound
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if _, present := rm.members[clientID]; !present {
		return ErrNotFound
	}
	rm.allowedToSpeak[clientID] = struct{}{}
	return nil
}

// RevokeSpeak withdraws a member's exemption, if any.
func (r *Registry) RevokeSpeak(roomID, clientID string) error {
	rm, ok := r.get(roomID)
	if !ok {
		return ErrNotFound
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.allowedToSpeak, clientID)
	return nil
}

// AllowedToSpeak reports whether the member is exempt from the room-wide mute.
func (r *Registry) AllowedToSpeak(roomID, clientID string) bool {
	rm, ok := r.get(roomID)
	if !ok {
		return false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	_, exempt := rm.allowedToSpeak[clientID]
	return exempt
}

// Len reports the number of live rooms.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
