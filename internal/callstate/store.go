// Package callstate keeps a client's view of room, peer and mute state.
//
// The store is a pure projection of server-confirmed events: it never
// originates authoritative state. The only local writes allowed are for
// actions whose effect is purely local and never contradicted by a later
// server echo (a viewer's own personal-mute set, the local microphone bit).
package callstate

import (
	"sync"

	"github.com/biooids/web-rtc-biooids/internal/wire"
)

// PeerMuteStatus layers the three independent mute mechanisms for one remote
// peer.
type PeerMuteStatus struct {
	// MutedByHost reflects the room-wide mute or a targeted force-mute.
	MutedByHost bool
	// PersonallyMutedBy is the set of viewers who muted this peer for
	// themselves only. It never affects what other viewers hear and never
	// affects the peer's own capture state.
	PersonallyMutedBy map[string]struct{}
	// SelfMuted mirrors the peer's own microphone enable bit. Display only;
	// never enforced remotely.
	SelfMuted bool
}

// Peer is one remote participant as the local client sees it.
type Peer struct {
	ID          string
	DisplayName string
	Mute        PeerMuteStatus
}

// ChatMessage is one server-confirmed chat entry.
type ChatMessage struct {
	SenderID  string
	Text      string
	Timestamp string
}

// State is a snapshot of everything the store projects.
type State struct {
	CallActive bool
	RoomID     string
	SelfID     string
	HostID     string

	EveryoneMuted   bool
	SelfMutedByHost bool
	SelfMuted       bool

	AllowedToSpeak map[string]struct{}
	Peers          map[string]Peer
	Chat           []ChatMessage
}

// Store guards the projection for concurrent reads from presentation code
// while the orchestrator's reader goroutine applies events.
type Store struct {
	mu sync.Mutex
	s  State
}

func NewStore(roomID string) *Store {
	return &Store{s: State{
		RoomID:         roomID,
		AllowedToSpeak: make(map[string]struct{}),
		Peers:          make(map[string]Peer),
	}}
}

// Apply projects one server-confirmed envelope into the store. Unknown or
// irrelevant types are ignored; the store never rejects what the server
// confirmed.
func (st *Store) Apply(env wire.Envelope) {
	st.mu.Lock()
	defer st.mu.Unlock()

	switch env.Type {
	case wire.TypeInit:
		var p wire.InitPayload
		if wire.DecodePayload(env, &p) != nil {
			return
		}
		st.s.CallActive = true
		st.s.SelfID = p.SelfID
		st.s.HostID = p.HostID
		st.s.EveryoneMuted = p.IsRoomMuted
		for _, peer := range p.Peers {
			st.addPeerLocked(peer.ID, peer.DisplayName)
		}

	case wire.TypeUserJoined:
		var p wire.UserJoinedPayload
		if wire.DecodePayload(env, &p) != nil {
			return
		}
		st.addPeerLocked(p.PeerID, p.DisplayName)
		st.s.HostID = p.HostID

	case wire.TypeUserDisconnected:
		var p wire.UserDisconnectedPayload
		if wire.DecodePayload(env, &p) != nil {
			return
		}
		delete(st.s.Peers, p.PeerID)
		delete(st.s.AllowedToSpeak, p.PeerID)
		st.s.HostID = p.NewHostID

	case wire.TypeAllPeersMutedStateChange:
		var p wire.MuteAllPayload
		if wire.DecodePayload(env, &p) != nil {
			return
		}
		st.applyRoomMuteLocked(p.IsMuted)

	case wire.TypeAcceptedUnmuteRequest:
		st.grantSpeakLocked(env.SenderID)

	case wire.TypePermissionRevoked:
		var p wire.PermissionRevokedPayload
		if wire.DecodePayload(env, &p) != nil {
			return
		}
		delete(st.s.AllowedToSpeak, p.PeerID)
		if peer, ok := st.s.Peers[p.PeerID]; ok {
			peer.Mute.MutedByHost = true
			st.s.Peers[p.PeerID] = peer
		}

	case wire.TypeForceMute:
		// Addressed to the local client: the host cut this peer's exemption.
		st.s.SelfMutedByHost = true
		delete(st.s.AllowedToSpeak, st.s.SelfID)

	case wire.TypePersonalMuteToggle:
		var p wire.PersonalMuteTogglePayload
		if wire.DecodePayload(env, &p) != nil {
			return
		}
		st.setPersonalMuteLocked(env.SenderID, p.PeerID, p.IsMuted)

	case wire.TypeLocalAudioStateChanged:
		var p wire.LocalAudioStatePayload
		if wire.DecodePayload(env, &p) != nil {
			return
		}
		if peer, ok := st.s.Peers[env.SenderID]; ok {
			peer.Mute.SelfMuted = !p.Enabled
			st.s.Peers[env.SenderID] = peer
		}

	case wire.TypeChatMessage:
		var p wire.ChatMessagePayload
		if wire.DecodePayload(env, &p) != nil {
			return
		}
		st.s.Chat = append(st.s.Chat, ChatMessage{
			SenderID:  env.SenderID,
			Text:      p.Text,
			Timestamp: p.Timestamp,
		})
	}
}

// SetSelfMuted records the local microphone enable bit. Purely local.
func (st *Store) SetSelfMuted(muted bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.SelfMuted = muted
}

// SetLocalPersonalMute records the local viewer muting/unmuting a peer for
// themselves. personal-mute-toggle broadcasts exclude the sender, so the
// sender applies its own toggle here.
func (st *Store) SetLocalPersonalMute(peerID string, muted bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.setPersonalMuteLocked(st.s.SelfID, peerID, muted)
}

// GrantSelfSpeak records the local client accepting an unmute request.
// accepted-unmute-request broadcasts exclude the sender, so the sender
// applies its own grant here.
func (st *Store) GrantSelfSpeak() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.AllowedToSpeak[st.s.SelfID] = struct{}{}
	st.s.SelfMutedByHost = false
}

// CallEnded clears live call state while keeping the chat log readable.
func (st *Store) CallEnded() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.CallActive = false
	st.s.Peers = make(map[string]Peer)
	st.s.AllowedToSpeak = make(map[string]struct{})
	st.s.HostID = ""
}

// Snapshot returns a deep copy safe for presentation code.
func (st *Store) Snapshot() State {
	st.mu.Lock()
	defer st.mu.Unlock()

	out := st.s
	out.AllowedToSpeak = make(map[string]struct{}, len(st.s.AllowedToSpeak))
	for id := range st.s.AllowedToSpeak {
		out.AllowedToSpeak[id] = struct{}{}
	}
	out.Peers = make(map[string]Peer, len(st.s.Peers))
	for id, peer := range st.s.Peers {
		mutedBy := make(map[string]struct{}, len(peer.Mute.PersonallyMutedBy))
		for v := range peer.Mute.PersonallyMutedBy {
			mutedBy[v] = struct{}{}
		}
		peer.Mute.PersonallyMutedBy = mutedBy
		out.Peers[id] = peer
	}
	out.Chat = append([]ChatMessage(nil), st.s.Chat...)
	return out
}

// IsHost reports whether the local client currently holds the host role.
func (st *Store) IsHost() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.SelfID != "" && st.s.SelfID == st.s.HostID
}

func (st *Store) addPeerLocked(id, displayName string) {
	if _, exists := st.s.Peers[id]; exists {
		return
	}
	st.s.Peers[id] = Peer{
		ID:          id,
		DisplayName: displayName,
		Mute:        PeerMuteStatus{PersonallyMutedBy: make(map[string]struct{})},
	}
}

func (st *Store) applyRoomMuteLocked(muted bool) {
	st.s.EveryoneMuted = muted

	if !muted {
		// Lifting the room-wide mute clears every exemption and host-mute.
		st.s.AllowedToSpeak = make(map[string]struct{})
		st.s.SelfMutedByHost = false
		for id, peer := range st.s.Peers {
			peer.Mute.MutedByHost = false
			st.s.Peers[id] = peer
		}
		return
	}

	// A fresh room-wide mute starts with no exemptions.
	st.s.AllowedToSpeak = make(map[string]struct{})
	for id, peer := range st.s.Peers {
		peer.Mute.MutedByHost = id != st.s.HostID
		st.s.Peers[id] = peer
	}
	st.s.SelfMutedByHost = st.s.SelfID != st.s.HostID
}

func (st *Store) grantSpeakLocked(peerID string) {
	if peerID == "" {
		return
	}
	st.s.AllowedToSpeak[peerID] = struct{}{}
	if peer, ok := st.s.Peers[peerID]; ok {
		peer.Mute.MutedByHost = false
		st.s.Peers[peerID] = peer
	}
	if peerID == st.s.SelfID {
		st.s.SelfMutedByHost = false
	}
}

func (st *Store) setPersonalMuteLocked(viewerID, peerID string, muted bool) {
	peer, ok := st.s.Peers[peerID]
	if !ok {
		return
	}
	if muted {
		peer.Mute.PersonallyMutedBy[viewerID] = struct{}{}
	} else {
		delete(peer.Mute.PersonallyMutedBy, viewerID)
	}
	st.s.Peers[peerID] = peer
}
