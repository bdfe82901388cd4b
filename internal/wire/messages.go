// Package wire defines the signaling envelope and payload types exchanged
// between call participants and the relay.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Type identifies a signaling message.
type Type string

const (
	// Server -> client only.
	TypeInit                     Type = "init"
	TypeUserJoined               Type = "user-joined"
	TypeUserDisconnected         Type = "user-disconnected"
	TypeAllPeersMutedStateChange Type = "all-peers-muted-state-changed"
	TypePermissionRevoked        Type = "permission-revoked"

	// Targeted relay, opaque payloads.
	TypeOffer        Type = "offer"
	TypeAnswer       Type = "answer"
	TypeICECandidate Type = "ice-candidate"

	// Host-gated.
	TypeToggleMuteAll Type = "toggle-mute-all"
	TypeRequestUnmute Type = "request-unmute"
	TypeForceMute     Type = "force-mute"

	// Mute negotiation, not host-gated.
	TypeDeclineUnmute         Type = "decline-unmute"
	TypeAcceptedUnmuteRequest Type = "accepted-unmute-request"

	// Broadcast including the sender (echo).
	TypeChatMessage Type = "chat-message"
	TypeReaction    Type = "reaction"

	// Broadcast excluding the sender.
	TypePersonalMuteToggle     Type = "personal-mute-toggle"
	TypeLocalAudioStateChanged Type = "local-audio-state-changed"
)

// Envelope is the wire frame for every signaling message.
//
// SenderID is stamped by the relay from the connection identity; any value a
// client puts on the wire is overwritten before routing.
type Envelope struct {
	Type     Type            `json:"type"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	SenderID string          `json:"senderId,omitempty"`
	TargetID string          `json:"targetId,omitempty"`
}

// PeerInfo is one roster entry in an init payload.
type PeerInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

// InitPayload is sent to a client immediately after it connects.
type InitPayload struct {
	SelfID      string     `json:"selfId"`
	Peers       []PeerInfo `json:"peers"`
	HostID      string     `json:"hostId"`
	IsRoomMuted bool       `json:"isRoomMuted"`
}

// UserJoinedPayload announces a new member to everyone already present.
type UserJoinedPayload struct {
	PeerID      string `json:"peerId"`
	DisplayName string `json:"displayName"`
	HostID      string `json:"hostId"`
}

// UserDisconnectedPayload announces a departure, carrying the host pointer
// after any re-election.
type UserDisconnectedPayload struct {
	PeerID    string `json:"peerId"`
	NewHostID string `json:"newHostId"`
}

// MuteAllPayload carries the room-wide mute flag for both toggle-mute-all and
// all-peers-muted-state-changed.
type MuteAllPayload struct {
	IsMuted bool `json:"isMuted"`
}

// PermissionRevokedPayload tells viewers a peer's speaking exemption is gone.
type PermissionRevokedPayload struct {
	PeerID string `json:"peerId"`
}

// PersonalMuteTogglePayload records one viewer muting/unmuting a peer for
// themselves only.
type PersonalMuteTogglePayload struct {
	PeerID  string `json:"peerId"`
	IsMuted bool   `json:"isMuted"`
}

// LocalAudioStatePayload mirrors the owning peer's microphone enable bit. It
// is display-only for everyone else and never enforced remotely.
type LocalAudioStatePayload struct {
	Enabled bool `json:"enabled"`
}

// ChatMessagePayload is relayed opaquely and echoed back to the sender.
type ChatMessagePayload struct {
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// ReactionPayload is relayed opaquely and echoed back to the sender.
type ReactionPayload struct {
	Emoji string `json:"emoji"`
}

// serverOnly holds types a client must never originate.
var serverOnly = map[Type]bool{
	TypeInit:                     true,
	TypeUserJoined:               true,
	TypeUserDisconnected:         true,
	TypeAllPeersMutedStateChange: true,
	TypePermissionRevoked:        true,
}

// targeted holds client-originated types that require a targetId.
var targeted = map[Type]bool{
	TypeOffer:         true,
	TypeAnswer:        true,
	TypeICECandidate:  true,
	TypeRequestUnmute: true,
	TypeForceMute:     true,
}

// hostGated holds types only the current host may issue.
var hostGated = map[Type]bool{
	TypeToggleMuteAll: true,
	TypeRequestUnmute: true,
	TypeForceMute:     true,
}

// HostGated reports whether t may only be issued by the room's current host.
func HostGated(t Type) bool { return hostGated[t] }

// Targeted reports whether t is delivered to a single peer.
func Targeted(t Type) bool { return targeted[t] }

// known reports whether t is part of the protocol at all.
func known(t Type) bool {
	if serverOnly[t] || targeted[t] || hostGated[t] {
		return true
	}
	switch t {
	case TypeDeclineUnmute, TypeAcceptedUnmuteRequest,
		TypeChatMessage, TypeReaction,
		TypePersonalMuteToggle, TypeLocalAudioStateChanged:
		return true
	}
	return false
}

// ParseClientEnvelope decodes and validates a frame received from a client.
//
// Payloads stay opaque here; only the envelope shape is checked. Validation
// failures are protocol errors: the relay logs and drops the frame but keeps
// the connection open.
func ParseClientEnvelope(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, fmt.Errorf("unexpected trailing data")
	}

	if !known(env.Type) {
		return Envelope{}, fmt.Errorf("unsupported message type %q", env.Type)
	}
	if serverOnly[env.Type] {
		return Envelope{}, fmt.Errorf("message type %q is server-originated", env.Type)
	}
	if targeted[env.Type] && env.TargetID == "" {
		return Envelope{}, fmt.Errorf("message type %q requires targetId", env.Type)
	}
	return env, nil
}

// MustPayload marshals v as an envelope payload. It panics only on
// unmarshalable values, which would be a programming error.
func MustPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("wire: marshal payload: %v", err))
	}
	return b
}

// DecodePayload unmarshals an envelope payload into v.
func DecodePayload(env Envelope, v any) error {
	if len(env.Payload) == 0 {
		return fmt.Errorf("%s message missing payload", env.Type)
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return nil
}
