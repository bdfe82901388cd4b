package relay

import (
	"github.com/biooids/web-rtc-biooids/internal/metrics"
	"github.com/biooids/web-rtc-biooids/internal/wire"
)

// dispatch routes one validated, sender-stamped envelope.
//
// Host authorization happens exactly once, here, for every host-gated type:
// individual handlers never re-check, and a future host action added to the
// wire catalogue inherits the gate by being tagged there.
func (s *Server) dispatch(c *client, env wire.Envelope) {
	if wire.HostGated(env.Type) && !s.rooms.IsHost(c.roomID, c.id) {
		// Silent drop on the wire; visible to operators only.
		s.met.Inc(metrics.AuthzDenied)
		s.log.Debug("dropping host-gated message from non-host",
			"room_id", c.roomID, "client_id", c.id, "msg_type", env.Type)
		return
	}

	switch env.Type {
	case wire.TypeOffer, wire.TypeAnswer, wire.TypeICECandidate,
		wire.TypeRequestUnmute:
		// Targeted relay; payloads stay opaque.
		s.relayToTarget(c, env)

	case wire.TypeToggleMuteAll:
		s.handleToggleMuteAll(c, env)

	case wire.TypeForceMute:
		s.handleForceMute(c, env)

	case wire.TypeDeclineUnmute:
		s.relayToHost(c, env)

	case wire.TypeAcceptedUnmuteRequest:
		s.handleAcceptedUnmute(c, env)

	case wire.TypeChatMessage, wire.TypeReaction:
		// Echoed back to the sender as well; the UI renders its own message
		// only once the server confirms it.
		s.broadcast(c.roomID, env)

	case wire.TypePersonalMuteToggle, wire.TypeLocalAudioStateChanged:
		s.broadcast(c.roomID, env, c.id)
	}
}

// relayToTarget delivers env to its targetId. Unknown targets are dropped
// without signaling the sender: lossy by design at this layer.
func (s *Server) relayToTarget(c *client, env wire.Envelope) {
	target, err := s.rooms.Member(c.roomID, env.TargetID)
	if err != nil {
		s.met.Inc(metrics.UnknownTargetDropped)
		s.log.Debug("dropping message for unknown target",
			"room_id", c.roomID, "client_id", c.id, "target_id", env.TargetID, "msg_type", env.Type)
		return
	}
	target.Sender.Enqueue(env)
	s.met.Inc(metrics.MessageRelayed)
}

// relayToHost delivers env to the room's current host as resolved by the
// registry, so a host migration between request and reply cannot misroute it.
func (s *Server) relayToHost(c *client, env wire.Envelope) {
	hostID, err := s.rooms.HostID(c.roomID)
	if err != nil {
		return
	}
	env.TargetID = hostID
	host, err := s.rooms.Member(c.roomID, hostID)
	if err != nil {
		s.met.Inc(metrics.UnknownTargetDropped)
		return
	}
	host.Sender.Enqueue(env)
	s.met.Inc(metrics.MessageRelayed)
}

// broadcast delivers env to every room member except the excluded ids.
func (s *Server) broadcast(roomID string, env wire.Envelope, exclude ...string) {
	for _, m := range s.rooms.Members(roomID, exclude...) {
		m.Sender.Enqueue(env)
	}
	s.met.Inc(metrics.MessageRelayed)
}

// handleToggleMuteAll flips the room-wide mute and fans the confirmed state
// out to everyone, the acting host included.
func (s *Server) handleToggleMuteAll(c *client, env wire.Envelope) {
	var p wire.MuteAllPayload
	if err := wire.DecodePayload(env, &p); err != nil {
		s.met.Inc(metrics.ProtocolError)
		s.log.Warn("dropping malformed toggle-mute-all", "client_id", c.id, "err", err)
		return
	}

	if err := s.rooms.SetEveryoneMuted(c.roomID, p.IsMuted); err != nil {
		return
	}

	s.broadcast(c.roomID, wire.Envelope{
		Type:     wire.TypeAllPeersMutedStateChange,
		SenderID: c.id,
		Payload:  wire.MustPayload(wire.MuteAllPayload{IsMuted: p.IsMuted}),
	})
}

// handleForceMute relays the order to the target and tells every other
// viewer (except host and target) that the target's exemption is gone.
func (s *Server) handleForceMute(c *client, env wire.Envelope) {
	target, err := s.rooms.Member(c.roomID, env.TargetID)
	if err != nil {
		s.met.Inc(metrics.UnknownTargetDropped)
		return
	}

	_ = s.rooms.RevokeSpeak(c.roomID, target.ID)

	target.Sender.Enqueue(env)
	s.met.Inc(metrics.MessageRelayed)

	s.broadcast(c.roomID, wire.Envelope{
		Type:     wire.TypePermissionRevoked,
		SenderID: c.id,
		Payload:  wire.MustPayload(wire.PermissionRevokedPayload{PeerID: target.ID}),
	}, c.id, target.ID)
}

// handleAcceptedUnmute grants the sender a speaking exemption and announces
// it to everyone else.
func (s *Server) handleAcceptedUnmute(c *client, env wire.Envelope) {
	_ = s.rooms.GrantSpeak(c.roomID, c.id)
	s.broadcast(c.roomID, env, c.id)
}
