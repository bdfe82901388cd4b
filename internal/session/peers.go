package session

import (
	"errors"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/biooids/web-rtc-biooids/internal/wire"
)

// peerLink is one media connection to a remote participant.
type peerLink struct {
	id string
	pc *webrtc.PeerConnection

	audioSender *webrtc.RTPSender
	videoSender *webrtc.RTPSender
}

// peer returns the existing link for peerID, creating one if needed. New
// links carry the current local tracks so a later offer/answer negotiates
// them in one round.
func (s *Session) peer(peerID string) (*peerLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerLocked(peerID)
}

func (s *Session) peerLocked(peerID string) (*peerLink, error) {
	if link, ok := s.peers[peerID]; ok {
		return link, nil
	}

	pc, err := s.api.NewPeerConnection(webrtc.Configuration{ICEServers: s.iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection for %s: %w", peerID, err)
	}

	link := &peerLink{id: peerID, pc: pc}

	if link.audioSender, err = pc.AddTrack(s.audioTrack); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add audio track for %s: %w", peerID, err)
	}
	if link.videoSender, err = pc.AddTrack(s.videoTrack); err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("add video track for %s: %w", peerID, err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		s.enqueue(wire.Envelope{
			Type:     wire.TypeICECandidate,
			TargetID: peerID,
			Payload:  wire.MustPayload(c.ToJSON()),
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			s.removePeer(peerID)
		}
	})

	s.peers[peerID] = link
	return link, nil
}

// removePeer tears down the link to peerID. It is reached from both the
// signaling path (user-disconnected) and pion's connection state callback,
// in any order, so it must tolerate the link already being gone.
func (s *Session) removePeer(peerID string) {
	s.mu.Lock()
	link, ok := s.peers[peerID]
	if ok {
		delete(s.peers, peerID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	_ = link.pc.Close()
	s.log.Debug("peer connection closed", "peer_id", peerID)
}

func (s *Session) closeAllPeers() {
	s.mu.Lock()
	links := make([]*peerLink, 0, len(s.peers))
	for _, link := range s.peers {
		links = append(links, link)
	}
	s.peers = make(map[string]*peerLink)
	s.mu.Unlock()

	for _, link := range links {
		_ = link.pc.Close()
	}
}

// sendOfferTo negotiates a fresh link toward peerID. The joining side offers
// to every peer in its init roster; the already-present side only answers.
func (s *Session) sendOfferTo(peerID string) error {
	link, err := s.peer(peerID)
	if err != nil {
		return err
	}

	offer, err := link.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer for %s: %w", peerID, err)
	}
	if err := link.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description for %s: %w", peerID, err)
	}

	s.enqueue(wire.Envelope{
		Type:     wire.TypeOffer,
		TargetID: peerID,
		Payload:  wire.MustPayload(offer),
	})
	return nil
}

func (s *Session) handleOffer(env wire.Envelope) error {
	var sd webrtc.SessionDescription
	if err := wire.DecodePayload(env, &sd); err != nil {
		return err
	}

	link, err := s.peer(env.SenderID)
	if err != nil {
		return err
	}
	if err := link.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("apply offer from %s: %w", env.SenderID, err)
	}

	answer, err := link.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer for %s: %w", env.SenderID, err)
	}
	if err := link.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description for %s: %w", env.SenderID, err)
	}

	s.enqueue(wire.Envelope{
		Type:     wire.TypeAnswer,
		TargetID: env.SenderID,
		Payload:  wire.MustPayload(answer),
	})
	return nil
}

func (s *Session) handleAnswer(env wire.Envelope) error {
	var sd webrtc.SessionDescription
	if err := wire.DecodePayload(env, &sd); err != nil {
		return err
	}

	s.mu.Lock()
	link, ok := s.peers[env.SenderID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("answer from %s without a pending offer", env.SenderID)
	}
	if err := link.pc.SetRemoteDescription(sd); err != nil {
		return fmt.Errorf("apply answer from %s: %w", env.SenderID, err)
	}
	return nil
}

func (s *Session) handleCandidate(env wire.Envelope) error {
	var init webrtc.ICECandidateInit
	if err := wire.DecodePayload(env, &init); err != nil {
		return err
	}

	s.mu.Lock()
	link, ok := s.peers[env.SenderID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("candidate from unknown peer %s", env.SenderID)
	}
	if err := link.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add candidate from %s: %w", env.SenderID, err)
	}
	return nil
}

// ReplaceVideoTrack swaps the outgoing video source on every established
// link. A failure on one link never blocks the swap on the others; the
// caller gets everything that went wrong at once.
func (s *Session) ReplaceVideoTrack(track webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.videoTrack = track

	var errs []error
	for id, link := range s.peers {
		if err := link.videoSender.ReplaceTrack(track); err != nil {
			errs = append(errs, fmt.Errorf("replace video track for %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// StartScreenShare swaps the screen track in while remembering the camera
// track for StopScreenShare.
func (s *Session) StartScreenShare(screen webrtc.TrackLocal) error {
	s.mu.Lock()
	if s.cameraTrack == nil {
		s.cameraTrack = s.videoTrack
	}
	s.mu.Unlock()
	return s.ReplaceVideoTrack(screen)
}

// StopScreenShare restores the camera track retained by StartScreenShare.
func (s *Session) StopScreenShare() error {
	s.mu.Lock()
	camera := s.cameraTrack
	s.cameraTrack = nil
	s.mu.Unlock()

	if camera == nil {
		return nil
	}
	return s.ReplaceVideoTrack(camera)
}
