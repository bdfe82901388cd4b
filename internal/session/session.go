// Package session runs the client side of a call: the signaling connection,
// one peer connection per remote participant, and the local state projection.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/biooids/web-rtc-biooids/internal/callstate"
	"github.com/biooids/web-rtc-biooids/internal/wire"
)

const (
	defaultPongTimeout = 60 * time.Second

	writeWait     = 10 * time.Second
	sendQueueSize = 64
)

// Config carries everything needed to join a call.
type Config struct {
	// ServerURL is the relay's WebSocket endpoint, e.g. ws://host:8080/ws.
	ServerURL   string
	RoomID      string
	DisplayName string

	Logger     *slog.Logger
	ICEServers []webrtc.ICEServer

	// API overrides the WebRTC stack, mainly for tests on virtual networks.
	API *webrtc.API

	PingInterval time.Duration
	PongTimeout  time.Duration
}

// Session is one client's participation in a call. All exported methods are
// safe for concurrent use.
type Session struct {
	log   *slog.Logger
	state *callstate.Store
	conn  *websocket.Conn

	api        *webrtc.API
	iceServers []webrtc.ICEServer

	pingInterval time.Duration
	pongTimeout  time.Duration

	send chan wire.Envelope
	done chan struct{}

	mu     sync.Mutex
	selfID string
	peers  map[string]*peerLink

	// The session negotiates one audio and one video sender per peer but
	// never feeds them samples itself: the tracks are silent placeholders
	// until a caller swaps in real media via ReplaceVideoTrack or writes to
	// audioTrack. videoTrack is the interface type so screen-share swaps can
	// carry any TrackLocal; the audio side stays the concrete sample track.
	audioTrack  *webrtc.TrackLocalStaticSample
	videoTrack  webrtc.TrackLocal
	cameraTrack webrtc.TrackLocal

	micEnabled bool

	leave sync.Once
}

// Join dials the relay and starts the session's pumps. The returned Session
// is live immediately; the init roster and subsequent events are applied to
// its state store as they arrive.
func Join(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	if cfg.RoomID == "" {
		return nil, fmt.Errorf("room id is required")
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("room_id", cfg.RoomID)

	u, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", cfg.ServerURL, err)
	}
	q := u.Query()
	q.Set("roomId", cfg.RoomID)
	if cfg.DisplayName != "" {
		q.Set("displayName", cfg.DisplayName)
	}
	u.RawQuery = q.Encode()

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "biooids-call")
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "biooids-call")
	if err != nil {
		return nil, fmt.Errorf("create video track: %w", err)
	}

	api := cfg.API
	if api == nil {
		se := webrtc.SettingEngine{LoggerFactory: newLoggerFactory(log)}
		api = webrtc.NewAPI(webrtc.WithSettingEngine(se))
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial signaling server: %w", err)
	}

	pongTimeout := cfg.PongTimeout
	if pongTimeout <= 0 {
		pongTimeout = defaultPongTimeout
	}
	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = pongTimeout * 9 / 10
	}

	s := &Session{
		log:          log,
		state:        callstate.NewStore(cfg.RoomID),
		conn:         conn,
		api:          api,
		iceServers:   cfg.ICEServers,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
		send:         make(chan wire.Envelope, sendQueueSize),
		done:         make(chan struct{}),
		peers:        make(map[string]*peerLink),
		audioTrack:   audio,
		videoTrack:   video,
		micEnabled:   true,
	}

	go s.writePump()
	go s.readPump()
	return s, nil
}

// State returns a snapshot of the session's view of the call.
func (s *Session) State() callstate.State { return s.state.Snapshot() }

// SelfID returns the relay-assigned identity, empty until init arrives.
func (s *Session) SelfID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfID
}

// Done is closed when the session has fully shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Leave shuts the session down. Safe to call from any goroutine, any number
// of times; later calls are no-ops.
func (s *Session) Leave() {
	s.leave.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = s.conn.Close()
		s.closeAllPeers()
		s.state.CallEnded()
		s.log.Info("left call")
	})
}

// enqueue queues an outbound envelope, giving up if the session is shutting
// down.
func (s *Session) enqueue(env wire.Envelope) bool {
	select {
	case s.send <- env:
		return true
	case <-s.done:
		return false
	}
}

func (s *Session) readPump() {
	defer s.Leave()

	_ = s.conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("signaling read error", "err", err)
			}
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.log.Warn("dropping malformed signaling message", "err", err)
			continue
		}
		s.handle(env)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case env := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.done:
			return
		}
	}
}

// handle applies one inbound envelope to the state store and runs whatever
// media-side work it implies. Handlers run on the single reader goroutine, so
// events within the connection are processed in arrival order.
func (s *Session) handle(env wire.Envelope) {
	s.state.Apply(env)

	switch env.Type {
	case wire.TypeInit:
		var p wire.InitPayload
		if err := wire.DecodePayload(env, &p); err != nil {
			s.log.Warn("malformed init", "err", err)
			return
		}
		s.mu.Lock()
		s.selfID = p.SelfID
		s.mu.Unlock()
		s.log.Info("joined call", "self_id", p.SelfID, "host_id", p.HostID, "peers", len(p.Peers))
		for _, peer := range p.Peers {
			if err := s.sendOfferTo(peer.ID); err != nil {
				s.log.Error("offer failed", "peer_id", peer.ID, "err", err)
			}
		}

	case wire.TypeUserJoined:
		// The joiner offers from its own roster; nothing to negotiate yet.

	case wire.TypeUserDisconnected:
		var p wire.UserDisconnectedPayload
		if err := wire.DecodePayload(env, &p); err != nil {
			return
		}
		s.removePeer(p.PeerID)

	case wire.TypeOffer:
		if err := s.handleOffer(env); err != nil {
			s.log.Error("offer handling failed", "peer_id", env.SenderID, "err", err)
		}

	case wire.TypeAnswer:
		if err := s.handleAnswer(env); err != nil {
			s.log.Error("answer handling failed", "peer_id", env.SenderID, "err", err)
		}

	case wire.TypeICECandidate:
		if err := s.handleCandidate(env); err != nil {
			s.log.Debug("candidate dropped", "peer_id", env.SenderID, "err", err)
		}

	case wire.TypeForceMute:
		// The host cut our exemption: stop capturing and tell the room.
		s.log.Info("force-muted by host", "host_id", env.SenderID)
		s.setMicEnabled(false)

	case wire.TypeRequestUnmute:
		s.log.Info("host asks to unmute", "host_id", env.SenderID)
	}
}

// setMicEnabled flips the local capture bit and announces it.
func (s *Session) setMicEnabled(enabled bool) {
	s.mu.Lock()
	changed := s.micEnabled != enabled
	s.micEnabled = enabled
	s.mu.Unlock()
	if !changed {
		return
	}

	s.state.SetSelfMuted(!enabled)
	s.enqueue(wire.Envelope{
		Type:    wire.TypeLocalAudioStateChanged,
		Payload: wire.MustPayload(wire.LocalAudioStatePayload{Enabled: enabled}),
	})
}

// MicrophoneEnabled reports the local capture bit.
func (s *Session) MicrophoneEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.micEnabled
}

// SetMicrophoneEnabled toggles the local microphone and notifies the room.
func (s *Session) SetMicrophoneEnabled(enabled bool) { s.setMicEnabled(enabled) }

// SendChat sends a chat message. It shows up in the local state only once
// the relay echoes it back, confirming delivery order.
func (s *Session) SendChat(text string) {
	s.enqueue(wire.Envelope{
		Type: wire.TypeChatMessage,
		Payload: wire.MustPayload(wire.ChatMessagePayload{
			Text:      text,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}),
	})
}

// SendReaction sends an ephemeral emoji reaction, echoed like chat.
func (s *Session) SendReaction(emoji string) {
	s.enqueue(wire.Envelope{
		Type:    wire.TypeReaction,
		Payload: wire.MustPayload(wire.ReactionPayload{Emoji: emoji}),
	})
}

// SetPersonalMute mutes or unmutes peerID for this viewer only. The effect
// is local; other viewers merely learn about it for display.
func (s *Session) SetPersonalMute(peerID string, muted bool) {
	s.state.SetLocalPersonalMute(peerID, muted)
	s.enqueue(wire.Envelope{
		Type:    wire.TypePersonalMuteToggle,
		Payload: wire.MustPayload(wire.PersonalMuteTogglePayload{PeerID: peerID, IsMuted: muted}),
	})
}

// ToggleMuteAll asks the relay to flip the room-wide mute. The relay ignores
// it unless this client is the current host; local state changes only when
// the confirmation comes back.
func (s *Session) ToggleMuteAll(muted bool) {
	s.enqueue(wire.Envelope{
		Type:    wire.TypeToggleMuteAll,
		Payload: wire.MustPayload(wire.MuteAllPayload{IsMuted: muted}),
	})
}

// RequestUnmute asks peerID to unmute. Host only; silently dropped otherwise.
func (s *Session) RequestUnmute(peerID string) {
	s.enqueue(wire.Envelope{Type: wire.TypeRequestUnmute, TargetID: peerID})
}

// ForceMute cuts peerID's speaking exemption. Host only.
func (s *Session) ForceMute(peerID string) {
	s.enqueue(wire.Envelope{Type: wire.TypeForceMute, TargetID: peerID})
}

// AcceptUnmuteRequest accepts the host's unmute request: the client regains
// its speaking exemption, turns its microphone back on, and announces both.
func (s *Session) AcceptUnmuteRequest() {
	s.state.GrantSelfSpeak()
	s.enqueue(wire.Envelope{Type: wire.TypeAcceptedUnmuteRequest})
	s.setMicEnabled(true)
}

// DeclineUnmute tells the current host the unmute request was declined.
func (s *Session) DeclineUnmute() {
	s.enqueue(wire.Envelope{Type: wire.TypeDeclineUnmute})
}
