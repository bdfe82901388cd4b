// Package relay implements the WebSocket signaling relay: it assigns client
// identities, maintains the room registry, and routes control messages
// between call participants.
package relay

import (
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/biooids/web-rtc-biooids/internal/metrics"
	"github.com/biooids/web-rtc-biooids/internal/origin"
	"github.com/biooids/web-rtc-biooids/internal/ratelimit"
	"github.com/biooids/web-rtc-biooids/internal/room"
	"github.com/biooids/web-rtc-biooids/internal/wire"
)

const (
	wsWriteWait = 10 * time.Second

	// DefaultDisplayName is used when a client connects without one.
	DefaultDisplayName = "Guest"
)

// Config wires together the runtime dependencies of the relay.
type Config struct {
	Logger  *slog.Logger
	Rooms   *room.Registry
	Metrics *metrics.Metrics

	// AllowedOrigins feeds the WebSocket upgrade origin check. Empty means
	// same-host only.
	AllowedOrigins []string

	MaxMessageBytes      int64
	MaxMessagesPerSecond int
	PingInterval         time.Duration
	PongTimeout          time.Duration
	SendQueueSize        int
}

// Server accepts signaling connections on a single WebSocket endpoint.
//
// The relay is message-driven: each connection has one reader goroutine whose
// handlers run to completion, so messages within one connection are relayed
// in send order. There is no cross-sender total order; concurrent mutations
// from different clients resolve last-write-wins at the registry.
type Server struct {
	log   *slog.Logger
	rooms *room.Registry
	met   *metrics.Metrics

	allowedOrigins []string

	maxMessageBytes      int64
	maxMessagesPerSecond int
	pingInterval         time.Duration
	pongTimeout          time.Duration
	sendQueueSize        int
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	rooms := cfg.Rooms
	if rooms == nil {
		rooms = room.NewRegistry()
	}
	return &Server{
		log:                  log,
		rooms:                rooms,
		met:                  cfg.Metrics,
		allowedOrigins:       cfg.AllowedOrigins,
		maxMessageBytes:      cfg.MaxMessageBytes,
		maxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		pingInterval:         cfg.PingInterval,
		pongTimeout:          cfg.PongTimeout,
		sendQueueSize:        cfg.SendQueueSize,
	}
}

// Rooms exposes the registry, mainly for tests and readiness probes.
func (s *Server) Rooms() *room.Registry { return s.rooms }

func (s *Server) maxBytes() int64 {
	if s.maxMessageBytes <= 0 {
		return 64 * 1024
	}
	return s.maxMessageBytes
}

func (s *Server) maxPerSecond() int {
	if s.maxMessagesPerSecond <= 0 {
		return 50
	}
	return s.maxMessagesPerSecond
}

func (s *Server) pongWait() time.Duration {
	if s.pongTimeout <= 0 {
		return 60 * time.Second
	}
	return s.pongTimeout
}

func (s *Server) pingPeriod() time.Duration {
	if s.pingInterval <= 0 {
		return s.pongWait() * 9 / 10
	}
	return s.pingInterval
}

func (s *Server) queueSize() int {
	if s.sendQueueSize <= 0 {
		return 256
	}
	return s.sendQueueSize
}

// HandleWebSocket upgrades a signaling connection and runs it until the
// client disconnects.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	roomID := r.URL.Query().Get("roomId")
	if roomID == "" {
		s.log.Warn("connection attempt without roomId")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "roomId is required"),
			time.Now().Add(wsWriteWait))
		_ = conn.Close()
		return
	}

	displayName := strings.TrimSpace(r.URL.Query().Get("displayName"))
	if displayName == "" {
		displayName = DefaultDisplayName
	}

	c := &client{
		srv:         s,
		conn:        conn,
		id:          uuid.NewString(),
		roomID:      roomID,
		displayName: displayName,
		send:        make(chan wire.Envelope, s.queueSize()),
		limiter: ratelimit.NewTokenBucket(ratelimit.RealClock{},
			int64(s.maxPerSecond()), int64(s.maxPerSecond())),
	}

	s.log.Info("client connected", "room_id", roomID, "client_id", c.id, "display_name", displayName)

	s.join(c)

	go c.writePump()
	c.readPump()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	raw := strings.TrimSpace(r.Header.Get("Origin"))
	if raw == "" {
		// Non-browser clients (the headless agent, tests) send no Origin.
		return true
	}
	normalized, host, ok := origin.Normalize(raw)
	return ok && origin.IsAllowed(normalized, host, r.Host, s.allowedOrigins)
}

// join registers the client, replies with init, and announces the arrival.
func (s *Server) join(c *client) {
	res := s.rooms.Join(c.roomID, &room.Member{
		ID:          c.id,
		DisplayName: c.displayName,
		Sender:      c,
	})

	if res.RoomCreated {
		s.met.Inc(metrics.RoomCreated)
	}
	s.met.Inc(metrics.ClientJoined)

	roster := res.Roster
	if roster == nil {
		roster = []wire.PeerInfo{}
	}
	c.Enqueue(wire.Envelope{
		Type: wire.TypeInit,
		Payload: wire.MustPayload(wire.InitPayload{
			SelfID:      c.id,
			Peers:       roster,
			HostID:      res.HostID,
			IsRoomMuted: res.IsRoomMuted,
		}),
	})

	joined := wire.Envelope{
		Type: wire.TypeUserJoined,
		Payload: wire.MustPayload(wire.UserJoinedPayload{
			PeerID:      c.id,
			DisplayName: c.displayName,
			HostID:      res.HostID,
		}),
	}
	for _, other := range res.Others {
		other.Sender.Enqueue(joined)
	}
}

// disconnect removes the client from its room, exactly once, regardless of
// how many paths observed the connection going away.
func (s *Server) disconnect(c *client) {
	res := s.rooms.Leave(c.roomID, c.id)
	if !res.Removed {
		return
	}
	s.met.Inc(metrics.ClientLeft)

	s.log.Info("client disconnected", "room_id", c.roomID, "client_id", c.id)

	if res.RoomDestroyed {
		s.met.Inc(metrics.RoomDestroyed)
		s.log.Info("room is empty and has been removed", "room_id", c.roomID)
		return
	}
	if res.WasHost {
		s.met.Inc(metrics.HostElected)
		s.log.Info("host re-elected", "room_id", c.roomID, "new_host_id", res.NewHostID)
	}

	gone := wire.Envelope{
		Type: wire.TypeUserDisconnected,
		Payload: wire.MustPayload(wire.UserDisconnectedPayload{
			PeerID:    c.id,
			NewHostID: res.NewHostID,
		}),
	}
	for _, m := range res.Remaining {
		m.Sender.Enqueue(gone)
	}
}

// client wraps one signaling connection.
type client struct {
	srv  *Server
	conn *websocket.Conn

	id          string
	roomID      string
	displayName string

	limiter *ratelimit.TokenBucket

	sendMu sync.Mutex
	closed bool
	send   chan wire.Envelope
}

// Enqueue queues an outbound envelope without blocking. A full queue drops
// the message: the relay is lossy by design and must never stall on a slow
// consumer.
func (c *client) Enqueue(env wire.Envelope) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- env:
		return true
	default:
		c.srv.met.Inc(metrics.SendQueueDropped)
		return false
	}
}

func (c *client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump pumps frames from the connection into the dispatcher. It is the
// only reader for the connection, so handlers run serialized per sender.
func (c *client) readPump() {
	defer func() {
		c.srv.disconnect(c)
		c.closeSend()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(c.srv.maxBytes())
	_ = c.conn.SetReadDeadline(time.Now().Add(c.srv.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.srv.pongWait()))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.srv.log.Debug("read error", "client_id", c.id, "err", err)
			}
			return
		}

		if !c.limiter.Allow(1) {
			c.srv.met.Inc(metrics.RateLimited)
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limit exceeded"),
				time.Now().Add(wsWriteWait))
			return
		}

		env, err := wire.ParseClientEnvelope(data)
		if err != nil {
			// Protocol error: drop the frame, keep the connection.
			c.srv.met.Inc(metrics.ProtocolError)
			c.srv.log.Warn("dropping malformed message", "client_id", c.id, "err", err)
			continue
		}

		// Never trust a client-supplied sender identity.
		env.SenderID = c.id

		c.srv.dispatch(c, env)
	}
}

// writePump is the only writer for the connection. It drains the send queue
// and keeps the transport alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(c.srv.pingPeriod())
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
