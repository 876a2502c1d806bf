package api

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-sim/internal/auth"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-sim/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-sim/internal/recorder"
)

// Stream frame types.
const (
	FrameEvent       = "event"
	FrameAck         = "ack"
	FramePong        = "pong"
	FrameError       = "error"
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	framePing        = "ping"
)

const (
	streamBuffer        = 256
	maxStreamSessions   = 256
	maxDroppedFrames    = 64
	defaultPingInterval = 30 * time.Second
	defaultPongWait     = 10 * time.Second
	closeGrace          = time.Second
)

// streamChannels are the channels a session may subscribe to.
var streamChannels = []string{recorder.ChannelTick, recorder.ChannelCommand, recorder.ChannelRun}

// Frame is one message on the tick stream, in either direction.
//
// Server events carry Seq, a hub-wide counter that lets a client detect
// frames dropped while it was too slow to keep up.
type Frame struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	Channel  string   `json:"channel,omitempty"`
	Seq      uint64   `json:"seq,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Data     any      `json:"data,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// Hub fans recorder output out to stream sessions.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu       sync.RWMutex
	sessions map[uint64]*session
	nextID   atomic.Uint64
	seq      atomic.Uint64
}

var _ recorder.Broadcaster = (*Hub)(nil)

type session struct {
	id      uint64
	hub     *Hub
	conn    *websocket.Conn
	out     chan []byte
	done    chan struct{}
	subject string

	mu       sync.RWMutex
	channels map[string]struct{}
	dropped  atomic.Int32
	closed   atomic.Bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	// Origins are policed by the CORS middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub returns an empty hub. Run must be called for shutdown to close
// sessions.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[uint64]*session),
	}
}

// Run blocks until ctx is done, then closes every session.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	sessions := make([]*session, 0, len(h.sessions))
	for id, s := range h.sessions {
		sessions = append(sessions, s)
		delete(h.sessions, id)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.shutdown(websocket.CloseGoingAway, "server stopping")
	}
}

// ClientCount returns the number of open sessions.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Broadcast implements recorder.Broadcaster. The payload is encoded once
// and queued on every session subscribed to channel. A session that falls
// maxDroppedFrames behind is disconnected.
func (h *Hub) Broadcast(channel string, payload any) {
	data, err := json.Marshal(Frame{
		Type:    FrameEvent,
		Channel: channel,
		Seq:     h.seq.Add(1),
		Data:    payload,
	})
	if err != nil {
		h.logger.Error("encoding stream frame", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s.subscribed(channel) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if s.enqueue(data) {
			continue
		}
		if s.dropped.Add(1) >= maxDroppedFrames {
			h.logger.Warn("evicting slow stream session", "session", s.id, "subject", s.subject)
			h.remove(s)
			s.shutdown(websocket.ClosePolicyViolation, "too slow")
		}
	}
}

// add registers s unless the hub is full.
func (h *Hub) add(s *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.sessions) >= maxStreamSessions {
		return false
	}
	h.sessions[s.id] = s
	return true
}

func (h *Hub) remove(s *session) {
	h.mu.Lock()
	delete(h.sessions, s.id)
	n := len(h.sessions)
	h.mu.Unlock()
	h.logger.Debug("stream session closed", "session", s.id, "sessions", n)
}

func (h *Hub) pingInterval() time.Duration {
	if h.cfg.PingInterval <= 0 {
		return defaultPingInterval
	}
	return time.Duration(h.cfg.PingInterval) * time.Second
}

func (h *Hub) pongWait() time.Duration {
	if h.cfg.PongTimeout <= 0 {
		return defaultPongWait
	}
	return time.Duration(h.cfg.PongTimeout) * time.Second
}

// handleWebSocket upgrades to a tick stream session. With auth enabled a
// single-use ticket from POST /auth/ws-ticket is required. The channels
// query parameter subscribes on connect, e.g. ?channels=tick,run.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	entry := ticketEntry{subject: "anonymous", role: auth.RoleAdmin}
	if s.cfg.Auth.Enabled {
		ticket := r.URL.Query().Get("ticket")
		if ticket == "" {
			writeUnauthorized(w, "ticket query parameter is required")
			return
		}
		var ok bool
		if entry, ok = s.tickets.consume(ticket); !ok {
			writeUnauthorized(w, "invalid or expired ticket")
			return
		}
	}
	if !auth.HasPermission(entry.role, auth.PermStateRead) {
		writeForbidden(w, "requires "+string(auth.PermStateRead))
		return
	}

	initial, bad := parseChannels(strings.Split(r.URL.Query().Get("channels"), ","))
	if len(bad) > 0 {
		writeBadRequest(w, "unknown channels: "+strings.Join(bad, ", "))
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	hub := s.Hub()
	sess := &session{
		id:       hub.nextID.Add(1),
		hub:      hub,
		conn:     conn,
		out:      make(chan []byte, streamBuffer),
		done:     make(chan struct{}),
		subject:  entry.subject,
		channels: make(map[string]struct{}, len(initial)),
	}
	for _, ch := range initial {
		sess.channels[ch] = struct{}{}
	}
	if !hub.add(sess) {
		sess.shutdown(websocket.CloseTryAgainLater, "too many sessions")
		return
	}
	s.logger.Debug("stream session opened", "session", sess.id, "subject", sess.subject, "channels", initial)

	go sess.writeLoop()
	go sess.readLoop(int64(s.wsCfg.MaxMessageSize))
}

// parseChannels splits names into known channels and unknown ones.
// Blank names are ignored.
func parseChannels(names []string) (known, unknown []string) {
	for _, n := range names {
		n = strings.TrimSpace(n)
		switch {
		case n == "":
		case slices.Contains(streamChannels, n):
			known = append(known, n)
		default:
			unknown = append(unknown, n)
		}
	}
	return known, unknown
}

func (s *session) subscribed(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.channels[channel]
	return ok
}

// enqueue queues data without blocking. It reports false when the buffer
// is full or the session is gone.
func (s *session) enqueue(data []byte) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.out <- data:
		s.dropped.Store(0)
		return true
	default:
		return false
	}
}

func (s *session) reply(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	s.enqueue(data)
}

// shutdown sends a close frame and releases the connection. Only the
// first call has an effect.
func (s *session) shutdown(code int, reason string) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.done)
	//nolint:errcheck // peer may already be gone
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(closeGrace))
	s.conn.Close()
}

func (s *session) readLoop(limit int64) {
	defer func() {
		s.hub.remove(s)
		s.shutdown(websocket.CloseNormalClosure, "")
	}()

	deadline := s.hub.pingInterval() + s.hub.pongWait()
	if limit > 0 {
		s.conn.SetReadLimit(limit)
	}
	//nolint:errcheck // a failed deadline surfaces on the next read
	s.conn.SetReadDeadline(time.Now().Add(deadline))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.hub.logger.Debug("stream read failed", "session", s.id, "error", err)
			}
			return
		}
		//nolint:errcheck // a failed deadline surfaces on the next read
		s.conn.SetReadDeadline(time.Now().Add(deadline))
		s.handle(msg)
	}
}

func (s *session) writeLoop() {
	ping := time.NewTicker(s.hub.pingInterval())
	defer ping.Stop()
	wait := s.hub.pongWait()

	for {
		select {
		case <-s.done:
			return
		case data := <-s.out:
			//nolint:errcheck // write error reported below
			s.conn.SetWriteDeadline(time.Now().Add(wait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			//nolint:errcheck // write error reported below
			s.conn.SetWriteDeadline(time.Now().Add(wait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *session) handle(msg []byte) {
	var in Frame
	if err := json.Unmarshal(msg, &in); err != nil {
		s.reply(Frame{Type: FrameError, Error: "invalid JSON"})
		return
	}

	switch in.Type {
	case framePing:
		s.reply(Frame{Type: FramePong, ID: in.ID})
	case frameSubscribe, frameUnsubscribe:
		known, unknown := parseChannels(in.Channels)
		if len(unknown) > 0 {
			s.reply(Frame{Type: FrameError, ID: in.ID, Error: "unknown channels: " + strings.Join(unknown, ", ")})
			return
		}
		s.mu.Lock()
		for _, ch := range known {
			if in.Type == frameSubscribe {
				s.channels[ch] = struct{}{}
			} else {
				delete(s.channels, ch)
			}
		}
		current := make([]string, 0, len(s.channels))
		for ch := range s.channels {
			current = append(current, ch)
		}
		s.mu.Unlock()
		slices.Sort(current)
		s.reply(Frame{Type: FrameAck, ID: in.ID, Channels: current})
	default:
		s.reply(Frame{Type: FrameError, ID: in.ID, Error: "unknown frame type " + in.Type})
	}
}
