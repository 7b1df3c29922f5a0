// Package realtime implements the WebSocket gateway: Session
// lifecycle, the Server (hub) that owns sessions and rooms, and the
// rate limiting and identifier helpers they depend on (spec §4.4,
// §4.5).
package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"chatcore/internal/metrics"
	"chatcore/internal/protocol"
)

// Bridge receives every successfully parsed envelope before the typed
// handler runs, mirroring LongPollingBridge::on_ws_message from the
// original C++ design.
type Bridge interface {
	OnWSMessage(env protocol.Envelope)
}

// OpenHandler, CloseHandler, ErrorHandler, MessageHandler, and
// TypedHandler are the set-once-or-overwrite handler slots spec §4.5
// names. They are not stackable: installing a new one replaces the
// old one.
type (
	OpenHandler    func(s *Session)
	CloseHandler   func(s *Session)
	ErrorHandler   func(s *Session, err error)
	MessageHandler func(s *Session, text string)
	TypedHandler   func(s *Session, env protocol.Envelope)
)

// OriginPolicy is an allow-list checked both at the HTTP layer and
// again by websocket.Accept.
type OriginPolicy struct {
	Required       bool
	AllowedOrigins []string
}

func (p OriginPolicy) patterns() []string {
	seen := make(map[string]struct{}, len(p.AllowedOrigins))
	for _, a := range p.AllowedOrigins {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	return out
}

func (p OriginPolicy) allows(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return !p.Required
	}
	if len(p.AllowedOrigins) == 0 {
		return false
	}
	host := originHostOnly(origin)
	for _, a := range p.AllowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" || a == origin {
			return true
		}
		if host != "" && host == originHostOnly(a) {
			return true
		}
	}
	return false
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := u.Hostname()
		return strings.ToLower(h)
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return strings.ToLower(s)
}

// Server owns live sessions and room membership, dispatches incoming
// messages to user-installed handlers, and fans broadcasts back out.
// Grounded on original_source's Server class: sessions_/rooms_ become
// Go maps under a single mutex instead of vectors of weak_ptr, since
// Go has no weak pointers to expire — membership is removed eagerly
// when a Session closes instead.
type Server struct {
	log     *slog.Logger
	metrics *metrics.Registry
	cfg     Config
	origin  OriginPolicy

	rateEvents int
	rateWindow time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]*room
	bridge   Bridge

	onOpen    OpenHandler
	onClose   CloseHandler
	onErr     ErrorHandler
	onMessage MessageHandler
	onTyped   TypedHandler

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewServer constructs a Server. log and reg must not be nil in
// production use; a nil log falls back to slog.Default() for tests.
func NewServer(log *slog.Logger, reg *metrics.Registry, cfg Config, origin OriginPolicy) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:        log,
		metrics:    reg,
		cfg:        cfg.Normalize(),
		origin:     origin,
		rateEvents: 120,
		rateWindow: 10 * time.Second,
		sessions:   make(map[string]*Session),
		rooms:      make(map[string]*room),
		stopCh:     make(chan struct{}),
	}
}

func (srv *Server) OnOpen(fn OpenHandler)         { srv.mu.Lock(); srv.onOpen = fn; srv.mu.Unlock() }
func (srv *Server) OnClose(fn CloseHandler)       { srv.mu.Lock(); srv.onClose = fn; srv.mu.Unlock() }
func (srv *Server) OnError(fn ErrorHandler)       { srv.mu.Lock(); srv.onErr = fn; srv.mu.Unlock() }
func (srv *Server) OnMessage(fn MessageHandler)   { srv.mu.Lock(); srv.onMessage = fn; srv.mu.Unlock() }
func (srv *Server) OnTypedMessage(fn TypedHandler) { srv.mu.Lock(); srv.onTyped = fn; srv.mu.Unlock() }

// AttachLongPollingBridge installs a non-owning bridge reference;
// subsequent successfully parsed envelopes are forwarded to it prior
// to the typed handler.
func (srv *Server) AttachLongPollingBridge(b Bridge) {
	srv.mu.Lock()
	srv.bridge = b
	srv.mu.Unlock()
}

// Start is a non-blocking lifecycle no-op today (there is no
// background worker pool to spawn beyond per-session goroutines
// created in ServeHTTP), kept as an explicit call so callers follow
// the Start/Stop/ListenBlocking shape.
func (srv *Server) Start(context.Context) error { return nil }

// Stop closes every live session and marks the Server stopped. It is
// cooperative and idempotent, mirroring engine_.stop_async() +
// join_threads() from the C++ original.
func (srv *Server) Stop(context.Context) error {
	srv.stopOnce.Do(func() {
		close(srv.stopCh)
		srv.mu.RLock()
		sessions := make([]*Session, 0, len(srv.sessions))
		for _, s := range srv.sessions {
			sessions = append(sessions, s)
		}
		srv.mu.RUnlock()
		for _, s := range sessions {
			s.Close(websocket.StatusServiceRestart, "server stopping")
		}
	})
	return nil
}

// ListenBlocking starts (trivially) and blocks until ctx is done or
// Stop is called.
func (srv *Server) ListenBlocking(ctx context.Context) error {
	if err := srv.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-srv.stopCh:
	}
	return srv.Stop(context.Background())
}

// ServeHTTP upgrades the request to a WebSocket connection and runs
// the Session's read loop until it closes. A failed handshake is
// logged and ends the request: no Session is created, and neither
// on_open nor on_error fires for it.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !srv.origin.allows(r) {
		srv.log.Info("ws.reject.origin", "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	compression := websocket.CompressionDisabled
	if srv.cfg.EnablePerMessageDeflate {
		compression = websocket.CompressionContextTakeover
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:   srv.origin.patterns(),
		CompressionMode:  compression,
	})
	if err != nil {
		srv.log.Error("ws.handshake.failed", "err", err)
		return
	}
	conn.SetReadLimit(srv.cfg.MaxMessageSize)

	id := NewSessionID()
	session := newSession(id, conn, srv.cfg, srv)

	srv.mu.Lock()
	srv.sessions[id] = session
	srv.mu.Unlock()
	if srv.metrics != nil {
		srv.metrics.ConnectionsTotal.Inc()
		srv.metrics.ConnectionsActive.Inc()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go session.runWriter(ctx)
	go session.runPing(ctx)

	srv.dispatchOpen(session)

	limiter := newReadLimiter(srv.rateEvents, srv.rateWindow)

	srv.readLoop(ctx, session, limiter)

	session.Close(websocket.StatusNormalClosure, "bye")
	<-session.writerDone

	srv.unregister(session)
	srv.dispatchClose(session)
	if srv.metrics != nil {
		srv.metrics.ConnectionsActive.Dec()
	}
}

func (srv *Server) readLoop(ctx context.Context, s *Session, limiter *readLimiter) {
	for {
		if s.State() != StateOpen {
			return
		}

		readCtx := ctx
		var cancel context.CancelFunc
		var idleDeadline bool
		if s.cfg.IdleTimeout > 0 {
			readCtx, cancel = context.WithTimeout(ctx, s.cfg.IdleTimeout)
			idleDeadline = true
		}
		mt, data, err := s.conn.Read(readCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			if idleDeadline && readCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				s.Close(websocket.StatusNormalClosure, "idle timeout")
				return
			}
			if ctx.Err() == nil {
				srv.dispatchError(s, err)
			}
			return
		}
		if mt != websocket.MessageText && mt != websocket.MessageBinary {
			continue
		}

		if srv.metrics != nil {
			srv.metrics.MessagesInTotal.Inc()
		}

		if !limiter.Allow() {
			s.Close(websocket.StatusPolicyViolation, "rate limited")
			return
		}

		text := string(data)

		srv.mu.RLock()
		onMessage := srv.onMessage
		onTyped := srv.onTyped
		bridge := srv.bridge
		srv.mu.RUnlock()

		if onMessage != nil {
			onMessage(s, text)
		}

		env, ok := protocol.Parse(text)
		if !ok {
			continue
		}

		if bridge != nil {
			bridge.OnWSMessage(env)
		}
		if onTyped != nil {
			onTyped(s, env)
		}
	}
}

func (srv *Server) dispatchOpen(s *Session) {
	srv.mu.RLock()
	fn := srv.onOpen
	srv.mu.RUnlock()
	if fn != nil {
		fn(s)
	}
}

func (srv *Server) dispatchClose(s *Session) {
	srv.mu.RLock()
	fn := srv.onClose
	srv.mu.RUnlock()
	if fn != nil {
		fn(s)
	}
}

func (srv *Server) dispatchError(s *Session, err error) {
	if srv.metrics != nil {
		srv.metrics.ErrorsTotal.Inc()
	}
	srv.mu.RLock()
	fn := srv.onErr
	srv.mu.RUnlock()
	if fn != nil {
		fn(s, err)
	}
}

func (srv *Server) unregister(s *Session) {
	srv.mu.Lock()
	delete(srv.sessions, s.ID)
	for name, rm := range srv.rooms {
		rm.leave(s.ID)
		if rm.empty() {
			delete(srv.rooms, name)
		}
	}
	srv.mu.Unlock()
}

// JoinRoom is idempotent: joining a room a session already belongs to
// has no additional effect.
func (srv *Server) JoinRoom(s *Session, room string) {
	srv.mu.Lock()
	rm := srv.rooms[room]
	if rm == nil {
		rm = newRoom()
		srv.rooms[room] = rm
	}
	srv.mu.Unlock()
	rm.join(s)
}

// LeaveRoom is a no-op if the session was not a member of room.
func (srv *Server) LeaveRoom(s *Session, room string) {
	srv.mu.Lock()
	rm := srv.rooms[room]
	srv.mu.Unlock()
	if rm == nil {
		return
	}
	rm.leave(s.ID)
	srv.mu.Lock()
	if rm.empty() {
		delete(srv.rooms, room)
	}
	srv.mu.Unlock()
}

// LeaveAllRooms removes s from every room it belongs to.
func (srv *Server) LeaveAllRooms(s *Session) {
	srv.mu.Lock()
	rooms := make([]*room, 0, len(srv.rooms))
	for _, rm := range srv.rooms {
		rooms = append(rooms, rm)
	}
	srv.mu.Unlock()
	for _, rm := range rooms {
		rm.leave(s.ID)
	}
}

// BroadcastText sends text to every live session.
func (srv *Server) BroadcastText(text string) {
	srv.mu.RLock()
	sessions := make([]*Session, 0, len(srv.sessions))
	for _, s := range srv.sessions {
		sessions = append(sessions, s)
	}
	srv.mu.RUnlock()
	for _, s := range sessions {
		s.SendText(text)
	}
}

// BroadcastJSON serializes {type, payload} and text-broadcasts it.
func (srv *Server) BroadcastJSON(typ string, payload *protocol.Map) {
	srv.BroadcastText(protocol.Serialize(protocol.Envelope{Type: typ, Payload: payload}))
}

// BroadcastRoomText sends text to every member of room only.
func (srv *Server) BroadcastRoomText(room, text string) {
	srv.mu.RLock()
	rm := srv.rooms[room]
	srv.mu.RUnlock()
	if rm == nil {
		return
	}
	rm.broadcastText(text)
}

// BroadcastRoomJSON serializes {type, payload} and room-broadcasts it.
func (srv *Server) BroadcastRoomJSON(room, typ string, payload *protocol.Map) {
	srv.BroadcastRoomText(room, protocol.Serialize(protocol.Envelope{Room: room, Type: typ, Payload: payload}))
}
