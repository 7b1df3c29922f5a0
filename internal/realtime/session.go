package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// State is a Session's position in the Accepting → Open → Closing →
// Closed lifecycle (spec §4.4).
type State int32

const (
	StateAccepting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAccepting:
		return "accepting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type frame struct {
	kind websocket.MessageType
	data []byte
}

// Session is one accepted WebSocket connection: its mailbox (an
// ordered write queue drained by a single writer goroutine, so sends
// never need per-frame locking) and lifecycle state. Idle expiry is
// driven by the read loop's per-read deadline rather than a separate
// timer (see Server.readLoop).
//
// The write pipeline is a channel mailbox plus a dedicated writer
// goroutine: SendText/SendBinary enqueue onto the mailbox; a single
// consumer goroutine issues writes strictly in enqueue order, so
// writes never interleave without a queue-plus-in-progress-flag state
// machine.
type Session struct {
	ID     string
	conn   *websocket.Conn
	cfg    Config
	server *Server

	state atomic.Int32

	mailbox    chan frame
	writerDone chan struct{}

	closeOnce sync.Once
	done      chan struct{}

	pingFailures int
}

func newSession(id string, conn *websocket.Conn, cfg Config, server *Server) *Session {
	s := &Session{
		ID:         id,
		conn:       conn,
		cfg:        cfg.Normalize(),
		server:     server,
		mailbox:    make(chan frame, mailboxQueueSize),
		writerDone: make(chan struct{}),
		done:       make(chan struct{}),
	}
	s.state.Store(int32(StateOpen))
	return s
}

// State reports the Session's current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// SendText enqueues a text frame. Returns false if the mailbox is
// full or the Session is closing/closed, in which case the send is
// dropped silently (spec §4.4's "subsequent sends are dropped").
func (s *Session) SendText(text string) bool {
	return s.enqueue(frame{kind: websocket.MessageText, data: []byte(text)})
}

// SendBinary enqueues a binary frame.
func (s *Session) SendBinary(b []byte) bool {
	return s.enqueue(frame{kind: websocket.MessageBinary, data: b})
}

func (s *Session) enqueue(f frame) bool {
	if s.State() == StateClosing || s.State() == StateClosed {
		return false
	}
	select {
	case <-s.done:
		return false
	case s.mailbox <- f:
		return true
	default:
		if s.server != nil {
			s.server.metrics.ErrorsTotal.Inc()
		}
		return false
	}
}

// Close transitions the Session to Closing then Closed, idempotently,
// and closes the underlying connection with the given code/reason.
func (s *Session) Close(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		s.setState(StateClosing)
		close(s.done)
		_ = s.conn.Close(code, reason)
		s.setState(StateClosed)
	})
}

// runWriter drains the mailbox in order until the Session closes or
// ctx is cancelled, writing each frame with the configured timeout.
// A write error forces the Session into Closing, matching spec §4.4's
// write-error propagation policy.
func (s *Session) runWriter(ctx context.Context) {
	defer close(s.writerDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case f := <-s.mailbox:
			wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
			err := s.conn.Write(wctx, f.kind, f.data)
			cancel()
			if err != nil {
				s.server.dispatchError(s, err)
				s.Close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
			if s.server != nil {
				s.server.metrics.MessagesOutTotal.Inc()
			}
		}
	}
}

// runPing issues periodic pings when AutoPingPong is enabled, closing
// the Session after three consecutive failures.
func (s *Session) runPing(ctx context.Context) {
	if !s.cfg.AutoPingPong || s.cfg.PingInterval <= 0 {
		return
	}
	t := time.NewTicker(s.cfg.PingInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
			err := s.conn.Ping(pctx)
			cancel()
			if err != nil {
				s.pingFailures++
				if s.pingFailures >= 3 {
					s.Close(websocket.StatusGoingAway, "heartbeat failed")
					return
				}
				continue
			}
			s.pingFailures = 0
		}
	}
}
