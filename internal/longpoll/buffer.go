// Package longpoll implements the long-polling fallback surface
// described in spec §4.6-§4.7: bounded per-SessionId buffers with TTL
// eviction, and the bridge that mirrors WebSocket traffic into them
// and forwards HTTP-originated sends back out to WS clients.
package longpoll

import (
	"sync"
	"time"

	"chatcore/internal/metrics"
	"chatcore/internal/protocol"
)

const (
	// DefaultMaxBuffer is a conservative cap sized for a chat room's
	// worth of unread history rather than unbounded growth.
	DefaultMaxBuffer = 200
	// DefaultTTL is how long a buffer survives with no poll/push
	// activity before SweepExpired reclaims it.
	DefaultTTL = 5 * time.Minute
)

type bufferEntry struct {
	envelopes []protocol.Envelope
	lastSeen  time.Time
}

// Manager owns every per-SessionId buffer behind a single mutex,
// matching spec §4.6's "single mutex guarding the map and per-entry
// deques" guidance. It never holds the mutex across a user callback;
// callers (the Bridge) only ever see returned slices.
type Manager struct {
	mu        sync.Mutex
	buffers   map[string]*bufferEntry
	maxBuffer int
	ttl       time.Duration
	metrics   *metrics.Registry
}

// NewManager constructs a Manager with the given bound/TTL. A nil
// reg disables metrics mutation, which tests that don't care about
// counters can rely on.
func NewManager(maxBuffer int, ttl time.Duration, reg *metrics.Registry) *Manager {
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBuffer
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		buffers:   make(map[string]*bufferEntry),
		maxBuffer: maxBuffer,
		ttl:       ttl,
		metrics:   reg,
	}
}

// PushTo enqueues env into sid's buffer, creating it if absent, then
// evicts from the head until the buffer is back at its bound.
func (m *Manager) PushTo(sid string, env protocol.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buffers[sid]
	if !ok {
		b = &bufferEntry{}
		m.buffers[sid] = b
		if m.metrics != nil {
			m.metrics.LPSessionsTotal.Inc()
			m.metrics.LPSessionsActive.Inc()
		}
	}
	b.envelopes = append(b.envelopes, env)
	b.lastSeen = time.Now()

	evicted := 0
	for len(b.envelopes) > m.maxBuffer {
		b.envelopes = b.envelopes[1:]
		evicted++
	}

	if m.metrics != nil {
		m.metrics.LPMsgEnqueued.Inc()
		delta := 1 - evicted
		if delta != 0 {
			m.metrics.LPMessagesBuffered.Add(float64(delta))
		}
	}
}

// Poll drains up to max entries from the head of sid's buffer,
// preserving FIFO order, and touches lastSeen. If the buffer is
// absent and createIfMissing is false, Poll returns an empty slice
// without creating one; otherwise it is created empty on demand.
func (m *Manager) Poll(sid string, max int, createIfMissing bool) []protocol.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.LPPollsTotal.Inc()
	}

	b, ok := m.buffers[sid]
	if !ok {
		if !createIfMissing {
			return nil
		}
		b = &bufferEntry{}
		m.buffers[sid] = b
		if m.metrics != nil {
			m.metrics.LPSessionsTotal.Inc()
			m.metrics.LPSessionsActive.Inc()
		}
	}
	b.lastSeen = time.Now()

	if max <= 0 || len(b.envelopes) == 0 {
		return nil
	}
	if max > len(b.envelopes) {
		max = len(b.envelopes)
	}
	out := make([]protocol.Envelope, max)
	copy(out, b.envelopes[:max])
	b.envelopes = b.envelopes[max:]

	if m.metrics != nil {
		m.metrics.LPMsgDrained.Add(float64(max))
		m.metrics.LPMessagesBuffered.Add(float64(-max))
	}
	return out
}

// SweepExpired removes every buffer whose lastSeen is older than the
// configured TTL, updating the active-session and buffered-message
// gauges to match.
func (m *Manager) SweepExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	removedSessions := 0
	removedMessages := 0
	for sid, b := range m.buffers {
		if now.Sub(b.lastSeen) > m.ttl {
			removedMessages += len(b.envelopes)
			removedSessions++
			delete(m.buffers, sid)
		}
	}
	if m.metrics != nil && removedSessions > 0 {
		m.metrics.LPSessionsActive.Add(float64(-removedSessions))
		m.metrics.LPMessagesBuffered.Add(float64(-removedMessages))
	}
}

// Size reports the current length of sid's buffer, 0 if absent.
func (m *Manager) Size(sid string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buffers[sid]
	if !ok {
		return 0
	}
	return len(b.envelopes)
}

// Has reports whether sid currently has a live buffer entry.
func (m *Manager) Has(sid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.buffers[sid]
	return ok
}
