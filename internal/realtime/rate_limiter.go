package realtime

import (
	"time"

	"golang.org/x/time/rate"
)

// readLimiter wraps x/time/rate's token bucket as a per-session read
// limiter.
type readLimiter struct {
	l *rate.Limiter
}

// newReadLimiter takes events per window and expresses it as a token
// bucket refilling at events/window with a burst equal to events.
func newReadLimiter(events int, window time.Duration) *readLimiter {
	if events <= 0 {
		events = 120
	}
	if window <= 0 {
		window = 10 * time.Second
	}
	r := rate.Limit(float64(events) / window.Seconds())
	return &readLimiter{l: rate.NewLimiter(r, events)}
}

func (rl *readLimiter) Allow() bool {
	return rl.l.Allow()
}
