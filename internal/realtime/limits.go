package realtime

import "time"

// Session configuration defaults and bounds (spec §4.4).
const (
	defaultMaxMessageSize = 64 << 10 // 64 KiB
	minMaxMessageSize     = 1 << 10  // 1 KiB

	defaultIdleTimeout = 60 * time.Second
	minIdleTimeout      = 5 * time.Second

	defaultPingInterval = 30 * time.Second

	defaultEnableDeflate = true
	defaultAutoPingPong  = true

	defaultWriteTimeout = 5 * time.Second
	mailboxQueueSize    = 256
)

// Config holds the per-Session knobs named in spec §4.4, with the
// documented defaults and floors applied by Normalize.
type Config struct {
	MaxMessageSize         int64
	IdleTimeout            time.Duration
	EnablePerMessageDeflate bool
	PingInterval           time.Duration
	AutoPingPong           bool
	WriteTimeout           time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize:          defaultMaxMessageSize,
		IdleTimeout:             defaultIdleTimeout,
		EnablePerMessageDeflate: defaultEnableDeflate,
		PingInterval:            defaultPingInterval,
		AutoPingPong:            defaultAutoPingPong,
		WriteTimeout:            defaultWriteTimeout,
	}
}

// Normalize enforces the documented floors: a MaxMessageSize below
// 1 KiB (including 0) is replaced by the 64 KiB default, a non-zero
// IdleTimeout below 5 s is raised to 5 s, and a non-positive
// WriteTimeout takes its default. IdleTimeout == 0 disables the idle
// timer; PingInterval == 0 disables ping.
func (c Config) Normalize() Config {
	if c.MaxMessageSize < minMaxMessageSize {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	if c.IdleTimeout != 0 && c.IdleTimeout < minIdleTimeout {
		c.IdleTimeout = minIdleTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}
