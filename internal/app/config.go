package app

import "time"

// Config is the environment-driven runtime configuration for the
// chat core process, covering the websocket.* keys named in spec §6
// (as CHAT_WS_* env vars) plus the store, long-polling, and HTTP
// ambient knobs a deployable service carries alongside them.
type Config struct {
	HTTPAddr string
	LogLevel string
	LogPretty bool

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	WSMaxMessageSize int64
	WSIdleTimeout    time.Duration
	WSEnableDeflate  bool
	WSPingInterval   time.Duration
	WSAutoPingPong   bool

	AllowedOrigins      []string
	RequireOriginHeader bool

	StorePath string // empty => in-memory store

	LPMaxBuffer   int
	LPTTL         time.Duration
	LPSweepPeriod time.Duration
}

// LoadConfig loads Config from environment variables with documented
// defaults, one EnvXxx call per field.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("CHAT_HTTP_ADDR", "0.0.0.0:9090"),
		LogLevel:  EnvString("CHAT_LOG_LEVEL", "info"),
		LogPretty: EnvBool("CHAT_LOG_PRETTY", false),

		ReadHeaderTimeout: EnvDuration("CHAT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CHAT_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CHAT_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("CHAT_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("CHAT_HTTP_MAX_HEADER_BYTES", 1<<20),

		WSMaxMessageSize: EnvInt64("CHAT_WS_MAX_MESSAGE_SIZE", 64<<10),
		WSIdleTimeout:    EnvDuration("CHAT_WS_IDLE_TIMEOUT", 60*time.Second),
		WSEnableDeflate:  EnvBool("CHAT_WS_ENABLE_DEFLATE", true),
		WSPingInterval:   EnvDuration("CHAT_WS_PING_INTERVAL", 30*time.Second),
		WSAutoPingPong:   EnvBool("CHAT_WS_AUTO_PING_PONG", true),

		AllowedOrigins:      EnvStringSlice("CHAT_WS_ALLOWED_ORIGINS", nil),
		RequireOriginHeader: EnvBool("CHAT_WS_REQUIRE_ORIGIN", false),

		StorePath: EnvString("CHAT_STORE_PATH", ""),

		LPMaxBuffer:   EnvInt("CHAT_LP_MAX_BUFFER", 200),
		LPTTL:         EnvDuration("CHAT_LP_TTL", 5*time.Minute),
		LPSweepPeriod: EnvDuration("CHAT_LP_SWEEP_PERIOD", time.Minute),
	}
}

// WSPortValid reports whether port falls in spec §6's documented
// valid range (1024-65535).
func WSPortValid(port int) bool {
	return port >= 1024 && port <= 65535
}
