package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	ShutdownTimeout   time.Duration

	// Empty selects in-memory room, community, DM and record stores.
	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// Empty selects in-memory presence, session and rate-limit backends.
	RedisURL       string
	RedisKeyPrefix string

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	// If true, IMSG_TOKEN_HMAC_KEY MUST be set (>= 32 bytes).
	RequireTokenHMAC bool

	// Empty disables the event stream consumer.
	FirehoseURL            string
	FirehoseReconnectDelay time.Duration

	// Regular expressions rejected by the content filter.
	FilterPatterns []string
	FilterReason   string

	// Per-identity sliding window applied to client frames.
	RateLimit  int
	RateWindow time.Duration

	// DevSessions exposes POST /v1/dev/sessions. Never enable in production.
	DevSessions bool
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("IMSG_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("IMSG_LOG_LEVEL", "info"),
		LogFormat: EnvString("IMSG_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("IMSG_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("IMSG_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("IMSG_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("IMSG_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("IMSG_HTTP_MAX_HEADER_BYTES", 1<<20),
		ShutdownTimeout:   EnvDuration("IMSG_SHUTDOWN_TIMEOUT", 10*time.Second),

		DatabaseURL: EnvString("IMSG_DATABASE_URL", ""),
		DBSchema:    EnvString("IMSG_DB_SCHEMA", "protoimsg"),
		DBMaxConns:  EnvInt32("IMSG_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("IMSG_DB_MIN_CONNS", 0),

		RedisURL:       EnvString("IMSG_REDIS_URL", ""),
		RedisKeyPrefix: EnvString("IMSG_REDIS_KEY_PREFIX", ""),

		ReadinessRequireDB: EnvBool("IMSG_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("IMSG_REQUIRE_TOKEN_HMAC", false),

		FirehoseURL:            EnvString("IMSG_FIREHOSE_URL", ""),
		FirehoseReconnectDelay: EnvDuration("IMSG_FIREHOSE_RECONNECT_DELAY", 3*time.Second),

		FilterPatterns: EnvCSV("IMSG_FILTER_PATTERNS"),
		FilterReason:   EnvString("IMSG_FILTER_REASON", ""),

		RateLimit:  EnvInt("IMSG_RATE_LIMIT", 60),
		RateWindow: EnvDuration("IMSG_RATE_WINDOW", time.Minute),

		DevSessions: EnvBool("IMSG_DEV_SESSIONS", false),
	}
}
