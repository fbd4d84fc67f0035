package realtime

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	// Max bytes per websocket frame read. sync_blocks carries up to 10k DIDs.
	wsDefaultMaxFrameBytes = 1 << 20

	wsDefaultAuthTimeout  = 5 * time.Second
	wsDefaultWriteTimeout = 5 * time.Second
	wsCloseGrace          = 1 * time.Second

	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
	wsMaxPingFailures = 3

	// Per-connection token bucket.
	rateLimitPerSecond = 10
	rateLimitBurst     = 30

	wsDefaultMaxConnsPerOrigin = 20

	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// GatewayConfig holds websocket gateway tunables.
type GatewayConfig struct {
	AuthTimeout      time.Duration
	WriteTimeout     time.Duration
	HeartbeatEvery   time.Duration
	HeartbeatTimeout time.Duration
	MaxPingFailures  int

	SendQueueSize int
	MaxFrameBytes int64

	RatePerSecond float64
	RateBurst     int

	MaxConnsPerOrigin int

	OriginRequired bool
	AllowedOrigins []string

	// TrustProxy takes the client address from X-Forwarded-For for origin accounting.
	TrustProxy bool
}

// DefaultGatewayConfig returns production defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		AuthTimeout:       wsDefaultAuthTimeout,
		WriteTimeout:      wsDefaultWriteTimeout,
		HeartbeatEvery:    heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		MaxPingFailures:   wsMaxPingFailures,
		SendQueueSize:     wsDefaultSendQueueSize,
		MaxFrameBytes:     wsDefaultMaxFrameBytes,
		RatePerSecond:     rateLimitPerSecond,
		RateBurst:         rateLimitBurst,
		MaxConnsPerOrigin: wsDefaultMaxConnsPerOrigin,
		AllowedOrigins:    splitCSV(wsDefaultAllowedOrigins),
	}
}

// LoadGatewayConfigFromEnv overlays IMSG_WS_* variables on the defaults.
// Invalid values keep the default.
func LoadGatewayConfigFromEnv() GatewayConfig {
	cfg := DefaultGatewayConfig()

	cfg.AuthTimeout = envDurationWS("IMSG_WS_AUTH_TIMEOUT", cfg.AuthTimeout)
	cfg.WriteTimeout = envDurationWS("IMSG_WS_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.HeartbeatEvery = envDurationWS("IMSG_WS_HEARTBEAT_INTERVAL", cfg.HeartbeatEvery)
	cfg.HeartbeatTimeout = envDurationWS("IMSG_WS_HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)

	cfg.SendQueueSize = envIntWS("IMSG_WS_SEND_QUEUE", cfg.SendQueueSize)
	if cfg.SendQueueSize < wsMinSendQueueSize {
		cfg.SendQueueSize = wsMinSendQueueSize
	}
	cfg.MaxFrameBytes = int64(envIntWS("IMSG_WS_MAX_FRAME_BYTES", int(cfg.MaxFrameBytes)))

	cfg.RatePerSecond = float64(envIntWS("IMSG_WS_RATE_PER_SECOND", int(cfg.RatePerSecond)))
	cfg.RateBurst = envIntWS("IMSG_WS_RATE_BURST", cfg.RateBurst)

	if v := strings.TrimSpace(os.Getenv("IMSG_WS_MAX_CONNS_PER_ORIGIN")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxConnsPerOrigin = n
		}
	}

	cfg.OriginRequired = envBoolWS("IMSG_WS_ORIGIN_REQUIRED", cfg.OriginRequired)
	if raw := strings.TrimSpace(os.Getenv("IMSG_WS_ALLOWED_ORIGINS")); raw != "" {
		cfg.AllowedOrigins = splitCSV(raw)
	}
	cfg.TrustProxy = envBoolWS("IMSG_WS_TRUST_PROXY", cfg.TrustProxy)
	return cfg
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
