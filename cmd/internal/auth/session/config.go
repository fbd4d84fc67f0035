package session

import (
	"os"
	"strconv"
	"strings"
	"time"

	"protoimsg/cmd/security/token"
)

// Config defines all runtime configuration for the session subsystem.
type Config struct {
	// Issuer is the value set in the "iss" claim of access tokens.
	Issuer string

	// AccessTokenTTL defines the lifetime of PASETO access tokens.
	AccessTokenTTL time.Duration

	// SessionTTL is how long an opaque session token stays valid.
	SessionTTL time.Duration

	// ClockSkew defines the allowed time skew during token validation.
	ClockSkew time.Duration

	// TokenBytes is the entropy of generated session tokens.
	TokenBytes int

	// PasetoV4SecretKeyHex is the hex-encoded Ed25519 secret key used to sign
	// v4.public access tokens. Empty disables access tokens.
	PasetoV4SecretKeyHex string

	// TokenHMACKey keys the stored token hash. Empty falls back to SHA-256.
	TokenHMACKey []byte
}

// DefaultConfig returns defaults suitable for development.
func DefaultConfig() Config {
	return Config{
		Issuer:         "protoimsg",
		AccessTokenTTL: 15 * time.Minute,
		SessionTTL:     8 * time.Hour,
		ClockSkew:      30 * time.Second,
		TokenBytes:     32,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - IMSG_AUTH_ISSUER
//   - IMSG_AUTH_ACCESS_TTL
//   - IMSG_AUTH_SESSION_TTL
//   - IMSG_AUTH_CLOCK_SKEW
//   - IMSG_AUTH_TOKEN_BYTES
//   - IMSG_PASETO_V4_SECRET_KEY_HEX
//   - IMSG_TOKEN_HMAC_KEY (at least 32 bytes when set)
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("IMSG_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	durations := []struct {
		key       string
		dst       *time.Duration
		allowZero bool
	}{
		{"IMSG_AUTH_ACCESS_TTL", &cfg.AccessTokenTTL, false},
		{"IMSG_AUTH_SESSION_TTL", &cfg.SessionTTL, false},
		{"IMSG_AUTH_CLOCK_SKEW", &cfg.ClockSkew, true},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.key))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < 0 || (parsed == 0 && !d.allowZero) {
			return Config{}, ErrConfig
		}
		*d.dst = parsed
	}

	if v := strings.TrimSpace(os.Getenv("IMSG_AUTH_TOKEN_BYTES")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 32 || n > 64 {
			return Config{}, ErrConfig
		}
		cfg.TokenBytes = n
	}

	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("IMSG_PASETO_V4_SECRET_KEY_HEX"))

	if strings.TrimSpace(os.Getenv(token.HMACEnvKey)) != "" {
		key, err := token.HMACKeyFromEnv(32)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.TokenHMACKey = key
	}

	return cfg, nil
}
