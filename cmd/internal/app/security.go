package app

import (
	"errors"

	"protoimsg/cmd/internal/auth/session"
	"protoimsg/cmd/security/token"
)

// ValidateSecurityConfig enforces the token hashing policy at startup. It fails fast
// rather than silently falling back to unkeyed hashes.
func ValidateSecurityConfig(cfg Config, sess session.Config) error {
	if !cfg.RequireTokenHMAC {
		return nil
	}

	if _, err := token.HMACKeyFromEnv(32); err != nil {
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: IMSG_REQUIRE_TOKEN_HMAC=true but IMSG_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return errors.New("security policy: IMSG_REQUIRE_TOKEN_HMAC=true but IMSG_TOKEN_HMAC_KEY is too short (min 32 bytes)")
		default:
			return err
		}
	}

	// The key must also reach the hasher the session service will use.
	if !token.NewHasher(sess.TokenHMACKey).Keyed() {
		return errors.New("security policy: IMSG_REQUIRE_TOKEN_HMAC=true but session token hashing is not keyed")
	}
	return nil
}
