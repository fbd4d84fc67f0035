package app

import (
	"strings"
	"testing"

	"protoimsg/cmd/internal/auth/session"
)

func TestValidateSecurityConfig(t *testing.T) {
	key := strings.Repeat("k", 32)

	t.Setenv("IMSG_TOKEN_HMAC_KEY", "")
	if err := ValidateSecurityConfig(Config{}, session.Config{}); err != nil {
		t.Fatalf("policy off: %v", err)
	}
	if err := ValidateSecurityConfig(Config{RequireTokenHMAC: true}, session.Config{}); err == nil || !strings.Contains(err.Error(), "missing") {
		t.Fatalf("expected missing key error, got %v", err)
	}

	t.Setenv("IMSG_TOKEN_HMAC_KEY", "short")
	if err := ValidateSecurityConfig(Config{RequireTokenHMAC: true}, session.Config{}); err == nil || !strings.Contains(err.Error(), "too short") {
		t.Fatalf("expected short key error, got %v", err)
	}

	t.Setenv("IMSG_TOKEN_HMAC_KEY", key)
	if err := ValidateSecurityConfig(Config{RequireTokenHMAC: true}, session.Config{}); err == nil {
		t.Fatalf("unkeyed session hasher must be refused")
	}
	if err := ValidateSecurityConfig(Config{RequireTokenHMAC: true}, session.Config{TokenHMACKey: []byte(key)}); err != nil {
		t.Fatalf("valid policy: %v", err)
	}
}
