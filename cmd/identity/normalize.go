package identity

import "strings"

const (
	didPrefix   = "did:"
	maxDIDBytes = 2048

	// InvalidHandle is the placeholder the network emits when a handle fails verification.
	InvalidHandle = "handle.invalid"
)

// IsDID reports whether s has the shape did:<method>:<id>.
func IsDID(s string) bool {
	if len(s) > maxDIDBytes || !strings.HasPrefix(s, didPrefix) {
		return false
	}
	rest := s[len(didPrefix):]
	i := strings.IndexByte(rest, ':')
	if i <= 0 || i == len(rest)-1 {
		return false
	}
	return !strings.ContainsAny(s, " \t\r\n")
}

// NormalizeDID trims whitespace and validates the DID shape.
// The method segment is lower-cased; the method-specific id is kept verbatim.
func NormalizeDID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !IsDID(s) {
		return "", invalid("identity.NormalizeDID", "malformed did")
	}
	rest := s[len(didPrefix):]
	i := strings.IndexByte(rest, ':')
	return didPrefix + strings.ToLower(rest[:i]) + rest[i:], nil
}

// NormalizeHandle performs case-insensitive canonicalization and strips a leading "@".
func NormalizeHandle(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "@")
}

// IsValidHandle reports whether h can be shown to other users.
func IsValidHandle(h string) bool {
	h = NormalizeHandle(h)
	return h != "" && h != InvalidHandle && strings.Contains(h, ".")
}
