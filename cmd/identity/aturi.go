package identity

import "strings"

const atScheme = "at://"

// ATURI addresses a single record in an identity's repository.
type ATURI struct {
	Authority  string
	Collection string
	RKey       string
}

// String formats the URI as at://{authority}/{collection}/{rkey}.
func (u ATURI) String() string {
	return FormatATURI(u.Authority, u.Collection, u.RKey)
}

// FormatATURI builds the stable URI for a record.
func FormatATURI(did, collection, rkey string) string {
	return atScheme + did + "/" + collection + "/" + rkey
}

// ParseATURI splits a record URI into its authority, collection and record key.
func ParseATURI(s string) (ATURI, error) {
	if !strings.HasPrefix(s, atScheme) {
		return ATURI{}, invalid("identity.ParseATURI", "missing at:// scheme")
	}
	parts := strings.Split(strings.TrimPrefix(s, atScheme), "/")
	if len(parts) != 3 {
		return ATURI{}, invalid("identity.ParseATURI", "expected authority/collection/rkey")
	}
	for _, p := range parts {
		if p == "" {
			return ATURI{}, invalid("identity.ParseATURI", "empty segment")
		}
	}
	return ATURI{Authority: parts[0], Collection: parts[1], RKey: parts[2]}, nil
}

// RecordKey returns the last path segment of an AT-URI.
// Rooms are addressed by the record key of their room record.
func RecordKey(uri string) string {
	if i := strings.LastIndexByte(uri, '/'); i >= 0 {
		return uri[i+1:]
	}
	return uri
}
