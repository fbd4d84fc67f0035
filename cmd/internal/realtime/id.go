package realtime

import (
	"time"

	"protoimsg/cmd/identity/ids"
)

// NewConnID returns a ULID used as websocket connection id in logs.
func NewConnID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
