// Package firehose consumes the Jetstream-compatible commit stream, validates each record and
// applies it to the durable projections, handing room messages and account changes to the
// realtime layer.
package firehose

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// Event kinds.
const (
	KindCommit   = "commit"
	KindIdentity = "identity"
	KindAccount  = "account"
)

// Commit operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

type Event struct {
	DID      string        `json:"did"`
	TimeUS   int64         `json:"time_us"`
	Kind     string        `json:"kind"`
	Commit   *Commit       `json:"commit,omitempty"`
	Identity *IdentityInfo `json:"identity,omitempty"`
	Account  *AccountInfo  `json:"account,omitempty"`
}

type Commit struct {
	Rev        string          `json:"rev"`
	Operation  string          `json:"operation"`
	Collection string          `json:"collection"`
	RKey       string          `json:"rkey"`
	Record     json.RawMessage `json:"record,omitempty"`
	CID        string          `json:"cid,omitempty"`
}

type IdentityInfo struct {
	DID    string `json:"did"`
	Handle string `json:"handle,omitempty"`
	Seq    int64  `json:"seq"`
	Time   string `json:"time"`
}

type AccountInfo struct {
	Active bool   `json:"active"`
	DID    string `json:"did"`
	Seq    int64  `json:"seq"`
	Time   string `json:"time"`
	Status string `json:"status,omitempty"`
}

var ErrMalformedEvent = errors.New("firehose: malformed event")

// DecodeEvent parses one stream frame.
func DecodeEvent(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if ev.DID == "" || ev.Kind == "" {
		return Event{}, fmt.Errorf("%w: missing did or kind", ErrMalformedEvent)
	}
	return ev, nil
}
