// Package dm implements direct conversations between two identities: canonical conversation
// IDs, ephemeral and persisted lifecycles, message storage and retention.
package dm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

const (
	// HistoryLimit is the number of messages returned when a persisted conversation opens.
	HistoryLimit = 50
	// MaxMessageLength is counted in characters, not bytes.
	MaxMessageLength = 3000
	// PreviewLength bounds dm_incoming previews.
	PreviewLength = 100
	// Retention is how long persisted messages are kept.
	Retention = 7 * 24 * time.Hour
)

var (
	ErrNotFound       = errors.New("dm: conversation not found")
	ErrNotParticipant = errors.New("dm: not a participant")
	ErrSelf           = errors.New("dm: cannot open a conversation with yourself")
)

// SortPair returns the two DIDs with the lexicographically smaller one first.
func SortPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// ConversationID is the canonical ID of the unordered pair {a, b}: the first 16 hex
// characters of sha256("lo:hi").
func ConversationID(a, b string) string {
	lo, hi := SortPair(a, b)
	sum := sha256.Sum256([]byte(lo + ":" + hi))
	return hex.EncodeToString(sum[:])[:16]
}

type Conversation struct {
	ID           string
	Participant1 string
	Participant2 string
	Persist      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasParticipant reports whether did is one side of the conversation.
func (c Conversation) HasParticipant(did string) bool {
	return did != "" && (c.Participant1 == did || c.Participant2 == did)
}

// Other returns the participant that is not did.
func (c Conversation) Other(did string) string {
	if c.Participant1 == did {
		return c.Participant2
	}
	return c.Participant1
}

type Message struct {
	ID             string
	ConversationID string
	SenderDID      string
	Text           string
	CreatedAt      time.Time
}

// Store persists conversations and their messages.
type Store interface {
	// UpsertConversation creates the conversation if absent and returns its current state.
	UpsertConversation(ctx context.Context, id, p1, p2 string, now time.Time) (Conversation, error)
	GetConversation(ctx context.Context, id string) (Conversation, error)
	// InsertMessage stores m and touches the conversation's updated_at.
	InsertMessage(ctx context.Context, m Message) error
	// Messages returns up to limit of the newest messages, oldest first.
	Messages(ctx context.Context, id string, limit int) ([]Message, error)
	SetPersist(ctx context.Context, id string, persist bool, now time.Time) error
	// DeleteConversation removes the conversation and its messages.
	DeleteConversation(ctx context.Context, id string) error
	// PruneMessages deletes messages of persisted conversations created before cutoff.
	PruneMessages(ctx context.Context, cutoff time.Time) (int64, error)
	// PruneEmpty deletes persisted conversations that have no messages.
	PruneEmpty(ctx context.Context) (int64, error)
}
