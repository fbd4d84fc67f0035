// Package rooms holds the durable projection of room records and everything consulted
// for room access: messages (for slow mode), moderation actions, roles and allowlists.
//
// Every write is keyed by the source record URI so re-applying a commit is a no-op.
package rooms

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("rooms: not found")
	ErrBanned          = errors.New("rooms: banned from room")
	ErrNotAllowlisted  = errors.New("rooms: not on room allowlist")
	ErrRoomIDCollision = errors.New("rooms: room id owned by another identity")
)

// ActionBan is the only moderation action indexed today.
const ActionBan = "ban"

type Room struct {
	ID                string
	URI               string
	OwnerDID          string
	Name              string
	Topic             string
	Description       string
	Purpose           string
	Visibility        string
	MinAccountAgeDays int
	SlowModeSeconds   int
	AllowlistEnabled  bool
	CreatedAt         time.Time
}

type Message struct {
	URI         string
	CID         string
	RoomID      string
	DID         string
	Text        string
	ReplyRoot   string
	ReplyParent string
	CreatedAt   time.Time
}

type ModAction struct {
	URI        string
	RoomID     string
	ActorDID   string
	SubjectDID string
	Action     string
	Reason     string
	CreatedAt  time.Time
}

type Role struct {
	URI        string
	RoomID     string
	SubjectDID string
	Role       string
	CreatedAt  time.Time
}

type AllowlistEntry struct {
	URI        string
	RoomID     string
	SubjectDID string
	CreatedAt  time.Time
}

// Store is the durable room projection.
type Store interface {
	// UpsertRoom returns ErrRoomIDCollision when id belongs to a different owner.
	UpsertRoom(ctx context.Context, r Room) error
	GetRoom(ctx context.Context, id string) (Room, error)
	DeleteRoomByURI(ctx context.Context, uri string) error

	// InsertMessage reports false when the URI was already indexed.
	InsertMessage(ctx context.Context, m Message) (bool, error)
	DeleteMessageByURI(ctx context.Context, uri string) error
	// PreviousMessageAt returns the newest time of a message by did in roomID created at or
	// before at, ignoring exceptURI.
	PreviousMessageAt(ctx context.Context, roomID, did string, at time.Time, exceptURI string) (time.Time, bool, error)

	RecordModAction(ctx context.Context, a ModAction) error
	DeleteModActionByURI(ctx context.Context, uri string) error
	IsBanned(ctx context.Context, roomID, did string) (bool, error)

	UpsertRole(ctx context.Context, r Role) error
	DeleteRoleByURI(ctx context.Context, uri string) error
	// GetRole returns "" when did holds no role in roomID.
	GetRole(ctx context.Context, roomID, did string) (string, error)

	UpsertAllowlist(ctx context.Context, e AllowlistEntry) error
	DeleteAllowlistByURI(ctx context.Context, uri string) error
	IsAllowlisted(ctx context.Context, roomID, did string) (bool, error)
}
