package records

import (
	"errors"
	"time"

	"github.com/goccy/go-json"
)

// Collections under the application namespace.
const (
	NSIDPrefix = "app.protoimsg.chat."

	CollectionRoom      = NSIDPrefix + "room"
	CollectionMessage   = NSIDPrefix + "message"
	CollectionBan       = NSIDPrefix + "ban"
	CollectionRole      = NSIDPrefix + "role"
	CollectionAllowlist = NSIDPrefix + "allowlist"
	CollectionCommunity = NSIDPrefix + "community"
	CollectionPresence  = NSIDPrefix + "presence"
)

// Known enum values. Records may carry others; callers fall back to defaults.
const (
	RoomVisibilityPublic   = "public"
	RoomVisibilityUnlisted = "unlisted"
	RoomVisibilityPrivate  = "private"

	RoleOwner     = "owner"
	RoleModerator = "moderator"
)

// Record is a validated payload for one collection.
type Record interface {
	Collection() string
}

type RoomSettings struct {
	Visibility        string `json:"visibility,omitempty"`
	MinAccountAgeDays int    `json:"minAccountAgeDays,omitempty" validate:"min=0"`
	SlowModeSeconds   int    `json:"slowModeSeconds,omitempty" validate:"min=0"`
	AllowlistEnabled  bool   `json:"allowlistEnabled,omitempty"`
}

type RoomRecord struct {
	Name        string        `json:"name" validate:"required,max=100"`
	Topic       string        `json:"topic" validate:"max=200"`
	Description string        `json:"description,omitempty" validate:"max=500"`
	Purpose     string        `json:"purpose"`
	CreatedAt   string        `json:"createdAt" validate:"required,rfc3339"`
	Settings    *RoomSettings `json:"settings,omitempty"`
}

func (RoomRecord) Collection() string { return CollectionRoom }

// EffectiveSettings applies defaults for absent settings and unknown visibility values.
func (r RoomRecord) EffectiveSettings() RoomSettings {
	s := RoomSettings{Visibility: RoomVisibilityPublic}
	if r.Settings != nil {
		s = *r.Settings
	}
	switch s.Visibility {
	case RoomVisibilityPublic, RoomVisibilityUnlisted, RoomVisibilityPrivate:
	default:
		s.Visibility = RoomVisibilityPublic
	}
	return s
}

type ByteSlice struct {
	ByteStart int `json:"byteStart" validate:"min=0"`
	ByteEnd   int `json:"byteEnd" validate:"min=0"`
}

type Facet struct {
	Index    ByteSlice         `json:"index"`
	Features []json.RawMessage `json:"features" validate:"required"`
}

type ReplyRef struct {
	Root   string `json:"root" validate:"required,aturi"`
	Parent string `json:"parent" validate:"required,aturi"`
}

type EmbedImage struct {
	Image json.RawMessage `json:"image" validate:"required"`
	Alt   string          `json:"alt" validate:"max=2000"`
}

// Embed is the union of image, video and external embeds.
type Embed struct {
	Type   string          `json:"$type,omitempty"`
	Images []EmbedImage    `json:"images,omitempty" validate:"omitempty,max=4,dive"`
	Video  json.RawMessage `json:"video,omitempty"`
	URI    *string         `json:"uri,omitempty"`
	Title  *string         `json:"title,omitempty" validate:"omitempty,max=300"`
}

var errEmbedShape = errors.New("embed matches no known shape")

func (e *Embed) check() error {
	switch {
	case e.Images != nil:
		return nil
	case len(e.Video) > 0:
		return nil
	case e.URI != nil && e.Title != nil:
		return nil
	default:
		return errEmbedShape
	}
}

type MessageRecord struct {
	Room      string    `json:"room" validate:"required,aturi"`
	Text      string    `json:"text" validate:"max=3000"`
	Facets    []Facet   `json:"facets,omitempty" validate:"omitempty,dive"`
	Reply     *ReplyRef `json:"reply,omitempty"`
	Embed     *Embed    `json:"embed,omitempty"`
	CreatedAt string    `json:"createdAt" validate:"required,rfc3339"`
}

func (MessageRecord) Collection() string { return CollectionMessage }

func (m *MessageRecord) check() error {
	if m.Embed != nil {
		return m.Embed.check()
	}
	return nil
}

type BanRecord struct {
	Room      string `json:"room" validate:"required,aturi"`
	Subject   string `json:"subject" validate:"required,did"`
	Reason    string `json:"reason,omitempty" validate:"max=300"`
	CreatedAt string `json:"createdAt" validate:"required,rfc3339"`
}

func (BanRecord) Collection() string { return CollectionBan }

type RoleRecord struct {
	Room      string `json:"room" validate:"required,aturi"`
	Subject   string `json:"subject" validate:"required,did"`
	Role      string `json:"role" validate:"required,max=64"`
	CreatedAt string `json:"createdAt" validate:"required,rfc3339"`
}

func (RoleRecord) Collection() string { return CollectionRole }

type AllowlistRecord struct {
	Room      string `json:"room" validate:"required,aturi"`
	Subject   string `json:"subject" validate:"required,did"`
	CreatedAt string `json:"createdAt" validate:"required,rfc3339"`
}

func (AllowlistRecord) Collection() string { return CollectionAllowlist }

type CommunityMember struct {
	DID     string `json:"did" validate:"required,did"`
	AddedAt string `json:"addedAt" validate:"required,rfc3339"`
}

type CommunityGroup struct {
	Name          string            `json:"name" validate:"max=100"`
	IsInnerCircle bool              `json:"isInnerCircle,omitempty"`
	Members       []CommunityMember `json:"members" validate:"required,max=500,dive"`
}

type CommunityRecord struct {
	Groups []CommunityGroup `json:"groups" validate:"required,max=50,dive"`
}

func (CommunityRecord) Collection() string { return CollectionCommunity }

type PresenceRecord struct {
	Status      string `json:"status" validate:"max=64"`
	AwayMessage string `json:"awayMessage,omitempty" validate:"max=300"`
}

func (PresenceRecord) Collection() string { return CollectionPresence }

// ParseTime parses a validated record timestamp; invalid input yields the zero time.
func ParseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
