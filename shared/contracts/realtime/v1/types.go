// Package v1 defines the protoimsg realtime protocol v1 contract.
//
// Every frame is a flat JSON object discriminated by "type". The package is
// dependency-light so clients and the server share one authoritative wire shape.
// Struct tags named "validate" are evaluated by the server before dispatch.
package v1

import "time"

// Subprotocol is negotiated on the websocket upgrade when the client offers it.
const Subprotocol = "protoimsg.realtime.v1"

// Client -> server types (wire-stable).
const (
	TypeAuth                     = "auth"
	TypeJoinRoom                 = "join_room"
	TypeLeaveRoom                = "leave_room"
	TypeStatusChange             = "status_change"
	TypeRequestCommunityPresence = "request_community_presence"
	TypeRoomTyping               = "room_typing"
	TypeSyncBlocks               = "sync_blocks"
	TypeSyncCommunity            = "sync_community"
	TypeDMOpen                   = "dm_open"
	TypeDMClose                  = "dm_close"
	TypeDMSend                   = "dm_send"
	TypeDMTyping                 = "dm_typing"
	TypeDMTogglePersist          = "dm_toggle_persist"
	TypePing                     = "ping"
)

// Server -> client types (wire-stable). room_typing and dm_typing reuse the client names.
const (
	TypeAuthSuccess       = "auth_success"
	TypeError             = "error"
	TypePresence          = "presence"
	TypeRoomJoined        = "room_joined"
	TypeMessage           = "message"
	TypeCommunityPresence = "community_presence"
	TypeDMOpened          = "dm_opened"
	TypeDMMessage         = "dm_message"
	TypeDMPersistChanged  = "dm_persist_changed"
	TypeDMIncoming        = "dm_incoming"
	TypePong              = "pong"
)

// Close codes. Only the pre-auth codes and shutdown ever close a connection.
const (
	CloseAuthTimeout       = 4001
	CloseInvalidCredential = 4002
	CloseProtocolViolation = 4003
	CloseGoingAway         = 1001
)

// Error codes carried by error frames.
const (
	ErrCodeInvalidMessage = "invalid_message"
	ErrCodeRateLimited    = "rate_limited"
	ErrCodeNotFound       = "not_found"
	ErrCodeNotParticipant = "not_participant"
	ErrCodeContentBlocked = "content_blocked"
	ErrCodeTooLong        = "too_long"
	ErrCodeForbidden      = "forbidden"
	ErrCodeBlocked        = "blocked"
	ErrCodeInternal       = "internal"
)

// Limits enforced on client payloads.
const (
	MaxAwayMessageChars   = 200
	MaxPresenceRequest    = 100
	MaxBlockedDIDs        = 10000
	MaxCommunityGroups    = 20
	MaxCommunityMembers   = 100
	MaxDMTextChars        = 3000
	MaxDMPreviewChars     = 100
	MaxGroupNameChars     = 100
	MaxIdentifierBytes    = 512
	MaxConversationIDSize = 64
)

// ---- Client payloads ----

type Auth struct {
	Token string `json:"token" validate:"required,max=4096"`
}

type JoinRoom struct {
	RoomID string `json:"roomId" validate:"required,max=512"`
}

type LeaveRoom struct {
	RoomID string `json:"roomId" validate:"required,max=512"`
}

type StatusChange struct {
	Status      string `json:"status" validate:"required,oneof=online away idle"`
	AwayMessage string `json:"awayMessage,omitempty" validate:"max=200"`
	VisibleTo   string `json:"visibleTo,omitempty" validate:"omitempty,oneof=everyone community inner-circle no-one"`
}

type RequestCommunityPresence struct {
	DIDs []string `json:"dids" validate:"required,max=100,dive,did"`
}

type RoomTyping struct {
	RoomID string `json:"roomId" validate:"required,max=512"`
}

type SyncBlocks struct {
	BlockedDIDs []string `json:"blockedDids" validate:"max=10000,dive,did"`
}

type CommunityMember struct {
	DID     string `json:"did" validate:"required,did"`
	AddedAt string `json:"addedAt" validate:"required,rfc3339"`
}

type CommunityGroup struct {
	Name          string            `json:"name" validate:"required,max=100"`
	IsInnerCircle bool              `json:"isInnerCircle"`
	Members       []CommunityMember `json:"members" validate:"max=100,dive"`
}

type SyncCommunity struct {
	Groups []CommunityGroup `json:"groups" validate:"max=20,dive"`
}

type DMOpen struct {
	RecipientDID string `json:"recipientDid" validate:"required,did"`
}

type DMClose struct {
	ConversationID string `json:"conversationId" validate:"required,max=64"`
}

type DMSend struct {
	ConversationID string `json:"conversationId" validate:"required,max=64"`
	Text           string `json:"text" validate:"required"`
}

type DMTyping struct {
	ConversationID string `json:"conversationId" validate:"required,max=64"`
}

type DMTogglePersist struct {
	ConversationID string `json:"conversationId" validate:"required,max=64"`
	Persist        bool   `json:"persist"`
}

// ---- Server payloads ----

// PresenceEntry is one identity's status as observed by the receiver.
type PresenceEntry struct {
	DID         string `json:"did"`
	Status      string `json:"status"`
	AwayMessage string `json:"awayMessage,omitempty"`
}

// RoomMessage is a chat message indexed from the event stream.
type RoomMessage struct {
	URI       string    `json:"uri"`
	CID       string    `json:"cid,omitempty"`
	RoomID    string    `json:"roomId"`
	DID       string    `json:"did"`
	Text      string    `json:"text"`
	ReplyRoot string    `json:"replyRoot,omitempty"`
	ReplyTo   string    `json:"replyParent,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// DMMessage is one stored direct message.
type DMMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderDID      string    `json:"senderDid"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}

type AuthSuccess struct {
	Type   string `json:"type"`
	DID    string `json:"did"`
	Handle string `json:"handle,omitempty"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type Presence struct {
	Type string        `json:"type"`
	Data PresenceEntry `json:"data"`
}

type RoomJoined struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"roomId"`
	Members []PresenceEntry `json:"members"`
}

type Message struct {
	Type string      `json:"type"`
	Data RoomMessage `json:"data"`
}

type CommunityPresence struct {
	Type string          `json:"type"`
	Data []PresenceEntry `json:"data"`
}

type RoomTypingEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	DID    string `json:"did"`
}

type DMOpened struct {
	Type           string      `json:"type"`
	ConversationID string      `json:"conversationId"`
	RecipientDID   string      `json:"recipientDid"`
	Persist        bool        `json:"persist"`
	Messages       []DMMessage `json:"messages"`
}

type DMMessageEvent struct {
	Type string    `json:"type"`
	Data DMMessage `json:"data"`
}

type DMTypingEvent struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	SenderDID      string `json:"senderDid"`
}

type DMPersistChanged struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	Persist        bool   `json:"persist"`
	ChangedBy      string `json:"changedBy"`
}

type DMIncoming struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversationId"`
	SenderDID      string `json:"senderDid"`
	Preview        string `json:"preview"`
}

type Pong struct {
	Type string `json:"type"`
}
