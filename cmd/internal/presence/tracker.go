package presence

import "context"

// Tracker stores presence records plus the identity->rooms and room->identities indexes.
//
// Both indexes are maintained together. SetStatus and JoinRoom are no-ops for
// identities that are not online. Implementations must be safe for concurrent use
// and behave identically so the backend can be chosen at startup.
type Tracker interface {
	// SetOnline creates or refreshes the record; visibility defaults only on creation.
	SetOnline(ctx context.Context, did string) error
	// SetOffline removes the record and the identity from every room index.
	SetOffline(ctx context.Context, did string) error
	// SetStatus updates status and away message; an empty visibility leaves it unchanged.
	SetStatus(ctx context.Context, did string, status Status, awayMessage string, visibility Visibility) error
	JoinRoom(ctx context.Context, did, roomID string) error
	LeaveRoom(ctx context.Context, did, roomID string) error

	Presence(ctx context.Context, did string) (Record, error)
	BulkPresence(ctx context.Context, dids []string) (map[string]Record, error)
	UserRooms(ctx context.Context, did string) ([]string, error)
	RoomMembers(ctx context.Context, roomID string) ([]string, error)
	OnlineUsers(ctx context.Context) ([]string, error)
}
