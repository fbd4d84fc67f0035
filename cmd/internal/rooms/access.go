package rooms

import (
	"context"
	"errors"
	"time"
)

const (
	RoleOwner     = "owner"
	RoleModerator = "moderator"

	VisibilityPrivate = "private"
)

// CanModerate reports whether actor may ban or allowlist in roomID:
// the room owner, or anyone holding the owner or moderator role.
func CanModerate(ctx context.Context, st Store, roomID, actor string) (bool, error) {
	room, err := st.GetRoom(ctx, roomID)
	if err == nil && room.OwnerDID == actor {
		return true, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}
	role, err := st.GetRole(ctx, roomID, actor)
	if err != nil {
		return false, err
	}
	return role == RoleOwner || role == RoleModerator, nil
}

// IsOwner reports whether actor owns roomID. Unknown rooms have no owner.
func IsOwner(ctx context.Context, st Store, roomID, actor string) (bool, error) {
	room, err := st.GetRoom(ctx, roomID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return room.OwnerDID == actor, nil
}

// CheckJoin returns nil when did may join roomID. Rooms not yet indexed are open;
// bans still apply to them.
func CheckJoin(ctx context.Context, st Store, roomID, did string) error {
	banned, err := st.IsBanned(ctx, roomID, did)
	if err != nil {
		return err
	}
	if banned {
		return ErrBanned
	}

	room, err := st.GetRoom(ctx, roomID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if room.OwnerDID == did || room.Visibility != VisibilityPrivate || !room.AllowlistEnabled {
		return nil
	}
	ok, err := st.IsAllowlisted(ctx, roomID, did)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAllowlisted
	}
	return nil
}

// InSlowMode reports whether a message at createdAt arrives within the room's slow-mode
// interval after the author's previous message.
func InSlowMode(ctx context.Context, st Store, m Message) (bool, error) {
	room, err := st.GetRoom(ctx, m.RoomID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if room.SlowModeSeconds <= 0 {
		return false, nil
	}
	last, ok, err := st.PreviousMessageAt(ctx, m.RoomID, m.DID, m.CreatedAt, m.URI)
	if err != nil || !ok {
		return false, err
	}
	return m.CreatedAt.Sub(last) < time.Duration(room.SlowModeSeconds)*time.Second, nil
}
