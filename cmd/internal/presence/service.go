package presence

import (
	"context"
	"fmt"
	"log/slog"
)

// Relations answers community-list questions from the presence owner's perspective.
type Relations interface {
	IsCommunityMember(ctx context.Context, owner, did string) (bool, error)
	IsInnerCircle(ctx context.Context, owner, did string) (bool, error)
}

// BlockChecker reports whether blocker's list contains target.
type BlockChecker interface {
	DoesBlock(blocker, target string) bool
}

// Observed is what a viewer is allowed to see about one identity.
type Observed struct {
	DID         string
	Status      Status
	AwayMessage string
}

// Service applies connection lifecycle and visibility rules on top of a Tracker.
type Service struct {
	tracker Tracker
	rel     Relations
	blocks  BlockChecker
	log     *slog.Logger
}

func NewService(tracker Tracker, rel Relations, blocks BlockChecker, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{tracker: tracker, rel: rel, blocks: blocks, log: log}
}

// Tracker exposes the underlying backend for read-only callers.
func (s *Service) Tracker() Tracker { return s.tracker }

// Connect marks did online.
func (s *Service) Connect(ctx context.Context, did string) error {
	return s.tracker.SetOnline(ctx, did)
}

// Disconnect marks did offline and returns the rooms it was in so callers can broadcast.
func (s *Service) Disconnect(ctx context.Context, did string) ([]string, error) {
	rooms, err := s.tracker.UserRooms(ctx, did)
	if err != nil {
		s.log.Warn("presence.disconnect.rooms.fail", "did", did, "err", err)
	}
	if err := s.tracker.SetOffline(ctx, did); err != nil {
		return rooms, err
	}
	return rooms, nil
}

// ChangeStatus applies a client status change and returns the resulting record.
func (s *Service) ChangeStatus(ctx context.Context, did string, status Status, awayMessage string, visibility Visibility) (Record, error) {
	if err := s.tracker.SetStatus(ctx, did, status, awayMessage, visibility); err != nil {
		return Record{}, err
	}
	return s.tracker.Presence(ctx, did)
}

func (s *Service) JoinRoom(ctx context.Context, did, roomID string) error {
	return s.tracker.JoinRoom(ctx, did, roomID)
}

func (s *Service) LeaveRoom(ctx context.Context, did, roomID string) error {
	return s.tracker.LeaveRoom(ctx, did, roomID)
}

func (s *Service) Presence(ctx context.Context, did string) (Record, error) {
	return s.tracker.Presence(ctx, did)
}

func (s *Service) UserRooms(ctx context.Context, did string) ([]string, error) {
	return s.tracker.UserRooms(ctx, did)
}

// Public is the room-facing view of a record: membership in a room is already public,
// so only invisibility hides the raw status.
func Public(did string, rec Record) Observed {
	st := rec.Status
	if st == StatusInvisible {
		st = StatusOffline
	}
	return Observed{DID: did, Status: st, AwayMessage: awayMessageFor(st, rec.AwayMessage)}
}

// Observe resolves what viewer sees of owner's record. Only the owner's block list is
// consulted: a block by the owner hides the owner from the blocked viewer.
func (s *Service) Observe(ctx context.Context, owner string, rec Record, viewer string) (Observed, error) {
	if owner == viewer {
		return Observed{DID: owner, Status: rec.Status, AwayMessage: rec.AwayMessage}, nil
	}
	hidden := Observed{DID: owner, Status: StatusOffline}
	if rec.Status == StatusOffline || rec.Status == StatusInvisible {
		return hidden, nil
	}
	if s.blocks != nil && s.blocks.DoesBlock(owner, viewer) {
		return hidden, nil
	}

	var member, inner bool
	var err error
	switch rec.Visibility {
	case VisibleCommunity:
		if s.rel != nil {
			member, err = s.rel.IsCommunityMember(ctx, owner, viewer)
		}
	case VisibleInnerCircle:
		if s.rel != nil {
			inner, err = s.rel.IsInnerCircle(ctx, owner, viewer)
		}
	}
	if err != nil {
		return hidden, fmt.Errorf("presence: relation lookup: %w", err)
	}

	st := Resolve(rec.Visibility, rec.Status, member, inner)
	return Observed{DID: owner, Status: st, AwayMessage: awayMessageFor(st, rec.AwayMessage)}, nil
}

// ObserveMany reads and resolves presence for dids as seen by viewer, preserving input order.
// A failed relation lookup hides that identity rather than failing the batch.
func (s *Service) ObserveMany(ctx context.Context, viewer string, dids []string) ([]Observed, error) {
	recs, err := s.tracker.BulkPresence(ctx, dids)
	if err != nil {
		return nil, err
	}
	out := make([]Observed, 0, len(dids))
	for _, did := range dids {
		obs, err := s.Observe(ctx, did, recs[did], viewer)
		if err != nil {
			s.log.Warn("presence.observe.fail", "did", did, "viewer", viewer, "err", err)
		}
		out = append(out, obs)
	}
	return out, nil
}

// RoomMembers returns the public view of every identity present in roomID.
func (s *Service) RoomMembers(ctx context.Context, roomID string) ([]Observed, error) {
	dids, err := s.tracker.RoomMembers(ctx, roomID)
	if err != nil {
		return nil, err
	}
	recs, err := s.tracker.BulkPresence(ctx, dids)
	if err != nil {
		return nil, err
	}
	out := make([]Observed, 0, len(dids))
	for _, did := range dids {
		out = append(out, Public(did, recs[did]))
	}
	return out, nil
}
