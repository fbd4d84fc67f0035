package firehose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"protoimsg/cmd/identity"
	"protoimsg/cmd/internal/community"
	"protoimsg/cmd/internal/moderation"
	"protoimsg/cmd/internal/records"
	"protoimsg/cmd/internal/rooms"
	v1 "protoimsg/shared/contracts/realtime/v1"
)

// Sessions is the part of the session store the stream needs.
type Sessions interface {
	HasIdentity(ctx context.Context, did string) (bool, error)
	UpdateHandle(ctx context.Context, did, handle string) error
	RevokeByIdentity(ctx context.Context, did string) (int, error)
}

// Sink delivers stream effects to live connections.
type Sink interface {
	// RoomMessage fans a freshly indexed message out to the room's subscribers.
	RoomMessage(ctx context.Context, roomID string, msg v1.RoomMessage)
	// IdentityDeactivated forces the identity offline and closes its connections.
	IdentityDeactivated(ctx context.Context, did string)
}

// BanList answers global ban lookups.
type BanList interface {
	IsBanned(did string) bool
}

// Deps are the collaborators an Indexer writes to. Records, Rooms and Community are required.
type Deps struct {
	Records   RecordStore
	Rooms     rooms.Store
	Community community.Store
	Filter    moderation.ContentFilter
	Bans      BanList
	Sessions  Sessions
	Sink      Sink
	Log       *slog.Logger
	Now       func() time.Time
}

// Indexer applies decoded events to the projections.
type Indexer struct {
	d Deps
}

func NewIndexer(d Deps) (*Indexer, error) {
	if d.Records == nil || d.Rooms == nil || d.Community == nil {
		return nil, errors.New("firehose: records, rooms and community stores are required")
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Indexer{d: d}, nil
}

// Apply handles one event. Errors are returned for logging; the stream keeps going.
func (ix *Indexer) Apply(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case KindCommit:
		return ix.applyCommit(ctx, ev)
	case KindIdentity:
		return ix.applyIdentity(ctx, ev)
	case KindAccount:
		return ix.applyAccount(ctx, ev)
	default:
		return nil
	}
}

func (ix *Indexer) applyIdentity(ctx context.Context, ev Event) error {
	if ev.Identity == nil || ix.d.Sessions == nil {
		return nil
	}
	handle := identity.NormalizeHandle(ev.Identity.Handle)
	if handle == "" || handle == identity.InvalidHandle {
		return nil
	}
	ok, err := ix.d.Sessions.HasIdentity(ctx, ev.DID)
	if err != nil {
		return fmt.Errorf("identity lookup: %w", err)
	}
	if !ok {
		return nil
	}
	if err := ix.d.Sessions.UpdateHandle(ctx, ev.DID, handle); err != nil {
		return fmt.Errorf("update handle: %w", err)
	}
	ix.d.Log.Info("firehose.identity.update", "did", ev.DID, "handle", handle)
	return nil
}

func (ix *Indexer) applyAccount(ctx context.Context, ev Event) error {
	if ev.Account == nil || ev.Account.Active {
		return nil
	}
	revoked := 0
	if ix.d.Sessions != nil {
		n, err := ix.d.Sessions.RevokeByIdentity(ctx, ev.DID)
		if err != nil {
			return fmt.Errorf("revoke sessions: %w", err)
		}
		revoked = n
	}
	if ix.d.Sink != nil {
		ix.d.Sink.IdentityDeactivated(ctx, ev.DID)
	}
	if revoked > 0 {
		status := ev.Account.Status
		if status == "" {
			status = "deactivated"
		}
		ix.d.Log.Info("firehose.account.deactivated", "did", ev.DID, "status", status, "sessions", revoked)
	}
	return nil
}

func (ix *Indexer) applyCommit(ctx context.Context, ev Event) error {
	c := ev.Commit
	if c == nil || !records.InNamespace(c.Collection) || c.RKey == "" {
		return nil
	}
	uri := identity.FormatATURI(ev.DID, c.Collection, c.RKey)

	if c.Operation == OpDelete {
		if err := ix.d.Records.DeleteRecord(ctx, uri); err != nil {
			return fmt.Errorf("delete record: %w", err)
		}
		return ix.deleteProjection(ctx, ev.DID, c.Collection, uri)
	}
	if c.Operation != OpCreate && c.Operation != OpUpdate {
		return nil
	}
	if len(c.Record) == 0 {
		return nil
	}

	rec, err := records.Validate(c.Collection, c.Record)
	if errors.Is(err, records.ErrUnknownCollection) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := ix.d.Records.UpsertRecord(ctx, StoredRecord{
		URI:        uri,
		DID:        ev.DID,
		Collection: c.Collection,
		RKey:       c.RKey,
		CID:        c.CID,
		Record:     c.Record,
		IndexedAt:  ix.d.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}

	switch r := rec.(type) {
	case *records.RoomRecord:
		return ix.room(ctx, ev.DID, c.RKey, uri, r)
	case *records.MessageRecord:
		return ix.message(ctx, ev.DID, uri, c.CID, r)
	case *records.BanRecord:
		return ix.ban(ctx, ev.DID, uri, r)
	case *records.RoleRecord:
		return ix.role(ctx, ev.DID, uri, r)
	case *records.AllowlistRecord:
		return ix.allowlist(ctx, ev.DID, uri, r)
	case *records.CommunityRecord:
		return ix.community(ctx, ev.DID, r)
	case *records.PresenceRecord:
		ix.d.Log.Debug("firehose.presence.record", "did", ev.DID, "rkey", c.RKey, "status", r.Status)
	}
	return nil
}

func (ix *Indexer) deleteProjection(ctx context.Context, did, collection, uri string) error {
	var err error
	switch collection {
	case records.CollectionRoom:
		err = ix.d.Rooms.DeleteRoomByURI(ctx, uri)
	case records.CollectionMessage:
		err = ix.d.Rooms.DeleteMessageByURI(ctx, uri)
	case records.CollectionBan:
		err = ix.d.Rooms.DeleteModActionByURI(ctx, uri)
	case records.CollectionRole:
		err = ix.d.Rooms.DeleteRoleByURI(ctx, uri)
	case records.CollectionAllowlist:
		err = ix.d.Rooms.DeleteAllowlistByURI(ctx, uri)
	case records.CollectionCommunity:
		err = ix.d.Community.Delete(ctx, did)
	}
	if err != nil {
		return fmt.Errorf("delete %s: %w", collection, err)
	}
	return nil
}

func (ix *Indexer) room(ctx context.Context, did, rkey, uri string, r *records.RoomRecord) error {
	s := r.EffectiveSettings()
	err := ix.d.Rooms.UpsertRoom(ctx, rooms.Room{
		ID:                rkey,
		URI:               uri,
		OwnerDID:          did,
		Name:              r.Name,
		Topic:             r.Topic,
		Description:       r.Description,
		Purpose:           r.Purpose,
		Visibility:        s.Visibility,
		MinAccountAgeDays: s.MinAccountAgeDays,
		SlowModeSeconds:   s.SlowModeSeconds,
		AllowlistEnabled:  s.AllowlistEnabled,
		CreatedAt:         records.ParseTime(r.CreatedAt),
	})
	if errors.Is(err, rooms.ErrRoomIDCollision) {
		ix.d.Log.Warn("firehose.room.collision", "did", did, "room_id", rkey)
		return nil
	}
	return err
}

func (ix *Indexer) message(ctx context.Context, did, uri, cid string, r *records.MessageRecord) error {
	if ix.d.Filter != nil {
		if v := ix.d.Filter.Classify(r.Text); !v.Passed {
			ix.d.Log.Info("firehose.message.filtered", "did", did, "uri", uri, "reason", v.Reason)
			return nil
		}
	}

	msg := rooms.Message{
		URI:       uri,
		CID:       cid,
		RoomID:    identity.RecordKey(r.Room),
		DID:       did,
		Text:      r.Text,
		CreatedAt: records.ParseTime(r.CreatedAt),
	}
	if r.Reply != nil {
		msg.ReplyRoot, msg.ReplyParent = r.Reply.Root, r.Reply.Parent
	}

	deliver := true
	if ix.d.Bans != nil && ix.d.Bans.IsBanned(did) {
		deliver = false
	}
	if deliver {
		banned, err := ix.d.Rooms.IsBanned(ctx, msg.RoomID, did)
		if err != nil {
			return fmt.Errorf("ban lookup: %w", err)
		}
		deliver = !banned
	}
	if deliver {
		slow, err := rooms.InSlowMode(ctx, ix.d.Rooms, msg)
		if err != nil {
			return fmt.Errorf("slow mode lookup: %w", err)
		}
		if slow {
			ix.d.Log.Info("firehose.message.slowmode", "did", did, "room_id", msg.RoomID)
			deliver = false
		}
	}

	inserted, err := ix.d.Rooms.InsertMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if !inserted || !deliver || ix.d.Sink == nil {
		return nil
	}
	ix.d.Sink.RoomMessage(ctx, msg.RoomID, v1.RoomMessage{
		URI:       msg.URI,
		CID:       msg.CID,
		RoomID:    msg.RoomID,
		DID:       msg.DID,
		Text:      msg.Text,
		ReplyRoot: msg.ReplyRoot,
		ReplyTo:   msg.ReplyParent,
		CreatedAt: msg.CreatedAt,
	})
	return nil
}

func (ix *Indexer) ban(ctx context.Context, actor, uri string, r *records.BanRecord) error {
	roomID := identity.RecordKey(r.Room)
	ok, err := rooms.CanModerate(ctx, ix.d.Rooms, roomID, actor)
	if err != nil {
		return fmt.Errorf("moderator lookup: %w", err)
	}
	if !ok {
		ix.d.Log.Warn("firehose.ban.unauthorized", "actor", actor, "room_id", roomID, "subject", r.Subject)
		return nil
	}
	return ix.d.Rooms.RecordModAction(ctx, rooms.ModAction{
		URI:        uri,
		RoomID:     roomID,
		ActorDID:   actor,
		SubjectDID: r.Subject,
		Action:     rooms.ActionBan,
		Reason:     r.Reason,
		CreatedAt:  records.ParseTime(r.CreatedAt),
	})
}

func (ix *Indexer) role(ctx context.Context, actor, uri string, r *records.RoleRecord) error {
	roomID := identity.RecordKey(r.Room)
	ok, err := rooms.IsOwner(ctx, ix.d.Rooms, roomID, actor)
	if err != nil {
		return fmt.Errorf("owner lookup: %w", err)
	}
	if !ok {
		ix.d.Log.Warn("firehose.role.unauthorized", "actor", actor, "room_id", roomID, "subject", r.Subject)
		return nil
	}
	return ix.d.Rooms.UpsertRole(ctx, rooms.Role{
		URI:        uri,
		RoomID:     roomID,
		SubjectDID: r.Subject,
		Role:       r.Role,
		CreatedAt:  records.ParseTime(r.CreatedAt),
	})
}

func (ix *Indexer) allowlist(ctx context.Context, actor, uri string, r *records.AllowlistRecord) error {
	roomID := identity.RecordKey(r.Room)
	ok, err := rooms.CanModerate(ctx, ix.d.Rooms, roomID, actor)
	if err != nil {
		return fmt.Errorf("moderator lookup: %w", err)
	}
	if !ok {
		ix.d.Log.Warn("firehose.allowlist.unauthorized", "actor", actor, "room_id", roomID, "subject", r.Subject)
		return nil
	}
	return ix.d.Rooms.UpsertAllowlist(ctx, rooms.AllowlistEntry{
		URI:        uri,
		RoomID:     roomID,
		SubjectDID: r.Subject,
		CreatedAt:  records.ParseTime(r.CreatedAt),
	})
}

func (ix *Indexer) community(ctx context.Context, owner string, r *records.CommunityRecord) error {
	groups := make([]community.Group, 0, len(r.Groups))
	for _, g := range r.Groups {
		members := make([]community.Member, 0, len(g.Members))
		for _, m := range g.Members {
			members = append(members, community.Member{DID: m.DID, AddedAt: records.ParseTime(m.AddedAt)})
		}
		groups = append(groups, community.Group{Name: g.Name, IsInnerCircle: g.IsInnerCircle, Members: members})
	}
	return ix.d.Community.Put(ctx, owner, community.Dedupe(groups))
}
