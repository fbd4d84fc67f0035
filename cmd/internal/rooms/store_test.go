package rooms

import (
	"context"
	"errors"
	"testing"
	"time"

	"protoimsg/cmd/internal/pgstore/pgtest"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleRoom() Room {
	return Room{
		ID:              "lobby",
		URI:             "at://did:plc:owner/app.protoimsg.chat.room/lobby",
		OwnerDID:        "did:plc:owner",
		Name:            "Lobby",
		Visibility:      "public",
		SlowModeSeconds: 30,
		CreatedAt:       t0,
	}
}

func exerciseStore(t *testing.T, st Store) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := st.GetRoom(ctx, "lobby"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRoom missing err=%v", err)
	}

	room := sampleRoom()
	if err := st.UpsertRoom(ctx, room); err != nil {
		t.Fatalf("UpsertRoom: %v", err)
	}
	room.Topic = "general chatter"
	if err := st.UpsertRoom(ctx, room); err != nil {
		t.Fatalf("UpsertRoom update: %v", err)
	}
	got, err := st.GetRoom(ctx, "lobby")
	if err != nil || got.Topic != "general chatter" || got.OwnerDID != "did:plc:owner" {
		t.Fatalf("GetRoom=%+v,%v", got, err)
	}

	squat := sampleRoom()
	squat.OwnerDID = "did:plc:squatter"
	squat.URI = "at://did:plc:squatter/app.protoimsg.chat.room/lobby"
	if err := st.UpsertRoom(ctx, squat); !errors.Is(err, ErrRoomIDCollision) {
		t.Fatalf("UpsertRoom from another owner err=%v", err)
	}

	msg := Message{
		URI:       "at://did:plc:b/app.protoimsg.chat.message/1",
		RoomID:    "lobby",
		DID:       "did:plc:b",
		Text:      "hi",
		CreatedAt: t0.Add(time.Minute),
	}
	inserted, err := st.InsertMessage(ctx, msg)
	if err != nil || !inserted {
		t.Fatalf("InsertMessage=%v,%v", inserted, err)
	}
	inserted, err = st.InsertMessage(ctx, msg)
	if err != nil || inserted {
		t.Fatalf("InsertMessage replay=%v,%v want false", inserted, err)
	}

	if _, ok, err := st.PreviousMessageAt(ctx, "lobby", "did:plc:b", msg.CreatedAt, msg.URI); err != nil || ok {
		t.Fatalf("PreviousMessageAt must ignore the message itself: ok=%v err=%v", ok, err)
	}
	last, ok, err := st.PreviousMessageAt(ctx, "lobby", "did:plc:b", msg.CreatedAt.Add(time.Second), "other")
	if err != nil || !ok || !last.Equal(msg.CreatedAt) {
		t.Fatalf("PreviousMessageAt=%v,%v,%v", last, ok, err)
	}
	if err := st.DeleteMessageByURI(ctx, msg.URI); err != nil {
		t.Fatalf("DeleteMessageByURI: %v", err)
	}
	if _, ok, _ := st.PreviousMessageAt(ctx, "lobby", "did:plc:b", msg.CreatedAt.Add(time.Second), ""); ok {
		t.Fatalf("message still visible after delete")
	}

	ban := ModAction{
		URI:        "at://did:plc:owner/app.protoimsg.chat.ban/1",
		RoomID:     "lobby",
		ActorDID:   "did:plc:owner",
		SubjectDID: "did:plc:troll",
		Action:     ActionBan,
		CreatedAt:  t0,
	}
	if err := st.RecordModAction(ctx, ban); err != nil {
		t.Fatalf("RecordModAction: %v", err)
	}
	if err := st.RecordModAction(ctx, ban); err != nil {
		t.Fatalf("RecordModAction replay: %v", err)
	}
	if banned, err := st.IsBanned(ctx, "lobby", "did:plc:troll"); err != nil || !banned {
		t.Fatalf("IsBanned=%v,%v", banned, err)
	}
	if err := st.DeleteModActionByURI(ctx, ban.URI); err != nil {
		t.Fatalf("DeleteModActionByURI: %v", err)
	}
	if banned, _ := st.IsBanned(ctx, "lobby", "did:plc:troll"); banned {
		t.Fatalf("ban survived delete")
	}

	role := Role{URI: "at://did:plc:owner/app.protoimsg.chat.role/1", RoomID: "lobby", SubjectDID: "did:plc:mod", Role: RoleModerator, CreatedAt: t0}
	if err := st.UpsertRole(ctx, role); err != nil {
		t.Fatalf("UpsertRole: %v", err)
	}
	if r, err := st.GetRole(ctx, "lobby", "did:plc:mod"); err != nil || r != RoleModerator {
		t.Fatalf("GetRole=%q,%v", r, err)
	}
	// Same record re-pointed at another subject releases the old subject.
	role.SubjectDID = "did:plc:mod2"
	if err := st.UpsertRole(ctx, role); err != nil {
		t.Fatalf("UpsertRole move: %v", err)
	}
	if r, _ := st.GetRole(ctx, "lobby", "did:plc:mod"); r != "" {
		t.Fatalf("old subject kept role %q", r)
	}
	if err := st.DeleteRoleByURI(ctx, role.URI); err != nil {
		t.Fatalf("DeleteRoleByURI: %v", err)
	}
	if r, _ := st.GetRole(ctx, "lobby", "did:plc:mod2"); r != "" {
		t.Fatalf("role survived delete: %q", r)
	}

	entry := AllowlistEntry{URI: "at://did:plc:owner/app.protoimsg.chat.allowlist/1", RoomID: "lobby", SubjectDID: "did:plc:friend", CreatedAt: t0}
	if err := st.UpsertAllowlist(ctx, entry); err != nil {
		t.Fatalf("UpsertAllowlist: %v", err)
	}
	if ok, err := st.IsAllowlisted(ctx, "lobby", "did:plc:friend"); err != nil || !ok {
		t.Fatalf("IsAllowlisted=%v,%v", ok, err)
	}
	if err := st.DeleteAllowlistByURI(ctx, entry.URI); err != nil {
		t.Fatalf("DeleteAllowlistByURI: %v", err)
	}
	if ok, _ := st.IsAllowlisted(ctx, "lobby", "did:plc:friend"); ok {
		t.Fatalf("allowlist entry survived delete")
	}

	if err := st.DeleteRoomByURI(ctx, room.URI); err != nil {
		t.Fatalf("DeleteRoomByURI: %v", err)
	}
	if _, err := st.GetRoom(ctx, "lobby"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetRoom after delete err=%v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	exerciseStore(t, NewMemoryStore())
}

func TestPostgresStore_Integration(t *testing.T) {
	pool := pgtest.OpenPool(t)
	schema := pgtest.NewSchema(t, pool)

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	exerciseStore(t, st)
}

func TestNewPostgresStore_RejectsBadSchema(t *testing.T) {
	t.Parallel()
	if _, err := NewPostgresStore(nil, WithSchema("bad-schema")); err == nil {
		t.Fatalf("expected invalid schema error")
	}
	if _, err := NewPostgresStore(nil); err == nil {
		t.Fatalf("expected nil pool error")
	}
}
