package rooms

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCheckJoin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemoryStore()

	if err := CheckJoin(ctx, st, "unknown", "did:plc:a"); err != nil {
		t.Fatalf("unknown room must be joinable: %v", err)
	}
	_ = st.RecordModAction(ctx, ModAction{URI: "ban-unknown", RoomID: "unknown", SubjectDID: "did:plc:troll", Action: ActionBan})
	if err := CheckJoin(ctx, st, "unknown", "did:plc:troll"); !errors.Is(err, ErrBanned) {
		t.Fatalf("ban on unknown room err=%v", err)
	}

	private := Room{ID: "vip", URI: "at://did:plc:owner/app.protoimsg.chat.room/vip", OwnerDID: "did:plc:owner", Visibility: VisibilityPrivate, AllowlistEnabled: true}
	_ = st.UpsertRoom(ctx, private)

	if err := CheckJoin(ctx, st, "vip", "did:plc:owner"); err != nil {
		t.Fatalf("owner must join own room: %v", err)
	}
	if err := CheckJoin(ctx, st, "vip", "did:plc:a"); !errors.Is(err, ErrNotAllowlisted) {
		t.Fatalf("non-allowlisted err=%v", err)
	}
	_ = st.UpsertAllowlist(ctx, AllowlistEntry{URI: "al-1", RoomID: "vip", SubjectDID: "did:plc:a"})
	if err := CheckJoin(ctx, st, "vip", "did:plc:a"); err != nil {
		t.Fatalf("allowlisted join: %v", err)
	}

	private.AllowlistEnabled = false
	_ = st.UpsertRoom(ctx, private)
	if err := CheckJoin(ctx, st, "vip", "did:plc:b"); err != nil {
		t.Fatalf("private room without allowlist must be joinable: %v", err)
	}
}

func TestCanModerateAndIsOwner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemoryStore()
	_ = st.UpsertRoom(ctx, Room{ID: "r", URI: "at://did:plc:owner/app.protoimsg.chat.room/r", OwnerDID: "did:plc:owner"})
	_ = st.UpsertRole(ctx, Role{URI: "role-1", RoomID: "r", SubjectDID: "did:plc:mod", Role: RoleModerator})

	cases := []struct {
		actor    string
		mod, own bool
	}{
		{"did:plc:owner", true, true},
		{"did:plc:mod", true, false},
		{"did:plc:rando", false, false},
	}
	for _, c := range cases {
		mod, err := CanModerate(ctx, st, "r", c.actor)
		if err != nil || mod != c.mod {
			t.Fatalf("CanModerate(%s)=%v,%v want %v", c.actor, mod, err, c.mod)
		}
		own, err := IsOwner(ctx, st, "r", c.actor)
		if err != nil || own != c.own {
			t.Fatalf("IsOwner(%s)=%v,%v want %v", c.actor, own, err, c.own)
		}
	}

	if own, err := IsOwner(ctx, st, "missing", "did:plc:owner"); err != nil || own {
		t.Fatalf("IsOwner on missing room=%v,%v", own, err)
	}
}

func TestInSlowMode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemoryStore()
	_ = st.UpsertRoom(ctx, Room{ID: "slow", URI: "u-slow", OwnerDID: "did:plc:owner", SlowModeSeconds: 10})

	first := Message{URI: "m1", RoomID: "slow", DID: "did:plc:a", CreatedAt: t0}
	if slow, err := InSlowMode(ctx, st, first); err != nil || slow {
		t.Fatalf("first message slow=%v err=%v", slow, err)
	}
	_, _ = st.InsertMessage(ctx, first)

	tooSoon := Message{URI: "m2", RoomID: "slow", DID: "did:plc:a", CreatedAt: t0.Add(5 * time.Second)}
	if slow, _ := InSlowMode(ctx, st, tooSoon); !slow {
		t.Fatalf("message within interval must be throttled")
	}
	later := Message{URI: "m3", RoomID: "slow", DID: "did:plc:a", CreatedAt: t0.Add(10 * time.Second)}
	if slow, _ := InSlowMode(ctx, st, later); slow {
		t.Fatalf("message after interval must pass")
	}
	other := Message{URI: "m4", RoomID: "slow", DID: "did:plc:b", CreatedAt: t0.Add(time.Second)}
	if slow, _ := InSlowMode(ctx, st, other); slow {
		t.Fatalf("slow mode is per author")
	}
	// Replaying the first message must not throttle itself.
	if slow, _ := InSlowMode(ctx, st, first); slow {
		t.Fatalf("replayed message throttled by its own row")
	}
	if slow, _ := InSlowMode(ctx, st, Message{URI: "x", RoomID: "nope", DID: "did:plc:a", CreatedAt: t0}); slow {
		t.Fatalf("unknown room has no slow mode")
	}
}
