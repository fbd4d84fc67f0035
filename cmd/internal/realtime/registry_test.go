package realtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"protoimsg/cmd/internal/community"
	"protoimsg/cmd/internal/dm"
	"protoimsg/cmd/internal/moderation"
	"protoimsg/cmd/internal/presence"
	"protoimsg/cmd/internal/rooms"
)

// gatedTracker parks the first UserRooms call after arm until release is closed.
type gatedTracker struct {
	presence.Tracker

	mu      sync.Mutex
	entered chan struct{}
	release chan struct{}
}

func (g *gatedTracker) arm() (entered, release chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entered = make(chan struct{})
	g.release = make(chan struct{})
	return g.entered, g.release
}

func (g *gatedTracker) UserRooms(ctx context.Context, did string) ([]string, error) {
	g.mu.Lock()
	entered, release := g.entered, g.release
	g.entered = nil
	g.mu.Unlock()

	if entered != nil {
		close(entered)
		<-release
	}
	return g.Tracker.UserRooms(ctx, did)
}

func newBareRegistry(t *testing.T, tracker presence.Tracker) *Registry {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	comm := community.NewMemoryStore()
	blocks := moderation.NewBlockService()
	reg, err := NewRegistry(Deps{
		Presence:  presence.NewService(tracker, comm, blocks, log),
		Rooms:     rooms.NewMemoryStore(),
		DMs:       dm.NewService(dm.NewMemoryStore(), nil, dm.WithLogger(log)),
		Community: comm,
		Blocks:    blocks,
		Log:       log,
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

func attachAs(t *testing.T, reg *Registry, id, did string) *Client {
	t.Helper()
	c := NewClient(id, "127.0.0.1", 8)
	c.DID = did
	if err := reg.Admit(c); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if err := reg.Attach(context.Background(), c); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	return c
}

func TestRegistry_ReattachDuringLastDetachStaysOnline(t *testing.T) {
	mem := presence.NewMemoryTracker()
	tracker := &gatedTracker{Tracker: mem}
	reg := newBareRegistry(t, tracker)
	ctx := context.Background()

	first := attachAs(t, reg, "c1", alice)

	entered, release := tracker.arm()
	detached := make(chan struct{})
	go func() {
		defer close(detached)
		reg.Detach(first)
	}()

	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("detach never reached the tracker")
	}

	second := NewClient("c2", "127.0.0.1", 8)
	second.DID = alice
	if err := reg.Admit(second); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	attached := make(chan error, 1)
	go func() { attached <- reg.Attach(ctx, second) }()

	select {
	case err := <-attached:
		t.Fatalf("attach finished while detach of the same identity was in flight: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-detached
	if err := <-attached; err != nil {
		t.Fatalf("Attach: %v", err)
	}

	if n := reg.ConnCount(alice); n != 1 {
		t.Fatalf("ConnCount=%d want 1", n)
	}
	rec, err := mem.Presence(ctx, alice)
	if err != nil {
		t.Fatalf("Presence: %v", err)
	}
	if rec.Status != presence.StatusOnline {
		t.Fatalf("presence=%q with a live connection, want online", rec.Status)
	}
	if err := reg.presence.JoinRoom(ctx, alice, "lobby"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if members, _ := mem.RoomMembers(ctx, "lobby"); len(members) != 1 {
		t.Fatalf("room join after reattach was dropped: members=%v", members)
	}
	if n := reg.lifecycle.held(); n != 0 {
		t.Fatalf("lifecycle locks leaked: %d", n)
	}

	reg.Detach(second)
}

func TestRegistry_DetachOfOneConnectionKeepsIdentityOnline(t *testing.T) {
	mem := presence.NewMemoryTracker()
	reg := newBareRegistry(t, mem)
	ctx := context.Background()

	a := attachAs(t, reg, "c1", alice)
	b := attachAs(t, reg, "c2", alice)

	reg.Detach(a)
	if rec, _ := mem.Presence(ctx, alice); rec.Status != presence.StatusOnline {
		t.Fatalf("presence=%q after closing one of two connections", rec.Status)
	}

	reg.Detach(b)
	if rec, _ := mem.Presence(ctx, alice); rec.Status != presence.StatusOffline {
		t.Fatalf("presence=%q after closing the last connection", rec.Status)
	}
}
