package presence

import (
	"context"
	"errors"
	"testing"
)

type fakeRelations struct {
	community map[string]bool
	inner     map[string]bool
	err       error
}

func (f fakeRelations) IsCommunityMember(_ context.Context, owner, did string) (bool, error) {
	return f.community[owner+"|"+did], f.err
}

func (f fakeRelations) IsInnerCircle(_ context.Context, owner, did string) (bool, error) {
	return f.inner[owner+"|"+did], f.err
}

type fakeBlocks map[string]bool

func (f fakeBlocks) DoesBlock(blocker, target string) bool { return f[blocker+"|"+target] }

func TestServiceObserve(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rel := fakeRelations{
		community: map[string]bool{"did:plc:owner|did:plc:friend": true, "did:plc:owner|did:plc:bestie": true},
		inner:     map[string]bool{"did:plc:owner|did:plc:bestie": true},
	}
	blocks := fakeBlocks{"did:plc:owner|did:plc:troll": true}
	svc := NewService(NewMemoryTracker(), rel, blocks, nil)

	cases := []struct {
		name   string
		rec    Record
		viewer string
		want   Status
		away   string
	}{
		{"everyone sees away", Record{Status: StatusAway, Visibility: VisibleEveryone, AwayMessage: "afk"}, "did:plc:stranger", StatusAway, "afk"},
		{"block beats everyone", Record{Status: StatusOnline, Visibility: VisibleEveryone}, "did:plc:troll", StatusOffline, ""},
		{"community member", Record{Status: StatusOnline, Visibility: VisibleCommunity}, "did:plc:friend", StatusOnline, ""},
		{"community stranger", Record{Status: StatusOnline, Visibility: VisibleCommunity}, "did:plc:stranger", StatusOffline, ""},
		{"inner circle needs inner", Record{Status: StatusOnline, Visibility: VisibleInnerCircle}, "did:plc:friend", StatusOffline, ""},
		{"inner circle bestie", Record{Status: StatusIdle, Visibility: VisibleInnerCircle}, "did:plc:bestie", StatusIdle, ""},
		{"no-one", Record{Status: StatusOnline, Visibility: VisibleNoOne}, "did:plc:bestie", StatusOffline, ""},
		{"invisible", Record{Status: StatusInvisible, Visibility: VisibleEveryone}, "did:plc:bestie", StatusOffline, ""},
		{"self sees raw", Record{Status: StatusAway, Visibility: VisibleNoOne, AwayMessage: "x"}, "did:plc:owner", StatusAway, "x"},
	}
	for _, tc := range cases {
		got, err := svc.Observe(ctx, "did:plc:owner", tc.rec, tc.viewer)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got.Status != tc.want || got.AwayMessage != tc.away {
			t.Fatalf("%s: got %+v want status=%s away=%q", tc.name, got, tc.want, tc.away)
		}
	}
}

func TestServiceObserveBlockIsOneDirectional(t *testing.T) {
	t.Parallel()

	svc := NewService(NewMemoryTracker(), nil, fakeBlocks{"did:plc:viewer|did:plc:owner": true}, nil)
	got, err := svc.Observe(context.Background(), "did:plc:owner", Record{Status: StatusOnline, Visibility: VisibleEveryone}, "did:plc:viewer")
	if err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if got.Status != StatusOnline {
		t.Fatalf("viewer's own block list must not hide the owner, got %s", got.Status)
	}
}

func TestServiceObserveManyHidesOnLookupError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr := NewMemoryTracker()
	svc := NewService(tr, fakeRelations{err: errors.New("db down")}, nil, nil)

	_ = tr.SetOnline(ctx, "did:plc:a")
	_ = tr.SetStatus(ctx, "did:plc:a", StatusOnline, "", VisibleCommunity)
	_ = tr.SetOnline(ctx, "did:plc:b")
	_ = tr.SetStatus(ctx, "did:plc:b", StatusAway, "gone", VisibleEveryone)

	got, err := svc.ObserveMany(ctx, "did:plc:viewer", []string{"did:plc:a", "did:plc:b", "did:plc:c"})
	if err != nil {
		t.Fatalf("ObserveMany: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len=%d", len(got))
	}
	if got[0].Status != StatusOffline || got[1].Status != StatusAway || got[1].AwayMessage != "gone" || got[2].Status != StatusOffline {
		t.Fatalf("unexpected observations: %+v", got)
	}
}

func TestServiceDisconnectReturnsRooms(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc := NewService(NewMemoryTracker(), nil, nil, nil)
	_ = svc.Connect(ctx, "did:plc:a")
	_ = svc.JoinRoom(ctx, "did:plc:a", "r1")
	_ = svc.JoinRoom(ctx, "did:plc:a", "r2")

	rooms, err := svc.Disconnect(ctx, "did:plc:a")
	if err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("rooms=%v", rooms)
	}
	rec, _ := svc.Presence(ctx, "did:plc:a")
	if rec.Status != StatusOffline {
		t.Fatalf("status=%s", rec.Status)
	}
	members, _ := svc.RoomMembers(ctx, "r1")
	if len(members) != 0 {
		t.Fatalf("members=%v", members)
	}
}
