package dm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"protoimsg/cmd/internal/moderation"
	"protoimsg/cmd/internal/pgstore/pgtest"
)

func TestConversationID_Symmetric(t *testing.T) {
	t.Parallel()

	a, b := "did:plc:alice", "did:plc:bob"
	if ConversationID(a, b) != ConversationID(b, a) {
		t.Fatalf("conversation id depends on argument order")
	}
	if got := ConversationID(a, b); len(got) != 16 {
		t.Fatalf("id length=%d want 16 (%q)", len(got), got)
	}
	if ConversationID(a, b) == ConversationID(a, "did:plc:carol") {
		t.Fatalf("distinct pairs share an id")
	}
	lo, hi := SortPair(b, a)
	if lo != a || hi != b {
		t.Fatalf("SortPair=%q,%q", lo, hi)
	}
}

func TestPreview(t *testing.T) {
	t.Parallel()

	if got := Preview("short"); got != "short" {
		t.Fatalf("Preview(short)=%q", got)
	}
	long := strings.Repeat("é", 150)
	if got := Preview(long); len([]rune(got)) != PreviewLength {
		t.Fatalf("Preview length=%d", len([]rune(got)))
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func exerciseService(t *testing.T, st Store) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clock := newClock()
	filter := moderation.FilterFunc(func(text string) moderation.Verdict {
		if strings.Contains(text, "spam") {
			return moderation.Verdict{Passed: false, Reason: "No spam, please"}
		}
		if strings.Contains(text, "quiet") {
			return moderation.Verdict{Passed: false}
		}
		return moderation.Verdict{Passed: true}
	})
	svc := NewService(st, filter, WithClock(clock.Now))

	alice, bob := "did:plc:alice", "did:plc:bob"

	if _, err := svc.Open(ctx, alice, alice); !errors.Is(err, ErrSelf) {
		t.Fatalf("self open err=%v", err)
	}

	opened, err := svc.Open(ctx, bob, alice)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	conv := opened.Conversation
	if conv.ID != ConversationID(alice, bob) || conv.Participant1 != alice || conv.Persist {
		t.Fatalf("unexpected conversation %+v", conv)
	}
	if len(opened.Messages) != 0 {
		t.Fatalf("ephemeral open returned history")
	}

	// Rejections, in order.
	var rej *RejectedError
	if _, err := svc.Send(ctx, "0000000000000000", alice, "hi"); !errors.As(err, &rej) || rej.Reason != "Conversation not found" {
		t.Fatalf("missing conversation err=%v", err)
	}
	if _, err := svc.Send(ctx, conv.ID, "did:plc:mallory", "hi"); !errors.As(err, &rej) || rej.Reason != "Not a participant" {
		t.Fatalf("outsider err=%v", err)
	}
	if _, err := svc.Send(ctx, conv.ID, alice, strings.Repeat("x", MaxMessageLength+1)); !errors.As(err, &rej) || rej.Reason != "Message exceeds 3000 characters" || !errors.Is(err, ErrTooLong) {
		t.Fatalf("too long err=%v", err)
	}
	if _, err := svc.Send(ctx, conv.ID, alice, "buy spam now"); !errors.As(err, &rej) || rej.Reason != "No spam, please" || !errors.Is(err, ErrFiltered) {
		t.Fatalf("filtered err=%v", err)
	}
	if _, err := svc.Send(ctx, conv.ID, alice, "be quiet"); !errors.As(err, &rej) || rej.Reason != DefaultFilterReason {
		t.Fatalf("filtered default reason err=%v", err)
	}
	if msgs, _ := st.Messages(ctx, conv.ID, 0); len(msgs) != 0 {
		t.Fatalf("rejected messages were stored: %+v", msgs)
	}

	sent, err := svc.Send(ctx, conv.ID, alice, "hello bob")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sent.RecipientDID != bob || sent.Message.ID == "" || sent.Message.SenderDID != alice {
		t.Fatalf("unexpected send result %+v", sent)
	}

	// Ephemeral lifecycle: the last subscriber leaving removes everything.
	gone, err := svc.CleanupIfEmpty(ctx, conv.ID)
	if err != nil || !gone {
		t.Fatalf("CleanupIfEmpty=%v,%v", gone, err)
	}
	if _, err := st.GetConversation(ctx, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("conversation survived cleanup: %v", err)
	}
	if msgs, _ := st.Messages(ctx, conv.ID, 0); len(msgs) != 0 {
		t.Fatalf("messages survived cleanup: %+v", msgs)
	}
	reopened, err := svc.Open(ctx, alice, bob)
	if err != nil || len(reopened.Messages) != 0 {
		t.Fatalf("reopen=%+v,%v", reopened, err)
	}

	// Persisted lifecycle.
	if err := svc.TogglePersist(ctx, conv.ID, "did:plc:mallory", true); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("outsider toggle err=%v", err)
	}
	if err := svc.TogglePersist(ctx, conv.ID, bob, true); err != nil {
		t.Fatalf("TogglePersist: %v", err)
	}
	for i, text := range []string{"one", "two", "three"} {
		clock.Advance(time.Second)
		if _, err := svc.Send(ctx, conv.ID, bob, text); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	persisted, err := svc.Open(ctx, alice, bob)
	if err != nil {
		t.Fatalf("Open persisted: %v", err)
	}
	if !persisted.Conversation.Persist || len(persisted.Messages) != 3 || persisted.Messages[0].Text != "one" || persisted.Messages[2].Text != "three" {
		t.Fatalf("persisted history=%+v", persisted.Messages)
	}
	if gone, err := svc.CleanupIfEmpty(ctx, conv.ID); err != nil || gone {
		t.Fatalf("persisted conversation cleaned up: %v,%v", gone, err)
	}

	// Retention.
	clock.Advance(Retention + time.Hour)
	if err := svc.PruneExpired(ctx); err != nil {
		t.Fatalf("PruneExpired: %v", err)
	}
	if _, err := st.GetConversation(ctx, conv.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired persisted conversation survived prune: %v", err)
	}
}

func TestService_Memory(t *testing.T) {
	t.Parallel()
	exerciseService(t, NewMemoryStore())
}

func TestService_Postgres_Integration(t *testing.T) {
	pool := pgtest.OpenPool(t)
	schema := pgtest.NewSchema(t, pool)

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	exerciseService(t, st)
}

func TestMemoryStore_HistoryLimit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := NewMemoryStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	_, _ = st.UpsertConversation(ctx, "c", "did:plc:a", "did:plc:b", base)
	for i := 0; i < HistoryLimit+5; i++ {
		_ = st.InsertMessage(ctx, Message{ID: string(rune('A' + i)), ConversationID: "c", SenderDID: "did:plc:a", CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}
	msgs, _ := st.Messages(ctx, "c", HistoryLimit)
	if len(msgs) != HistoryLimit {
		t.Fatalf("len=%d", len(msgs))
	}
	if !msgs[0].CreatedAt.Equal(base.Add(5 * time.Second)) {
		t.Fatalf("history must keep the newest messages, oldest first: first=%v", msgs[0].CreatedAt)
	}
}
