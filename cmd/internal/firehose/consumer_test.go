package firehose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/thejerf/suture/v4"

	"protoimsg/cmd/internal/pgstore/pgtest"
)

type recordingApplier struct {
	mu   sync.Mutex
	seen []int64
}

func (r *recordingApplier) Apply(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.seen = append(r.seen, ev.TimeUS)
	r.mu.Unlock()
	return nil
}

func (r *recordingApplier) Seen() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.seen...)
}

// streamServer sends events on the first connection and then closes it; later connections
// stay open until the client leaves.
func streamServer(t *testing.T, events []string) (*httptest.Server, <-chan url.Values) {
	t.Helper()
	queries := make(chan url.Values, 8)
	var mu sync.Mutex
	conns := 0

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		queries <- r.URL.Query()

		mu.Lock()
		conns++
		n := conns
		mu.Unlock()

		if n == 1 {
			for _, ev := range events {
				if err := c.Write(r.Context(), websocket.MessageText, []byte(ev)); err != nil {
					return
				}
			}
			_ = c.Close(websocket.StatusNormalClosure, "done")
			return
		}
		_, _, _ = c.Read(r.Context())
	}))
	t.Cleanup(srv.Close)
	return srv, queries
}

func wsURL(srv *httptest.Server) string {
	return "ws" + srv.URL[len("http"):]
}

func event(timeUS int64) string {
	return fmt.Sprintf(`{"did":"did:plc:a","time_us":%d,"kind":"identity","identity":{"did":"did:plc:a","handle":"a.test"}}`, timeUS)
}

func waitQuery(t *testing.T, ch <-chan url.Values) url.Values {
	t.Helper()
	select {
	case q := <-ch:
		return q
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for a connection")
		return nil
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConsumer_ResumesFromCursorAfterReconnect(t *testing.T) {
	srv, queries := streamServer(t, []string{event(10), "garbage", event(20), event(30)})

	store := NewMemoryStore()
	apply := &recordingApplier{}
	c, err := NewConsumer(Config{URL: wsURL(srv), ReconnectDelay: 20 * time.Millisecond, FlushEvery: 2}, apply, store, quietLogger())
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Serve(ctx) }()

	first := waitQuery(t, queries)
	if first.Get("wantedCollections") != "app.protoimsg.chat.*" || first.Get("cursor") != "" {
		t.Fatalf("first query=%v", first)
	}
	second := waitQuery(t, queries)
	if second.Get("cursor") != "30" {
		t.Fatalf("reconnect cursor=%q want 30", second.Get("cursor"))
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve err=%v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not return after cancel")
	}

	seen := apply.Seen()
	if len(seen) != 3 || seen[0] != 10 || seen[2] != 30 {
		t.Fatalf("applied=%v", seen)
	}
	if cur, ok, _ := store.LoadCursor(context.Background()); !ok || cur != 30 {
		t.Fatalf("saved cursor=%d,%v", cur, ok)
	}
}

func TestConsumer_StopPersistsCursorAndDoesNotRestart(t *testing.T) {
	srv, queries := streamServer(t, []string{event(5)})

	store := NewMemoryStore()
	_ = store.SaveCursor(context.Background(), 1)
	c, err := NewConsumer(Config{URL: wsURL(srv), ReconnectDelay: time.Hour}, &recordingApplier{}, store, quietLogger())
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- c.Serve(context.Background()) }()

	if q := waitQuery(t, queries); q.Get("cursor") != "1" {
		t.Fatalf("resume cursor=%q want 1", q.Get("cursor"))
	}
	// The first connection delivers one event and closes; the consumer is now waiting
	// out the reconnect delay, which Stop must interrupt.
	deadline := time.Now().Add(5 * time.Second)
	for c.Cursor() != 5 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, suture.ErrDoNotRestart) {
			t.Fatalf("Serve err=%v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Serve did not return after Stop")
	}
	if cur, _, _ := store.LoadCursor(context.Background()); cur != 5 {
		t.Fatalf("cursor=%d want 5", cur)
	}
}

func TestStreamURL(t *testing.T) {
	t.Parallel()

	got, err := StreamURL("wss://jetstream.example/subscribe", 0)
	if err != nil || got != "wss://jetstream.example/subscribe?wantedCollections=app.protoimsg.chat.%2A" {
		t.Fatalf("StreamURL=%q,%v", got, err)
	}
	got, _ = StreamURL("wss://jetstream.example/subscribe", 77)
	u, _ := url.Parse(got)
	if u.Query().Get("cursor") != "77" {
		t.Fatalf("cursor missing: %q", got)
	}
}

func TestPostgresStore_Integration(t *testing.T) {
	pool := pgtest.OpenPool(t)
	schema := pgtest.NewSchema(t, pool)
	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, ok, err := st.LoadCursor(ctx); err != nil || ok {
		t.Fatalf("LoadCursor empty=%v,%v", ok, err)
	}
	for _, v := range []int64{100, 200} {
		if err := st.SaveCursor(ctx, v); err != nil {
			t.Fatalf("SaveCursor: %v", err)
		}
	}
	if cur, ok, err := st.LoadCursor(ctx); err != nil || !ok || cur != 200 {
		t.Fatalf("LoadCursor=%d,%v,%v", cur, ok, err)
	}

	rec := StoredRecord{URI: "at://did:plc:a/app.protoimsg.chat.room/r", DID: "did:plc:a", Collection: "app.protoimsg.chat.room", RKey: "r", Record: []byte(`{"name":"x"}`), IndexedAt: time.Now().UTC()}
	for i := 0; i < 2; i++ {
		if err := st.UpsertRecord(ctx, rec); err != nil {
			t.Fatalf("UpsertRecord: %v", err)
		}
	}
	if err := st.DeleteRecord(ctx, rec.URI); err != nil {
		t.Fatalf("DeleteRecord: %v", err)
	}
}

// captureHandler keeps every record so tests can look for event names.
type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h *captureHandler) WithGroup(string) slog.Handler           { return h }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	h.records = append(h.records, r.Clone())
	h.mu.Unlock()
	return nil
}

func (h *captureHandler) find(msg string) (slog.Record, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.records {
		if r.Message == msg {
			return r, true
		}
	}
	return slog.Record{}, false
}

func attrInt(r slog.Record, key string) (int64, bool) {
	var (
		v     int64
		found bool
	)
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == key {
			v, found = a.Value.Int64(), true
			return false
		}
		return true
	})
	return v, found
}

func TestConsumer_StaleCursorWarnsButResumes(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	stale := now.Add(-100 * time.Hour).UnixMicro()

	cases := []struct {
		name      string
		cursor    int64
		wantWarn  bool
		wantHours int64
	}{
		{name: "older than retention", cursor: stale, wantWarn: true, wantHours: 100},
		{name: "recent", cursor: now.Add(-time.Hour).UnixMicro(), wantWarn: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, queries := streamServer(t, nil)

			store := NewMemoryStore()
			_ = store.SaveCursor(context.Background(), tc.cursor)
			logs := &captureHandler{}
			c, err := NewConsumer(Config{URL: wsURL(srv), ReconnectDelay: time.Hour}, &recordingApplier{}, store, slog.New(logs))
			if err != nil {
				t.Fatalf("NewConsumer: %v", err)
			}
			c.now = func() time.Time { return now }

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- c.Serve(ctx) }()

			q := waitQuery(t, queries)
			if q.Get("cursor") != fmt.Sprint(tc.cursor) {
				t.Fatalf("dial cursor=%q want %d", q.Get("cursor"), tc.cursor)
			}
			cancel()
			select {
			case <-done:
			case <-time.After(5 * time.Second):
				t.Fatalf("Serve did not return after cancel")
			}

			rec, warned := logs.find("firehose.cursor.stale")
			if warned != tc.wantWarn {
				t.Fatalf("stale warning logged=%v want %v", warned, tc.wantWarn)
			}
			if !warned {
				return
			}
			if rec.Level != slog.LevelWarn {
				t.Fatalf("level=%v want WARN", rec.Level)
			}
			if h, ok := attrInt(rec, "ageHours"); !ok || h != tc.wantHours {
				t.Fatalf("ageHours=%d,%v want %d", h, ok, tc.wantHours)
			}
		})
	}
}
