package firehose

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/thejerf/suture/v4"

	"protoimsg/cmd/internal/records"
)

const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultFlushEvery     = 100
	// DefaultStaleAfter matches the upstream retention window.
	DefaultStaleAfter = 72 * time.Hour
	defaultReadLimit  = 4 << 20
)

// Config controls the upstream connection.
type Config struct {
	URL            string
	ReconnectDelay time.Duration
	FlushEvery     int
	StaleAfter     time.Duration
}

// Applier handles decoded events. *Indexer implements it.
type Applier interface {
	Apply(ctx context.Context, ev Event) error
}

// Consumer streams events from upstream, applies them in arrival order and keeps the cursor.
// It implements suture.Service through Serve.
type Consumer struct {
	cfg     Config
	apply   Applier
	cursors CursorStore
	log     *slog.Logger
	now     func() time.Time

	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}

	mu         sync.Mutex
	conn       *websocket.Conn
	lastCursor int64
	saved      int64
	count      int
}

func NewConsumer(cfg Config, apply Applier, cursors CursorStore, log *slog.Logger) (*Consumer, error) {
	if apply == nil || cursors == nil {
		return nil, errors.New("firehose: applier and cursor store are required")
	}
	if _, err := url.Parse(cfg.URL); err != nil || cfg.URL == "" {
		return nil, fmt.Errorf("firehose: invalid url %q", cfg.URL)
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = DefaultFlushEvery
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{cfg: cfg, apply: apply, cursors: cursors, log: log, now: time.Now, stopCh: make(chan struct{})}, nil
}

func (c *Consumer) String() string { return "firehose-consumer" }

// StreamURL builds the subscription URL, resuming at cursor when it is positive.
func StreamURL(base string, cursor int64) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("wantedCollections", records.NSIDPrefix+"*")
	if cursor > 0 {
		q.Set("cursor", fmt.Sprint(cursor))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Serve runs until ctx is done or Stop is called, reconnecting after a fixed delay.
// After Stop it returns suture.ErrDoNotRestart.
func (c *Consumer) Serve(ctx context.Context) error {
	cursor, ok, err := c.cursors.LoadCursor(ctx)
	if err != nil {
		return fmt.Errorf("firehose: load cursor: %w", err)
	}
	if ok {
		c.mu.Lock()
		c.lastCursor, c.saved = cursor, cursor
		c.mu.Unlock()
		cursorGauge.Set(float64(cursor))
	}

	first := true
	for !c.stopped.Load() {
		if !first {
			reconnectsTotal.Inc()
		}
		first = false

		err := c.runOnce(ctx)
		if ferr := c.flush(context.WithoutCancel(ctx)); ferr != nil {
			c.log.Error("firehose.cursor.save.fail", "err", ferr)
		}

		if c.stopped.Load() || ctx.Err() != nil {
			break
		}
		c.log.Warn("firehose.disconnected", "err", err, "retry_in", c.cfg.ReconnectDelay)

		t := time.NewTimer(c.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
		case <-c.stopCh:
			t.Stop()
		case <-t.C:
		}
	}
	c.log.Info("firehose.stopped")
	if c.stopped.Load() {
		return suture.ErrDoNotRestart
	}
	return ctx.Err()
}

// Stop ends Serve cooperatively: no further reconnects, the cursor is persisted and the
// socket is closed.
func (c *Consumer) Stop(ctx context.Context) error {
	c.stopped.Store(true)
	c.stopOnce.Do(func() { close(c.stopCh) })
	err := c.flush(ctx)

	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "stopping")
	}
	return err
}

// Cursor returns the time_us of the last event seen.
func (c *Consumer) Cursor() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCursor
}

func (c *Consumer) runOnce(ctx context.Context) error {
	cursor := c.Cursor()
	if cursor > 0 {
		age := c.now().Sub(time.UnixMicro(cursor))
		if age > c.cfg.StaleAfter {
			c.log.Warn("firehose.cursor.stale", "ageHours", int64(age.Hours()), "cursor", cursor)
		}
	}

	target, err := StreamURL(c.cfg.URL, cursor)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.Dial(dialCtx, target, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(defaultReadLimit)

	c.mu.Lock()
	if c.stopped.Load() {
		c.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "stopping")
		return nil
	}
	c.conn = conn
	c.mu.Unlock()
	c.log.Info("firehose.connected", "url", target)

	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		_ = conn.CloseNow()
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		c.handle(ctx, data)
	}
}

func (c *Consumer) handle(ctx context.Context, data []byte) {
	ev, err := DecodeEvent(data)
	if err != nil {
		eventErrorsTotal.WithLabelValues("decode").Inc()
		c.log.Error("firehose.event.decode.fail", "err", err)
		return
	}
	eventsTotal.WithLabelValues(ev.Kind).Inc()

	if err := c.apply.Apply(ctx, ev); err != nil {
		eventErrorsTotal.WithLabelValues("apply").Inc()
		attrs := []any{"did", ev.DID, "kind", ev.Kind, "err", err}
		if ev.Commit != nil {
			attrs = append(attrs, "collection", ev.Commit.Collection, "rkey", ev.Commit.RKey)
		}
		c.log.Error("firehose.event.apply.fail", attrs...)
	}

	c.mu.Lock()
	if ev.TimeUS > 0 {
		c.lastCursor = ev.TimeUS
	}
	c.count++
	due := c.count%c.cfg.FlushEvery == 0
	c.mu.Unlock()

	if due {
		if err := c.flush(ctx); err != nil {
			c.log.Error("firehose.cursor.save.fail", "err", err)
		}
	}
}

// flush persists the last cursor when it moved since the previous save.
func (c *Consumer) flush(ctx context.Context) error {
	c.mu.Lock()
	cursor, saved := c.lastCursor, c.saved
	c.mu.Unlock()
	if cursor <= 0 || cursor == saved {
		return nil
	}
	if err := c.cursors.SaveCursor(ctx, cursor); err != nil {
		return err
	}
	c.mu.Lock()
	if c.saved < cursor {
		c.saved = cursor
	}
	c.mu.Unlock()
	cursorGauge.Set(float64(cursor))
	return nil
}
