package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"protoimsg/cmd/internal/presence"
)

const watchLookupTimeout = 5 * time.Second

// WatchRegistry delivers presence changes to connections watching an identity.
//
// Notify calls for the same identity are applied through a keyed queue, so watchers see
// them in call order even when one delivery waits on a slow relation lookup.
type WatchRegistry struct {
	log      *slog.Logger
	presence *presence.Service
	blocks   presence.BlockChecker
	queue    *keyedQueue

	mu       sync.RWMutex
	watchers map[string]map[*Client]struct{}
	byClient map[*Client]map[string]struct{}
}

func NewWatchRegistry(svc *presence.Service, blocks presence.BlockChecker, log *slog.Logger) *WatchRegistry {
	if log == nil {
		log = slog.Default()
	}
	return &WatchRegistry{
		log:      log,
		presence: svc,
		blocks:   blocks,
		queue:    newKeyedQueue(),
		watchers: make(map[string]map[*Client]struct{}),
		byClient: make(map[*Client]map[string]struct{}),
	}
}

// Watch registers c as a watcher of every did in dids.
func (w *WatchRegistry) Watch(c *Client, dids []string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	mine := w.byClient[c]
	if mine == nil {
		mine = make(map[string]struct{}, len(dids))
		w.byClient[c] = mine
	}
	for _, did := range dids {
		set := w.watchers[did]
		if set == nil {
			set = make(map[*Client]struct{})
			w.watchers[did] = set
		}
		set[c] = struct{}{}
		mine[did] = struct{}{}
	}
}

// UnwatchAll removes c from every watch list.
func (w *WatchRegistry) UnwatchAll(c *Client) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for did := range w.byClient[c] {
		if set := w.watchers[did]; set != nil {
			delete(set, c)
			if len(set) == 0 {
				delete(w.watchers, did)
			}
		}
	}
	delete(w.byClient, c)
}

// Watching returns how many connections watch did.
func (w *WatchRegistry) Watching(did string) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.watchers[did])
}

func (w *WatchRegistry) snapshot(did string) []*Client {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]*Client, 0, len(w.watchers[did]))
	for c := range w.watchers[did] {
		out = append(out, c)
	}
	return out
}

// Notify queues delivery of did's new presence to its watchers.
func (w *WatchRegistry) Notify(did string, status presence.Status, awayMessage string, visibility presence.Visibility) {
	rec := presence.Record{Status: status, AwayMessage: awayMessage, Visibility: visibility}
	w.queue.Push(did, func() { w.deliver(did, rec) })
}

// Wait blocks until every queued notification has been delivered.
func (w *WatchRegistry) Wait() { w.queue.Wait() }

func (w *WatchRegistry) deliver(did string, rec presence.Record) {
	watchers := w.snapshot(did)
	if len(watchers) == 0 {
		return
	}

	if rec.Visibility == presence.VisibleEveryone {
		shared := presenceFrame(presence.Public(did, rec))
		hidden := offlineFrame(did)
		for _, c := range watchers {
			frame := shared
			if c.DID != did && w.blocks != nil && w.blocks.DoesBlock(did, c.DID) {
				frame = hidden
			}
			if c.Enqueue(frame) {
				watchNotifications.Inc()
			}
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), watchLookupTimeout)
	defer cancel()

	for _, c := range watchers {
		if c.Closed() {
			continue
		}
		obs, err := w.presence.Observe(ctx, did, rec, c.DID)
		if err != nil {
			w.log.Warn("presence.watch.lookup.fail", "did", did, "watcher", c.DID, "err", err)
		}
		if c.Enqueue(presenceFrame(obs)) {
			watchNotifications.Inc()
		}
	}
}
