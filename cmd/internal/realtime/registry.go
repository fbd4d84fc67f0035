package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"protoimsg/cmd/internal/community"
	"protoimsg/cmd/internal/dm"
	"protoimsg/cmd/internal/moderation"
	"protoimsg/cmd/internal/presence"
	"protoimsg/cmd/internal/rooms"
	v1 "protoimsg/shared/contracts/realtime/v1"
)

const teardownTimeout = 10 * time.Second

var (
	// ErrShuttingDown is returned by Admit once Shutdown has begun.
	ErrShuttingDown = errors.New("realtime: shutting down")
	// ErrOriginLimit is returned by Admit when an origin holds too many connections.
	ErrOriginLimit = errors.New("realtime: too many connections from origin")
)

// Deps are the collaborators a Registry dispatches to.
type Deps struct {
	Presence  *presence.Service
	Rooms     rooms.Store
	DMs       *dm.Service
	Community community.Store
	Blocks    *moderation.BlockService
	Log       *slog.Logger

	// MaxConnsPerOrigin caps concurrent connections per origin; zero means unlimited.
	MaxConnsPerOrigin int
}

// Registry owns every live connection on this node together with the room, DM and
// watch indexes they are subscribed to.
type Registry struct {
	log       *slog.Logger
	presence  *presence.Service
	rooms     rooms.Store
	dms       *dm.Service
	community community.Store
	blocks    *moderation.BlockService

	roomHub *Hub
	dmHub   *Hub
	watch   *WatchRegistry

	maxPerOrigin int
	lifecycle    keyedMutex

	mu      sync.Mutex
	all     map[*Client]struct{}
	byDID   map[string]map[*Client]struct{}
	origins map[string]int
	closing bool

	wg sync.WaitGroup
}

func NewRegistry(d Deps) (*Registry, error) {
	if d.Presence == nil || d.Rooms == nil || d.DMs == nil || d.Community == nil || d.Blocks == nil {
		return nil, errors.New("realtime: missing registry dependency")
	}
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:          log,
		presence:     d.Presence,
		rooms:        d.Rooms,
		dms:          d.DMs,
		community:    d.Community,
		blocks:       d.Blocks,
		roomHub:      NewHub(),
		dmHub:        NewHub(),
		watch:        NewWatchRegistry(d.Presence, d.Blocks, log),
		maxPerOrigin: d.MaxConnsPerOrigin,
		lifecycle:    keyedMutex{locks: make(map[string]*keyedLock)},
		all:          make(map[*Client]struct{}),
		byDID:        make(map[string]map[*Client]struct{}),
		origins:      make(map[string]int),
	}, nil
}

func (r *Registry) Rooms() *Hub                      { return r.roomHub }
func (r *Registry) DMs() *Hub                        { return r.dmHub }
func (r *Registry) Watchers() *WatchRegistry         { return r.watch }
func (r *Registry) Presence() *presence.Service      { return r.presence }
func (r *Registry) Blocks() *moderation.BlockService { return r.blocks }

// Admit accounts a new connection against its origin. Every admitted client must be
// released with Detach exactly once.
func (r *Registry) Admit(c *Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closing {
		return ErrShuttingDown
	}
	if r.maxPerOrigin > 0 && r.origins[c.Origin] >= r.maxPerOrigin {
		return ErrOriginLimit
	}
	r.origins[c.Origin]++
	r.all[c] = struct{}{}
	r.wg.Add(1)
	return nil
}

// Attach binds an authenticated client to its identity and marks the identity online.
// Attach and Detach for the same identity run one at a time.
func (r *Registry) Attach(ctx context.Context, c *Client) error {
	unlock := r.lifecycle.Lock(c.DID)
	defer unlock()

	r.mu.Lock()
	set := r.byDID[c.DID]
	first := len(set) == 0
	if set == nil {
		set = make(map[*Client]struct{})
		r.byDID[c.DID] = set
	}
	set[c] = struct{}{}
	r.mu.Unlock()
	connectionsGauge.Inc()

	if err := r.presence.Connect(ctx, c.DID); err != nil {
		return err
	}
	r.blocks.Touch(c.DID)

	if first {
		rec, err := r.presence.Presence(ctx, c.DID)
		if err != nil {
			r.log.Warn("ws.presence.read.fail", "did", c.DID, "err", err)
			return nil
		}
		r.watch.Notify(c.DID, rec.Status, rec.AwayMessage, rec.Visibility)
	}
	return nil
}

// Detach tears a connection down: origin accounting, every index, abandoned ephemeral
// conversations and, when it was the identity's last connection, presence.
func (r *Registry) Detach(c *Client) {
	defer r.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	authed := c.Authenticated()
	if authed {
		unlock := r.lifecycle.Lock(c.DID)
		defer unlock()
	}

	r.mu.Lock()
	delete(r.all, c)
	if n := r.origins[c.Origin] - 1; n > 0 {
		r.origins[c.Origin] = n
	} else {
		delete(r.origins, c.Origin)
	}
	last := false
	if authed {
		if set := r.byDID[c.DID]; set != nil {
			if _, ok := set[c]; ok {
				connectionsGauge.Dec()
			}
			delete(set, c)
			if len(set) == 0 {
				delete(r.byDID, c.DID)
				last = true
			}
		}
	}
	r.mu.Unlock()

	r.roomHub.UnsubscribeAll(c)
	_, abandoned := r.dmHub.UnsubscribeAll(c)
	r.watch.UnwatchAll(c)

	for _, id := range abandoned {
		if _, err := r.dms.CleanupIfEmpty(ctx, id); err != nil {
			r.log.Warn("dm.cleanup.fail", "conversation_id", id, "err", err)
		}
	}

	if !last {
		return
	}
	r.takeOffline(ctx, c.DID)
}

// takeOffline clears presence and tells rooms and watchers. Callers hold the identity's
// lifecycle lock.
func (r *Registry) takeOffline(ctx context.Context, did string) {
	joined, err := r.presence.Disconnect(ctx, did)
	if err != nil {
		r.log.Warn("ws.presence.offline.fail", "did", did, "err", err)
	}
	frame := offlineFrame(did)
	for _, roomID := range joined {
		r.roomHub.Broadcast(roomID, frame, nil)
	}
	r.watch.Notify(did, presence.StatusOffline, "", "")
}

// ConnCount returns the live connections of did on this node.
func (r *Registry) ConnCount(did string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byDID[did])
}

// Len returns every admitted connection, authenticated or not.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.all)
}

func (r *Registry) clientsOf(did string) []*Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Client, 0, len(r.byDID[did]))
	for c := range r.byDID[did] {
		out = append(out, c)
	}
	return out
}

// SendToDID enqueues frame on every connection of did for which keep returns true.
func (r *Registry) SendToDID(did string, frame []byte, keep func(*Client) bool) int {
	n := 0
	for _, c := range r.clientsOf(did) {
		if keep != nil && !keep(c) {
			continue
		}
		if c.Enqueue(frame) {
			n++
		}
	}
	return n
}

// BroadcastToRoom fans a frame out to the room's subscribers.
func (r *Registry) BroadcastToRoom(roomID string, frame []byte) int {
	return r.roomHub.Broadcast(roomID, frame, nil)
}

// RoomMessage delivers a freshly indexed room message.
func (r *Registry) RoomMessage(_ context.Context, roomID string, msg v1.RoomMessage) {
	r.BroadcastToRoom(roomID, encode(v1.Message{Type: v1.TypeMessage, Data: msg}))
}

// IdentityDeactivated closes every connection of did. Teardown then takes it offline.
func (r *Registry) IdentityDeactivated(ctx context.Context, did string) {
	unlock := r.lifecycle.Lock(did)
	clients := r.clientsOf(did)
	if len(clients) == 0 {
		if _, err := r.presence.Disconnect(ctx, did); err != nil {
			r.log.Warn("ws.presence.offline.fail", "did", did, "err", err)
		}
		unlock()
		return
	}
	unlock()
	for _, c := range clients {
		closesTotal.WithLabelValues("deactivated").Inc()
		go c.Close(websocket.StatusCode(v1.CloseInvalidCredential), "account deactivated")
	}
}

// Shutdown closes every connection with 1001 and waits until each teardown and queued
// watcher notification has finished, or ctx ends.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	clients := make([]*Client, 0, len(r.all))
	for c := range r.all {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	for _, c := range clients {
		closesTotal.WithLabelValues("going_away").Inc()
		go c.Close(websocket.StatusGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		r.watch.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("ws.shutdown.ok", "connections", len(clients))
		return nil
	case <-ctx.Done():
		r.log.Warn("ws.shutdown.timeout", "remaining", r.Len())
		return ctx.Err()
	}
}
