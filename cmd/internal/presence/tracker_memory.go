package presence

import (
	"context"
	"sort"
	"sync"
)

type memoryEntry struct {
	rec   Record
	rooms map[string]struct{}
}

// MemoryTracker is the process-local Tracker.
type MemoryTracker struct {
	mu    sync.RWMutex
	users map[string]*memoryEntry
	rooms map[string]map[string]struct{}
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{
		users: make(map[string]*memoryEntry),
		rooms: make(map[string]map[string]struct{}),
	}
}

func (m *MemoryTracker) SetOnline(_ context.Context, did string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.users[did]; ok {
		e.rec.Status = StatusOnline
		e.rec.AwayMessage = ""
		return nil
	}
	m.users[did] = &memoryEntry{
		rec:   Record{Status: StatusOnline, Visibility: DefaultVisibility},
		rooms: make(map[string]struct{}),
	}
	return nil
}

func (m *MemoryTracker) SetOffline(_ context.Context, did string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.users[did]
	if !ok {
		return nil
	}
	for roomID := range e.rooms {
		m.removeFromRoom(roomID, did)
	}
	delete(m.users, did)
	return nil
}

func (m *MemoryTracker) SetStatus(_ context.Context, did string, status Status, awayMessage string, visibility Visibility) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.users[did]
	if !ok {
		return nil
	}
	e.rec.Status = status
	e.rec.AwayMessage = awayMessageFor(status, awayMessage)
	if visibility != "" {
		e.rec.Visibility = visibility
	}
	return nil
}

func (m *MemoryTracker) JoinRoom(_ context.Context, did, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.users[did]
	if !ok {
		return nil
	}
	e.rooms[roomID] = struct{}{}
	set, ok := m.rooms[roomID]
	if !ok {
		set = make(map[string]struct{})
		m.rooms[roomID] = set
	}
	set[did] = struct{}{}
	return nil
}

func (m *MemoryTracker) LeaveRoom(_ context.Context, did, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.users[did]; ok {
		delete(e.rooms, roomID)
	}
	m.removeFromRoom(roomID, did)
	return nil
}

// removeFromRoom requires m.mu held.
func (m *MemoryTracker) removeFromRoom(roomID, did string) {
	set, ok := m.rooms[roomID]
	if !ok {
		return
	}
	delete(set, did)
	if len(set) == 0 {
		delete(m.rooms, roomID)
	}
}

func (m *MemoryTracker) Presence(_ context.Context, did string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if e, ok := m.users[did]; ok {
		return e.rec, nil
	}
	return Offline(), nil
}

func (m *MemoryTracker) BulkPresence(_ context.Context, dids []string) (map[string]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Record, len(dids))
	for _, did := range dids {
		if e, ok := m.users[did]; ok {
			out[did] = e.rec
			continue
		}
		out[did] = Offline()
	}
	return out, nil
}

func (m *MemoryTracker) UserRooms(_ context.Context, did string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.users[did]
	if !ok {
		return nil, nil
	}
	return sortedKeys(e.rooms), nil
}

func (m *MemoryTracker) RoomMembers(_ context.Context, roomID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.rooms[roomID]), nil
}

func (m *MemoryTracker) OnlineUsers(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.users))
	for did := range m.users {
		out = append(out, did)
	}
	sort.Strings(out)
	return out, nil
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
