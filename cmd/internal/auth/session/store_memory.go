package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu     sync.Mutex
	byID   map[string]Session
	byHash map[string]string
	byDID  map[string]map[string]struct{}
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]Session),
		byHash: make(map[string]string),
		byDID:  make(map[string]map[string]struct{}),
		now:    time.Now,
	}
}

func (m *MemoryStore) Create(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byID[s.ID] = s
	m.byHash[s.TokenHash] = s.ID
	ids := m.byDID[s.DID]
	if ids == nil {
		ids = make(map[string]struct{})
		m.byDID[s.DID] = ids
	}
	ids[s.ID] = struct{}{}
	return nil
}

func (m *MemoryStore) live(id string) (Session, bool) {
	s, ok := m.byID[id]
	if !ok || s.Expired(m.now()) {
		return Session{}, false
	}
	return s, true
}

func (m *MemoryStore) GetByTokenHash(_ context.Context, hash string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.live(m.byHash[hash])
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.live(id)
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *MemoryStore) HasIdentity(_ context.Context, did string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.byDID[did] {
		if _, ok := m.live(id); ok {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) UpdateHandle(_ context.Context, did, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.byDID[did] {
		if s, ok := m.byID[id]; ok {
			s.Handle = handle
			m.byID[id] = s
		}
	}
	return nil
}

func (m *MemoryStore) RevokeByIdentity(_ context.Context, did string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id := range m.byDID[did] {
		if _, ok := m.live(id); ok {
			n++
		}
		m.deleteLocked(id)
	}
	delete(m.byDID, did)
	return n, nil
}

func (m *MemoryStore) Revoke(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteLocked(id)
	return nil
}

func (m *MemoryStore) Prune(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, s := range m.byID {
		if s.Expired(now) {
			m.deleteLocked(id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) deleteLocked(id string) {
	s, ok := m.byID[id]
	if !ok {
		return
	}
	delete(m.byID, id)
	delete(m.byHash, s.TokenHash)
	if ids := m.byDID[s.DID]; ids != nil {
		delete(ids, id)
		if len(ids) == 0 {
			delete(m.byDID, s.DID)
		}
	}
}
