package community

import (
	"context"
	"sync"
)

type memoryList struct {
	groups  []Group
	members map[string]bool
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu    sync.RWMutex
	lists map[string]memoryList
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lists: make(map[string]memoryList)}
}

func (s *MemoryStore) Put(_ context.Context, owner string, groups []Group) error {
	groups = Dedupe(groups)
	s.mu.Lock()
	s.lists[owner] = memoryList{groups: groups, members: Flatten(groups)}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, owner string) ([]Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.lists[owner]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]Group(nil), l.groups...), nil
}

func (s *MemoryStore) Delete(_ context.Context, owner string) error {
	s.mu.Lock()
	delete(s.lists, owner)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) IsCommunityMember(_ context.Context, owner, did string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.lists[owner].members[did]
	return ok, nil
}

func (s *MemoryStore) IsInnerCircle(_ context.Context, owner, did string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lists[owner].members[did], nil
}
