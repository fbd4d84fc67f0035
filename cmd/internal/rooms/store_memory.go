package rooms

import (
	"context"
	"sync"
	"time"
)

type memberKey struct {
	roomID string
	did    string
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu        sync.RWMutex
	rooms     map[string]Room
	messages  map[string]Message
	actions   map[string]ModAction
	roles     map[memberKey]Role
	allowlist map[memberKey]AllowlistEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:     make(map[string]Room),
		messages:  make(map[string]Message),
		actions:   make(map[string]ModAction),
		roles:     make(map[memberKey]Role),
		allowlist: make(map[memberKey]AllowlistEntry),
	}
}

func (s *MemoryStore) UpsertRoom(_ context.Context, r Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.rooms[r.ID]; ok && cur.OwnerDID != r.OwnerDID {
		return ErrRoomIDCollision
	}
	s.rooms[r.ID] = r
	return nil
}

func (s *MemoryStore) GetRoom(_ context.Context, id string) (Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[id]
	if !ok {
		return Room{}, ErrNotFound
	}
	return r, nil
}

func (s *MemoryStore) DeleteRoomByURI(_ context.Context, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range s.rooms {
		if r.URI == uri {
			delete(s.rooms, id)
		}
	}
	return nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, m Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.messages[m.URI]; ok {
		return false, nil
	}
	s.messages[m.URI] = m
	return true, nil
}

func (s *MemoryStore) DeleteMessageByURI(_ context.Context, uri string) error {
	s.mu.Lock()
	delete(s.messages, uri)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) PreviousMessageAt(_ context.Context, roomID, did string, at time.Time, exceptURI string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last time.Time
	found := false
	for uri, m := range s.messages {
		if uri == exceptURI || m.RoomID != roomID || m.DID != did || m.CreatedAt.After(at) {
			continue
		}
		if !found || m.CreatedAt.After(last) {
			last, found = m.CreatedAt, true
		}
	}
	return last, found, nil
}

func (s *MemoryStore) RecordModAction(_ context.Context, a ModAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.actions[a.URI]; !ok {
		s.actions[a.URI] = a
	}
	return nil
}

func (s *MemoryStore) DeleteModActionByURI(_ context.Context, uri string) error {
	s.mu.Lock()
	delete(s.actions, uri)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) IsBanned(_ context.Context, roomID, did string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.actions {
		if a.RoomID == roomID && a.SubjectDID == did && a.Action == ActionBan {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) UpsertRole(_ context.Context, r Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, cur := range s.roles {
		if cur.URI == r.URI && k != (memberKey{r.RoomID, r.SubjectDID}) {
			delete(s.roles, k)
		}
	}
	s.roles[memberKey{r.RoomID, r.SubjectDID}] = r
	return nil
}

func (s *MemoryStore) DeleteRoleByURI(_ context.Context, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, r := range s.roles {
		if r.URI == uri {
			delete(s.roles, k)
		}
	}
	return nil
}

func (s *MemoryStore) GetRole(_ context.Context, roomID, did string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roles[memberKey{roomID, did}].Role, nil
}

func (s *MemoryStore) UpsertAllowlist(_ context.Context, e AllowlistEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, cur := range s.allowlist {
		if cur.URI == e.URI && k != (memberKey{e.RoomID, e.SubjectDID}) {
			delete(s.allowlist, k)
		}
	}
	s.allowlist[memberKey{e.RoomID, e.SubjectDID}] = e
	return nil
}

func (s *MemoryStore) DeleteAllowlistByURI(_ context.Context, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, e := range s.allowlist {
		if e.URI == uri {
			delete(s.allowlist, k)
		}
	}
	return nil
}

func (s *MemoryStore) IsAllowlisted(_ context.Context, roomID, did string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.allowlist[memberKey{roomID, did}]
	return ok, nil
}
