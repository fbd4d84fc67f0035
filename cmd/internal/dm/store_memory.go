package dm

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu       sync.Mutex
	convs    map[string]Conversation
	messages map[string][]Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs:    make(map[string]Conversation),
		messages: make(map[string][]Message),
	}
}

func (s *MemoryStore) UpsertConversation(_ context.Context, id, p1, p2 string, now time.Time) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		c = Conversation{ID: id, Participant1: p1, Participant2: p2, CreatedAt: now}
	}
	c.UpdatedAt = now
	s.convs[id] = c
	return c, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return c, nil
}

func (s *MemoryStore) InsertMessage(_ context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[m.ConversationID]
	if !ok {
		return ErrNotFound
	}
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], m)
	c.UpdatedAt = m.CreatedAt
	s.convs[m.ConversationID] = c
	return nil
}

func (s *MemoryStore) Messages(_ context.Context, id string, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := append([]Message(nil), s.messages[id]...)
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *MemoryStore) SetPersist(_ context.Context, id string, persist bool, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return ErrNotFound
	}
	c.Persist = persist
	c.UpdatedAt = now
	s.convs[id] = c
	return nil
}

func (s *MemoryStore) DeleteConversation(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.convs, id)
	delete(s.messages, id)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) PruneMessages(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, msgs := range s.messages {
		if !s.convs[id].Persist {
			continue
		}
		kept := msgs[:0]
		for _, m := range msgs {
			if m.CreatedAt.Before(cutoff) {
				n++
				continue
			}
			kept = append(kept, m)
		}
		if len(kept) == 0 {
			delete(s.messages, id)
		} else {
			s.messages[id] = kept
		}
	}
	return n, nil
}

func (s *MemoryStore) PruneEmpty(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, c := range s.convs {
		if c.Persist && len(s.messages[id]) == 0 {
			delete(s.convs, id)
			n++
		}
	}
	return n, nil
}
