package firehose

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// StoredRecord is the generic projection of one indexed record.
type StoredRecord struct {
	URI        string
	DID        string
	Collection string
	RKey       string
	CID        string
	Record     json.RawMessage
	IndexedAt  time.Time
}

// RecordStore keeps the generic record projection keyed by URI.
type RecordStore interface {
	UpsertRecord(ctx context.Context, r StoredRecord) error
	DeleteRecord(ctx context.Context, uri string) error
}

// CursorStore persists the stream position (time_us of the last applied event).
type CursorStore interface {
	// LoadCursor reports false when no cursor was saved yet.
	LoadCursor(ctx context.Context) (int64, bool, error)
	SaveCursor(ctx context.Context, cursor int64) error
}

// MemoryStore implements RecordStore and CursorStore in process.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string]StoredRecord
	cursor    int64
	hasCursor bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]StoredRecord)}
}

func (s *MemoryStore) UpsertRecord(_ context.Context, r StoredRecord) error {
	s.mu.Lock()
	s.records[r.URI] = r
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteRecord(_ context.Context, uri string) error {
	s.mu.Lock()
	delete(s.records, uri)
	s.mu.Unlock()
	return nil
}

// Record returns the stored record for uri.
func (s *MemoryStore) Record(uri string) (StoredRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[uri]
	return r, ok
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *MemoryStore) LoadCursor(context.Context) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor, s.hasCursor, nil
}

func (s *MemoryStore) SaveCursor(_ context.Context, cursor int64) error {
	s.mu.Lock()
	s.cursor, s.hasCursor = cursor, true
	s.mu.Unlock()
	return nil
}
