package admission

import (
	"context"
	"sync"
)

// UsageRecord is the per-identity daily counter.
type UsageRecord struct {
	Identity string `db:"identity" json:"identity"`
	Date     string `db:"usage_date" json:"date"`
	Count    int    `db:"count" json:"count"`
}

// UsageStore persists usage records. Consume must be atomic per identity:
// it resets the record when day differs from the stored date, then
// increments the count unless it already reached limit.
type UsageStore interface {
	Consume(ctx context.Context, identity, day string, limit int) (bool, error)
	Get(ctx context.Context, identity string) (UsageRecord, bool, error)
}

// MemoryUsageStore keeps records in process memory. The map lock is only
// held to find or create an entry; counting happens under the entry lock so
// unrelated identities do not contend.
type MemoryUsageStore struct {
	mu      sync.Mutex
	entries map[string]*usageEntry
}

type usageEntry struct {
	mu     sync.Mutex
	record UsageRecord
}

func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{entries: make(map[string]*usageEntry)}
}

func (s *MemoryUsageStore) entry(identity string) *usageEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[identity]
	if !ok {
		e = &usageEntry{record: UsageRecord{Identity: identity}}
		s.entries[identity] = e
	}
	return e
}

func (s *MemoryUsageStore) Consume(_ context.Context, identity, day string, limit int) (bool, error) {
	e := s.entry(identity)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record.Date != day {
		e.record.Date = day
		e.record.Count = 0
	}
	if e.record.Count >= limit {
		return false, nil
	}
	e.record.Count++
	return true, nil
}

func (s *MemoryUsageStore) Get(_ context.Context, identity string) (UsageRecord, bool, error) {
	s.mu.Lock()
	e, ok := s.entries[identity]
	s.mu.Unlock()
	if !ok {
		return UsageRecord{}, false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.record, true, nil
}
