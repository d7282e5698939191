package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/loyalty/idempotency"
)

type entry struct {
	rec       *idempotency.Record
	expiresAt time.Time
}

// Store is a map-backed idempotency store. Expired entries are treated as
// absent on read and reclaimed by Purge.
type Store struct {
	mu      sync.RWMutex
	records map[string]entry
}

func New() *Store {
	return &Store{
		records: make(map[string]entry),
	}
}

func (s *Store) Get(_ context.Context, key string) (*idempotency.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.records[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, idempotency.ErrNotFound
	}
	return e.rec, nil
}

func (s *Store) PutIfAbsent(_ context.Context, rec *idempotency.Record, ttl time.Duration) (*idempotency.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.records[rec.Key]; ok && time.Now().Before(e.expiresAt) {
		return e.rec, false, nil
	}

	s.records[rec.Key] = entry{
		rec:       rec,
		expiresAt: rec.CreatedAt.Add(ttl),
	}
	return rec, true, nil
}

func (s *Store) Purge(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	now := time.Now()
	for key, e := range s.records {
		if e.rec.CreatedAt.Before(before) || now.After(e.expiresAt) {
			delete(s.records, key)
			purged++
		}
	}
	return purged, nil
}

func (s *Store) Close() error {
	return nil
}
