package idempotency

import (
	"context"
	"time"
)

// Record is a captured response, replayed verbatim for repeat submissions
// of the same scope key.
type Record struct {
	Key       string    `json:"key"`
	Status    int       `json:"status"`
	Body      []byte    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists records keyed by scope key.
//
// PutIfAbsent is the only write path and must be atomic: when a record for
// the key already exists it returns the stored record with inserted=false,
// never overwriting. Get treats expired records as absent.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	PutIfAbsent(ctx context.Context, rec *Record, ttl time.Duration) (*Record, bool, error)
	Purge(ctx context.Context, before time.Time) (int64, error)
	Close() error
}
