// Package redis implements the idempotency store on Redis.
//
// Records are written with SET NX so the insert-if-absent contract holds
// across processes, and carry a TTL so Redis itself enforces retention.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/loyalty/idempotency"
)

const defaultPrefix = "idem:"

type Store struct {
	client *goredis.Client
	prefix string
}

func New(client *goredis.Client, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: defaultPrefix,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Option configures a Store instance.
type Option func(*Store)

// WithPrefix sets the key namespace.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

func (s *Store) Get(ctx context.Context, key string) (*idempotency.Record, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, idempotency.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency: redis get: %w", err)
	}

	var rec idempotency.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return &rec, nil
}

func (s *Store) PutIfAbsent(ctx context.Context, rec *idempotency.Record, ttl time.Duration) (*idempotency.Record, bool, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, false, fmt.Errorf("idempotency: encode record: %w", err)
	}

	// A key can expire between a failed SET NX and the follow-up GET, so
	// take another pass when that narrow window hits.
	for i := 0; i < 2; i++ {
		inserted, err := s.client.SetNX(ctx, s.prefix+rec.Key, data, ttl).Result()
		if err != nil {
			return nil, false, fmt.Errorf("idempotency: redis setnx: %w", err)
		}
		if inserted {
			return rec, true, nil
		}

		existing, err := s.Get(ctx, rec.Key)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, idempotency.ErrNotFound) {
			return nil, false, err
		}
	}
	return nil, false, idempotency.ErrNotFound
}

// Purge is a no-op: Redis reclaims expired records through key TTLs.
func (s *Store) Purge(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
