// Package idempotency guards mutating operations against duplicate
// submissions.
//
// Callers supply a key per logical operation; the first execution captures
// the produced response and repeats within the retention window replay it
// verbatim. The guarantee is best-effort by design: two concurrent first
// submissions may both execute, and the ledger's reference dedup is the
// hard backstop behind this layer.
package idempotency

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sync"
	"time"
)

var (
	ErrKeyRequired = errors.New("idempotency: key required")
	ErrInvalidKey  = errors.New("idempotency: key must be 1-100 characters of A-Za-z0-9_-")
	ErrNotFound    = errors.New("idempotency: record not found")
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// ValidateKey rejects keys outside the allowed charset and length before
// any business logic runs.
func ValidateKey(key string) error {
	if key == "" {
		return ErrKeyRequired
	}
	if !keyPattern.MatchString(key) {
		return ErrInvalidKey
	}
	return nil
}

// ScopeKey namespaces a client key by its caller so equal keys from
// different callers never collide.
func ScopeKey(caller, key string) string {
	return caller + ":" + key
}

// Defaults for record retention and the reclaim sweep.
const (
	DefaultRetention     = 24 * time.Hour
	DefaultSweepInterval = 10 * time.Minute
)

// Keeper applies the idempotency contract around an operation.
type Keeper struct {
	store  Store
	logger *slog.Logger

	retention     time.Duration
	sweepInterval time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewKeeper creates a Keeper over the given store.
func NewKeeper(store Store, opts ...Option) *Keeper {
	k := &Keeper{
		store:         store,
		logger:        slog.Default(),
		retention:     DefaultRetention,
		sweepInterval: DefaultSweepInterval,
		stopChan:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(k)
	}

	return k
}

// Option configures a Keeper instance.
type Option func(*Keeper)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(k *Keeper) {
		k.logger = logger
	}
}

// WithRetention sets how long records are replayed before expiring.
func WithRetention(d time.Duration) Option {
	return func(k *Keeper) {
		if d > 0 {
			k.retention = d
		}
	}
}

// WithSweepInterval sets how often expired records are reclaimed.
func WithSweepInterval(d time.Duration) Option {
	return func(k *Keeper) {
		if d > 0 {
			k.sweepInterval = d
		}
	}
}

// Execute runs fn under the idempotency contract for {caller}:{key}.
//
// A stored record is replayed without running fn (replayed=true). Otherwise
// fn runs and its response is persisted with an atomic insert-if-absent; if
// a concurrent first submission won the insert race, the winner's record is
// returned and this execution's response is discarded. An error from fn
// stores nothing, leaving the key available for a retry.
func (k *Keeper) Execute(ctx context.Context, caller, key string, fn func(ctx context.Context) (status int, body []byte, err error)) (*Record, bool, error) {
	if err := ValidateKey(key); err != nil {
		return nil, false, err
	}

	scope := ScopeKey(caller, key)

	rec, err := k.store.Get(ctx, scope)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	status, body, err := fn(ctx)
	if err != nil {
		return nil, false, err
	}

	rec = &Record{
		Key:       scope,
		Status:    status,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}

	stored, inserted, err := k.store.PutIfAbsent(ctx, rec, k.retention)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		k.logger.Debug("idempotency insert race lost, replaying winner", "key", scope)
	}
	return stored, !inserted, nil
}

// Retention reports the replay window.
func (k *Keeper) Retention() time.Duration {
	return k.retention
}

// Start launches the retention sweep worker.
func (k *Keeper) Start(ctx context.Context) {
	k.wg.Add(1)
	go k.sweepWorker(ctx)
}

// Stop halts the sweep worker and closes the store.
func (k *Keeper) Stop() error {
	k.stopOnce.Do(func() { close(k.stopChan) })
	k.wg.Wait()
	return k.store.Close()
}

func (k *Keeper) sweepWorker(ctx context.Context) {
	defer k.wg.Done()

	ticker := time.NewTicker(k.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-k.stopChan:
			return
		case <-ticker.C:
			k.sweep(ctx)
		}
	}
}

func (k *Keeper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-k.retention)

	purged, err := k.store.Purge(ctx, cutoff)
	if err != nil {
		k.logger.Error("idempotency sweep failed", "error", err)
		return
	}
	if purged > 0 {
		k.logger.Debug("idempotency sweep", "purged", purged)
	}
}
