package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/loyalty/idempotency"
	"github.com/xraph/loyalty/idempotency/memory"
)

func TestGetAbsent(t *testing.T) {
	s := memory.New()
	if _, err := s.Get(context.Background(), "m:missing"); !errors.Is(err, idempotency.ErrNotFound) {
		t.Errorf("Get absent = %v, want ErrNotFound", err)
	}
}

func TestPutIfAbsentKeepsFirstWrite(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	first := &idempotency.Record{Key: "m:k", Status: 200, Body: []byte("first"), CreatedAt: time.Now()}
	stored, inserted, err := s.PutIfAbsent(ctx, first, time.Hour)
	if err != nil || !inserted {
		t.Fatalf("First put: err=%v inserted=%v", err, inserted)
	}
	if string(stored.Body) != "first" {
		t.Errorf("Stored body = %s", stored.Body)
	}

	second := &idempotency.Record{Key: "m:k", Status: 500, Body: []byte("second"), CreatedAt: time.Now()}
	stored, inserted, err = s.PutIfAbsent(ctx, second, time.Hour)
	if err != nil {
		t.Fatalf("Second put error: %v", err)
	}
	if inserted {
		t.Error("Second put must not insert")
	}
	if string(stored.Body) != "first" {
		t.Errorf("Second put returned %s, want first write", stored.Body)
	}
}

func TestExpiredRecordIsAbsent(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	rec := &idempotency.Record{Key: "m:k", Status: 200, Body: []byte("x"), CreatedAt: time.Now()}
	if _, _, err := s.PutIfAbsent(ctx, rec, 20*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	time.Sleep(40 * time.Millisecond)

	if _, err := s.Get(ctx, "m:k"); !errors.Is(err, idempotency.ErrNotFound) {
		t.Errorf("Expired Get = %v, want ErrNotFound", err)
	}

	// The slot is reusable once expired.
	if _, inserted, err := s.PutIfAbsent(ctx, rec, time.Hour); err != nil || !inserted {
		t.Errorf("Put over expired: err=%v inserted=%v, want insert", err, inserted)
	}
}

func TestPurge(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	old := &idempotency.Record{Key: "m:old", Status: 200, Body: []byte("x"), CreatedAt: time.Now().Add(-2 * time.Hour)}
	fresh := &idempotency.Record{Key: "m:fresh", Status: 200, Body: []byte("y"), CreatedAt: time.Now()}

	if _, _, err := s.PutIfAbsent(ctx, old, 24*time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.PutIfAbsent(ctx, fresh, 24*time.Hour); err != nil {
		t.Fatal(err)
	}

	purged, err := s.Purge(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Purge error: %v", err)
	}
	if purged != 1 {
		t.Errorf("Purged = %d, want 1", purged)
	}

	if _, err := s.Get(ctx, "m:old"); !errors.Is(err, idempotency.ErrNotFound) {
		t.Error("Old record survived purge")
	}
	if _, err := s.Get(ctx, "m:fresh"); err != nil {
		t.Errorf("Fresh record purged: %v", err)
	}
}
