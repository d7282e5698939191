package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/loyalty/bus"
	"github.com/xraph/loyalty/bus/memory"
)

func TestPublishCountsSubscribers(t *testing.T) {
	transport := memory.New()
	defer transport.Close()

	ctx := context.Background()

	n, err := transport.Publish(ctx, "events", []byte(`{}`))
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if n != 0 {
		t.Errorf("Receivers = %d, want 0", n)
	}

	received := make(chan []byte, 2)
	for i := 0; i < 2; i++ {
		if _, err := transport.Subscribe(ctx, "events", func(p []byte) { received <- p }); err != nil {
			t.Fatalf("Subscribe error: %v", err)
		}
	}

	n, err = transport.Publish(ctx, "events", []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if n != 2 {
		t.Errorf("Receivers = %d, want 2", n)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatal("Delivery missing")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	transport := memory.New()
	defer transport.Close()

	ctx := context.Background()

	sub, err := transport.Subscribe(ctx, "events", func([]byte) {})
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe error: %v", err)
	}

	n, err := transport.Publish(ctx, "events", []byte(`{}`))
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if n != 0 {
		t.Errorf("Receivers after unsubscribe = %d, want 0", n)
	}
}

func TestClosedTransport(t *testing.T) {
	transport := memory.New()
	if err := transport.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	ctx := context.Background()

	if _, err := transport.Publish(ctx, "events", []byte(`{}`)); !errors.Is(err, bus.ErrClosed) {
		t.Errorf("Publish after close = %v, want ErrClosed", err)
	}
	if _, err := transport.Subscribe(ctx, "events", func([]byte) {}); !errors.Is(err, bus.ErrClosed) {
		t.Errorf("Subscribe after close = %v, want ErrClosed", err)
	}
}
