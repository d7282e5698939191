// Package webhook delivers signed event notifications to merchant endpoints.
//
// Deliveries are fire-and-forget: Send schedules a background delivery with
// its own error boundary, so a failing endpoint can never surface into the
// ledger operation that triggered it. Each delivery makes a bounded number
// of attempts with doubling delays and logs terminal failures with full
// context. There is no dead-letter queue.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/xraph/loyalty/id"
)

// Delivery defaults.
const (
	DefaultMaxAttempts = 3
	DefaultTimeout     = 5 * time.Second
	DefaultRetryDelay  = time.Second
	DefaultHistorySize = 128
)

// Dispatcher posts signed events to merchant endpoints.
type Dispatcher struct {
	source Source
	client *http.Client
	logger *slog.Logger

	maxAttempts int
	retryDelay  time.Duration
	historySize int

	mu         sync.Mutex
	deliveries []*Delivery
	closed     bool
	wg         sync.WaitGroup
}

// NewDispatcher creates a Dispatcher resolving endpoints through source.
func NewDispatcher(source Source, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		source:      source,
		client:      &http.Client{Timeout: DefaultTimeout},
		logger:      slog.Default(),
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
		historySize: DefaultHistorySize,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Option configures a Dispatcher instance.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithHTTPClient replaces the delivery client. The client's Timeout bounds
// each attempt.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithMaxAttempts sets how many times one delivery is tried.
func WithMaxAttempts(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the delay before the second attempt; it doubles after
// each further failure.
func WithRetryDelay(delay time.Duration) Option {
	return func(d *Dispatcher) {
		if delay > 0 {
			d.retryDelay = delay
		}
	}
}

// WithHistorySize bounds the retained delivery outcomes.
func WithHistorySize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.historySize = n
		}
	}
}

// Send schedules delivery of an event to the merchant's endpoint and returns
// immediately. The delivery detaches from the caller's cancellation; ctx
// values still flow into the lookup and attempts.
func (d *Dispatcher) Send(ctx context.Context, merchantID, event string, data any) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	go func() {
		defer d.wg.Done()
		d.deliver(ctx, merchantID, event, data)
	}()
}

// Deliveries returns recent delivery outcomes, oldest first.
func (d *Dispatcher) Deliveries() []*Delivery {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]*Delivery, len(d.deliveries))
	copy(out, d.deliveries)
	return out
}

// Close stops accepting events and waits for in-flight deliveries.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, merchantID, event string, data any) {
	ep, err := d.source.GetWebhookEndpoint(ctx, merchantID)
	if err != nil || ep == nil || ep.URL == "" || ep.Secret == "" {
		d.logger.Debug("webhook skipped, endpoint not configured",
			"merchant_id", merchantID,
			"event", event,
		)
		return
	}

	payload, err := json.Marshal(Event{
		ID:        id.NewEventID(),
		Event:     event,
		CreatedAt: time.Now().UTC(),
		Data:      data,
	})
	if err != nil {
		d.logger.Error("webhook payload marshal failed",
			"error", err,
			"merchant_id", merchantID,
			"event", event,
		)
		return
	}

	delivery := &Delivery{
		ID:         id.NewDeliveryID(),
		MerchantID: merchantID,
		Event:      event,
		URL:        ep.URL,
		CreatedAt:  time.Now().UTC(),
	}

	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		if attempt > 1 {
			time.Sleep(d.retryDelay << (attempt - 2))
		}

		delivery.Attempts = attempt
		if lastErr = d.attempt(ctx, ep, payload); lastErr == nil {
			delivery.Success = true
			break
		}

		d.logger.Warn("webhook attempt failed",
			"error", lastErr,
			"merchant_id", merchantID,
			"event", event,
			"url", ep.URL,
			"attempt", attempt,
		)
	}

	if !delivery.Success {
		delivery.Error = lastErr.Error()
		d.logger.Error("webhook delivery failed",
			"error", lastErr,
			"merchant_id", merchantID,
			"event", event,
			"url", ep.URL,
			"attempts", delivery.Attempts,
		)
	}
	delivery.CompletedAt = time.Now().UTC()
	d.record(delivery)
}

// attempt posts the payload once, signing with a fresh timestamp so retried
// deliveries never reuse a stale signature.
func (d *Dispatcher) attempt(ctx context.Context, ep *Endpoint, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, SignatureHeader(time.Now().Unix(), payload, ep.Secret))

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck // response body, best-effort close

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drained for connection reuse only

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: endpoint returned %s", resp.Status)
	}
	return nil
}

func (d *Dispatcher) record(delivery *Delivery) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.deliveries = append(d.deliveries, delivery)
	if len(d.deliveries) > d.historySize {
		d.deliveries = d.deliveries[len(d.deliveries)-d.historySize:]
	}
}
