package webhook_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/loyalty/webhook"
)

type staticSource struct {
	ep  *webhook.Endpoint
	err error
}

func (s staticSource) GetWebhookEndpoint(context.Context, string) (*webhook.Endpoint, error) {
	return s.ep, s.err
}

func TestDeliveryIsSignedAndShaped(t *testing.T) {
	type captured struct {
		contentType string
		signature   string
		body        []byte
	}
	got := make(chan captured, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- captured{
			contentType: r.Header.Get("Content-Type"),
			signature:   r.Header.Get(webhook.HeaderSignature),
			body:        body,
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	const secret = "whsec_test"
	d := webhook.NewDispatcher(staticSource{ep: &webhook.Endpoint{
		MerchantID: "merchant-1",
		URL:        server.URL,
		Secret:     secret,
	}})

	d.Send(context.Background(), "merchant-1", "points.credited", map[string]any{"amount": 100})
	d.Close()

	var req captured
	select {
	case req = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("Delivery never arrived")
	}

	if req.contentType != "application/json" {
		t.Errorf("Content-Type = %q", req.contentType)
	}
	if err := webhook.Verify(req.signature, req.body, secret); err != nil {
		t.Errorf("Signature did not verify: %v", err)
	}

	var event struct {
		ID        string         `json:"id"`
		Event     string         `json:"event"`
		CreatedAt time.Time      `json:"created_at"`
		Data      map[string]any `json:"data"`
	}
	if err := json.Unmarshal(req.body, &event); err != nil {
		t.Fatalf("Unmarshal event: %v", err)
	}
	if !strings.HasPrefix(event.ID, "evt_") {
		t.Errorf("Event ID = %q, want evt_ prefix", event.ID)
	}
	if event.Event != "points.credited" {
		t.Errorf("Event = %q", event.Event)
	}
	if event.CreatedAt.IsZero() {
		t.Error("Event missing created_at")
	}
	if event.Data["amount"] != float64(100) {
		t.Errorf("Data amount = %v", event.Data["amount"])
	}

	deliveries := d.Deliveries()
	if len(deliveries) != 1 {
		t.Fatalf("Deliveries = %d, want 1", len(deliveries))
	}
	if !deliveries[0].Success || deliveries[0].Attempts != 1 {
		t.Errorf("Delivery = success:%v attempts:%d, want success on first attempt",
			deliveries[0].Success, deliveries[0].Attempts)
	}
}

func TestRetrySucceedsOnThirdAttempt(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := webhook.NewDispatcher(
		staticSource{ep: &webhook.Endpoint{MerchantID: "merchant-1", URL: server.URL, Secret: "whsec_test"}},
		webhook.WithRetryDelay(10*time.Millisecond),
	)

	start := time.Now()
	d.Send(context.Background(), "merchant-1", "points.credited", map[string]int{"amount": 100})
	d.Close()

	if n := hits.Load(); n != 3 {
		t.Errorf("Endpoint hit %d times, want 3", n)
	}

	// Two failures cost one delay then a doubled delay before the final
	// successful attempt.
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Delivery finished in %s, want at least the two backoff delays", elapsed)
	}

	deliveries := d.Deliveries()
	if len(deliveries) != 1 {
		t.Fatalf("Deliveries = %d, want 1", len(deliveries))
	}
	if !deliveries[0].Success {
		t.Error("Delivery should succeed on the third attempt")
	}
	if deliveries[0].Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", deliveries[0].Attempts)
	}
}

func TestRetriesExhausted(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d := webhook.NewDispatcher(
		staticSource{ep: &webhook.Endpoint{MerchantID: "merchant-1", URL: server.URL, Secret: "whsec_test"}},
		webhook.WithRetryDelay(time.Millisecond),
	)

	d.Send(context.Background(), "merchant-1", "points.credited", map[string]int{"amount": 100})
	d.Close()

	if n := hits.Load(); n != 3 {
		t.Errorf("Endpoint hit %d times, want 3", n)
	}

	deliveries := d.Deliveries()
	if len(deliveries) != 1 {
		t.Fatalf("Deliveries = %d, want 1", len(deliveries))
	}
	if deliveries[0].Success {
		t.Error("Delivery should fail after exhausting attempts")
	}
	if deliveries[0].Error == "" {
		t.Error("Failed delivery missing error detail")
	}
	if deliveries[0].Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", deliveries[0].Attempts)
	}
}

func TestMissingEndpointIsSkipped(t *testing.T) {
	d := webhook.NewDispatcher(staticSource{err: errors.New("not configured")})

	// Must not panic or record a delivery; the caller never learns.
	d.Send(context.Background(), "merchant-1", "points.credited", nil)
	d.Close()

	if n := len(d.Deliveries()); n != 0 {
		t.Errorf("Deliveries = %d, want 0 for unconfigured merchant", n)
	}
}

func TestBlankEndpointIsSkipped(t *testing.T) {
	d := webhook.NewDispatcher(staticSource{ep: &webhook.Endpoint{MerchantID: "merchant-1"}})

	d.Send(context.Background(), "merchant-1", "points.credited", nil)
	d.Close()

	if n := len(d.Deliveries()); n != 0 {
		t.Errorf("Deliveries = %d, want 0 for blank endpoint", n)
	}
}

func TestHistoryBound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := webhook.NewDispatcher(
		staticSource{ep: &webhook.Endpoint{MerchantID: "merchant-1", URL: server.URL, Secret: "whsec_test"}},
		webhook.WithHistorySize(2),
	)

	for i := 0; i < 5; i++ {
		d.Send(context.Background(), "merchant-1", "points.credited", map[string]int{"n": i})
	}
	d.Close()

	if n := len(d.Deliveries()); n != 2 {
		t.Errorf("Deliveries = %d, want history bounded to 2", n)
	}
}

func TestSendAfterCloseDropped(t *testing.T) {
	d := webhook.NewDispatcher(staticSource{ep: &webhook.Endpoint{MerchantID: "m", URL: "http://127.0.0.1:0", Secret: "s"}})
	d.Close()

	// No goroutine may start after Close returned.
	d.Send(context.Background(), "merchant-1", "points.credited", nil)

	if n := len(d.Deliveries()); n != 0 {
		t.Errorf("Deliveries = %d, want 0 after Close", n)
	}
}
