package loyalty_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/xraph/loyalty"
	"github.com/xraph/loyalty/bus"
	busmem "github.com/xraph/loyalty/bus/memory"
	"github.com/xraph/loyalty/idempotency"
	idemmem "github.com/xraph/loyalty/idempotency/memory"
	"github.com/xraph/loyalty/ledger"
	"github.com/xraph/loyalty/store"
	"github.com/xraph/loyalty/store/memory"
	"github.com/xraph/loyalty/types"
	"github.com/xraph/loyalty/webhook"
)

func startEngine(t *testing.T, s store.Store, opts ...loyalty.Option) *loyalty.Engine {
	t.Helper()

	eng := loyalty.New(s, opts...)
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		if err := eng.Stop(); err != nil {
			t.Errorf("Stop: %v", err)
		}
	})
	return eng
}

func seedPair(t *testing.T, eng *loyalty.Engine, merchantID, uid string, opening types.Points) {
	t.Helper()

	ctx := context.Background()
	if _, err := eng.CreatePool(ctx, merchantID, opening); err != nil {
		t.Fatalf("CreatePool(%s): %v", merchantID, err)
	}
	if _, err := eng.CreateAccount(ctx, merchantID, uid); err != nil {
		t.Fatalf("CreateAccount(%s, %s): %v", merchantID, uid, err)
	}
}

func transfer(merchantID, uid string, amount types.Points, ref string) *ledger.Transfer {
	return &ledger.Transfer{
		MerchantID:  merchantID,
		CustomerUID: uid,
		Amount:      amount,
		Type:        "purchase_reward",
		Title:       "Points",
		ReferenceID: ref,
	}
}

func TestCreditMovesPoolToAccount(t *testing.T) {
	eng := startEngine(t, memory.New())
	ctx := context.Background()
	seedPair(t, eng, "merchant-1", "customer-1", types.P(1000))

	entry, err := eng.Credit(ctx, transfer("merchant-1", "customer-1", types.P(100), "order-1"))
	if err != nil {
		t.Fatalf("Credit: %v", err)
	}

	if entry.Direction != ledger.DirectionCredit {
		t.Errorf("direction = %q, want %q", entry.Direction, ledger.DirectionCredit)
	}
	if entry.Status != ledger.StatusSuccessful {
		t.Errorf("status = %q, want %q", entry.Status, ledger.StatusSuccessful)
	}
	if entry.BalanceBefore != types.P(0) || entry.BalanceAfter != types.P(100) {
		t.Errorf("balance snapshot = %s -> %s, want 0 pts -> 100 pts",
			entry.BalanceBefore, entry.BalanceAfter)
	}

	pool, err := eng.Pool(ctx, "merchant-1")
	if err != nil {
		t.Fatalf("Pool: %v", err)
	}
	if pool.Balance != types.P(900) {
		t.Errorf("pool balance = %s, want 900 pts", pool.Balance)
	}

	acct, err := eng.Account(ctx, "merchant-1", "customer-1")
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if acct.Balance != types.P(100) {
		t.Errorf("account balance = %s, want 100 pts", acct.Balance)
	}
}

func TestDebitInsufficientPoints(t *testing.T) {
	eng := startEngine(t, memory.New())
	ctx := context.Background()
	seedPair(t, eng, "merchant-1", "customer-1", types.P(1000))

	if _, err := eng.Credit(ctx, transfer("merchant-1", "customer-1", types.P(100), "order-1")); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	_, err := eng.Debit(ctx, transfer("merchant-1", "customer-1", types.P(150), "redeem-1"))
	if !errors.Is(err, loyalty.ErrInsufficientPoints) {
		t.Fatalf("Debit err = %v, want ErrInsufficientPoints", err)
	}
	if code := loyalty.Code(err); code != "insufficient_points" {
		t.Errorf("Code = %q, want insufficient_points", code)
	}

	// The rejected debit must not have moved anything.
	acct, err := eng.Account(ctx, "merchant-1", "customer-1")
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if acct.Balance != types.P(100) {
		t.Errorf("account balance = %s, want 100 pts", acct.Balance)
	}
	pool, err := eng.Pool(ctx, "merchant-1")
	if err != nil {
		t.Fatalf("Pool: %v", err)
	}
	if pool.Balance != types.P(900) {
		t.Errorf("pool balance = %s, want 900 pts", pool.Balance)
	}
}

func TestTransferValidation(t *testing.T) {
	eng := startEngine(t, memory.New())
	ctx := context.Background()
	seedPair(t, eng, "merchant-1", "customer-1", types.P(1000))

	tests := []struct {
		name   string
		mutate func(*ledger.Transfer)
	}{
		{"missing merchant", func(tr *ledger.Transfer) { tr.MerchantID = "" }},
		{"missing uid", func(tr *ledger.Transfer) { tr.CustomerUID = "" }},
		{"missing reference", func(tr *ledger.Transfer) { tr.ReferenceID = "" }},
		{"missing type", func(tr *ledger.Transfer) { tr.Type = "" }},
		{"missing title", func(tr *ledger.Transfer) { tr.Title = "" }},
		{"zero amount", func(tr *ledger.Transfer) { tr.Amount = types.P(0) }},
		{"negative amount", func(tr *ledger.Transfer) { tr.Amount = types.P(-5) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := transfer("merchant-1", "customer-1", types.P(10), "ref-x")
			tt.mutate(tr)

			_, err := eng.Credit(ctx, tr)
			if err == nil {
				t.Fatal("Credit accepted a malformed transfer")
			}
			if !loyalty.IsValidation(err) {
				t.Errorf("IsValidation(%v) = false, want true", err)
			}
		})
	}

	// Nothing may have reached the ledger.
	entries, err := eng.Transactions(ctx, "merchant-1", "customer-1", ledger.ListOpts{})
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("entries = %d, want 0", len(entries))
	}
}

func TestCreateAccountIdempotent(t *testing.T) {
	eng := startEngine(t, memory.New())
	ctx := context.Background()

	first, err := eng.CreateAccount(ctx, "merchant-1", "customer-1")
	if err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	second, err := eng.CreateAccount(ctx, "merchant-1", "customer-1")
	if err != nil {
		t.Fatalf("CreateAccount again: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("re-creation returned a new account: %s vs %s", first.ID, second.ID)
	}
}

func TestIdempotentReplay(t *testing.T) {
	keeper := idempotency.NewKeeper(idemmem.New())
	eng := startEngine(t, memory.New(), loyalty.WithIdempotency(keeper))
	ctx := context.Background()
	seedPair(t, eng, "merchant-1", "customer-1", types.P(1000))

	var calls int
	fn := func(ctx context.Context) (int, []byte, error) {
		calls++
		entry, err := eng.Credit(ctx, transfer("merchant-1", "customer-1", types.P(100), "order-1"))
		if err != nil {
			return 0, nil, err
		}
		body, err := json.Marshal(entry)
		return http.StatusOK, body, err
	}

	status1, body1, replayed, err := eng.Idempotent(ctx, "merchant-1", "key-1", fn)
	if err != nil {
		t.Fatalf("first Idempotent: %v", err)
	}
	if replayed {
		t.Error("first execution reported as replay")
	}

	status2, body2, replayed, err := eng.Idempotent(ctx, "merchant-1", "key-1", fn)
	if err != nil {
		t.Fatalf("second Idempotent: %v", err)
	}
	if !replayed {
		t.Error("second execution did not replay")
	}
	if calls != 1 {
		t.Errorf("operation ran %d times, want 1", calls)
	}
	if status1 != status2 || !bytes.Equal(body1, body2) {
		t.Error("replayed response differs from the original")
	}

	entries, err := eng.Transactions(ctx, "merchant-1", "customer-1", ledger.ListOpts{})
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}

	// Key violations are rejected before the operation runs.
	if _, _, _, err := eng.Idempotent(ctx, "merchant-1", "bad key!", fn); !errors.Is(err, idempotency.ErrInvalidKey) {
		t.Errorf("invalid key err = %v, want ErrInvalidKey", err)
	}
	if _, _, _, err := eng.Idempotent(ctx, "merchant-1", "", fn); !errors.Is(err, idempotency.ErrKeyRequired) {
		t.Errorf("empty key err = %v, want ErrKeyRequired", err)
	}
	if calls != 1 {
		t.Errorf("rejected keys still ran the operation: %d calls", calls)
	}
}

func TestDelegatedTransfer(t *testing.T) {
	ctx := context.Background()
	shared := memory.New()
	transport := busmem.New()

	// Authority side: local engine serving transfer requests off the bus.
	authority := startEngine(t, shared)
	responder := bus.NewResponder(transport, bus.WithErrorMapper(loyalty.MapError))
	loyalty.ServeTransfers(responder, authority)
	if err := responder.Start(ctx); err != nil {
		t.Fatalf("responder Start: %v", err)
	}
	t.Cleanup(func() {
		if err := responder.Close(); err != nil {
			t.Errorf("responder Close: %v", err)
		}
	})

	// API side: same store view, transfers delegated over the bus.
	b := bus.New(transport, bus.WithTimeout(2*time.Second))
	if err := b.Start(ctx); err != nil {
		t.Fatalf("bus Start: %v", err)
	}
	t.Cleanup(func() {
		if err := b.Close(); err != nil {
			t.Errorf("bus Close: %v", err)
		}
	})

	api := startEngine(t, shared, loyalty.WithTransactor(loyalty.NewDelegatedTransactor(b)))
	seedPair(t, api, "merchant-1", "customer-1", types.P(1000))

	entry, err := api.Credit(ctx, transfer("merchant-1", "customer-1", types.P(100), "order-1"))
	if err != nil {
		t.Fatalf("delegated Credit: %v", err)
	}
	if entry.BalanceAfter != types.P(100) {
		t.Errorf("balance after = %s, want 100 pts", entry.BalanceAfter)
	}

	pool, err := api.Pool(ctx, "merchant-1")
	if err != nil {
		t.Fatalf("Pool: %v", err)
	}
	if pool.Balance != types.P(900) {
		t.Errorf("pool balance = %s, want 900 pts", pool.Balance)
	}

	// Business failures cross the wire with code and status intact and
	// satisfy the same sentinel checks as local ones.
	_, err = api.Debit(ctx, transfer("merchant-1", "customer-1", types.P(150), "redeem-1"))
	if !errors.Is(err, loyalty.ErrInsufficientPoints) {
		t.Fatalf("delegated Debit err = %v, want ErrInsufficientPoints", err)
	}
	var remote *bus.RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("delegated Debit err = %v, want *bus.RemoteError in chain", err)
	}
	if remote.Code != "insufficient_points" {
		t.Errorf("remote code = %q, want insufficient_points", remote.Code)
	}
	if remote.StatusCode != http.StatusBadRequest {
		t.Errorf("remote status = %d, want %d", remote.StatusCode, http.StatusBadRequest)
	}
}

func TestDelegatedNoSubscribersFailsFast(t *testing.T) {
	ctx := context.Background()

	// Nobody serves the events channel.
	b := bus.New(busmem.New(), bus.WithTimeout(5*time.Second))
	if err := b.Start(ctx); err != nil {
		t.Fatalf("bus Start: %v", err)
	}
	t.Cleanup(func() {
		if err := b.Close(); err != nil {
			t.Errorf("bus Close: %v", err)
		}
	})

	eng := startEngine(t, memory.New(), loyalty.WithTransactor(loyalty.NewDelegatedTransactor(b)))
	seedPair(t, eng, "merchant-1", "customer-1", types.P(1000))

	start := time.Now()
	_, err := eng.Credit(ctx, transfer("merchant-1", "customer-1", types.P(100), "order-1"))
	if !errors.Is(err, bus.ErrNoSubscribers) {
		t.Fatalf("Credit err = %v, want ErrNoSubscribers", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("failure took %v, want immediate", elapsed)
	}
	if n := b.Pending(); n != 0 {
		t.Errorf("pending waiters = %d, want 0", n)
	}
}

func TestWebhookFiresOnCredit(t *testing.T) {
	var (
		mu        sync.Mutex
		gotBody   []byte
		gotHeader string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body) //nolint:errcheck // test server
		mu.Lock()
		gotBody = body
		gotHeader = r.Header.Get(webhook.HeaderSignature)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	shared := memory.New()
	dispatcher := webhook.NewDispatcher(shared)
	eng := startEngine(t, shared, loyalty.WithWebhooks(dispatcher))
	ctx := context.Background()
	seedPair(t, eng, "merchant-1", "customer-1", types.P(1000))

	if err := eng.SetWebhookEndpoint(ctx, "merchant-1", srv.URL, "whsec_test"); err != nil {
		t.Fatalf("SetWebhookEndpoint: %v", err)
	}

	if _, err := eng.Credit(ctx, transfer("merchant-1", "customer-1", types.P(100), "order-1")); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	// Close waits for the in-flight delivery.
	dispatcher.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(gotBody) == 0 {
		t.Fatal("endpoint received no delivery")
	}
	if err := webhook.Verify(gotHeader, gotBody, "whsec_test"); err != nil {
		t.Errorf("signature verification failed: %v", err)
	}

	var evt webhook.Event
	if err := json.Unmarshal(gotBody, &evt); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if evt.Event != loyalty.EventPointsCredited {
		t.Errorf("event = %q, want %q", evt.Event, loyalty.EventPointsCredited)
	}
	data, ok := evt.Data.(map[string]any)
	if !ok {
		t.Fatalf("event data = %T, want object", evt.Data)
	}
	if ref := data["reference_id"]; ref != "order-1" {
		t.Errorf("event reference_id = %v, want order-1", ref)
	}
}

// hookRecorder counts engine lifecycle hooks.
type hookRecorder struct {
	mu       sync.Mutex
	credited int
	debited  int
	failed   int
	replayed int
}

func (h *hookRecorder) Name() string { return "hook-recorder" }

func (h *hookRecorder) OnPointsCredited(_ context.Context, _ interface{}) error {
	h.mu.Lock()
	h.credited++
	h.mu.Unlock()
	return nil
}

func (h *hookRecorder) OnPointsDebited(_ context.Context, _ interface{}) error {
	h.mu.Lock()
	h.debited++
	h.mu.Unlock()
	return nil
}

func (h *hookRecorder) OnTransferFailed(_ context.Context, _ interface{}, _ error) error {
	h.mu.Lock()
	h.failed++
	h.mu.Unlock()
	return nil
}

func (h *hookRecorder) OnIdempotentReplay(_ context.Context, _, _ string) error {
	h.mu.Lock()
	h.replayed++
	h.mu.Unlock()
	return nil
}

func (h *hookRecorder) counts() (credited, debited, failed, replayed int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.credited, h.debited, h.failed, h.replayed
}

func TestPluginHooks(t *testing.T) {
	rec := &hookRecorder{}
	keeper := idempotency.NewKeeper(idemmem.New())
	eng := startEngine(t, memory.New(),
		loyalty.WithPlugin(rec),
		loyalty.WithIdempotency(keeper),
	)
	ctx := context.Background()
	seedPair(t, eng, "merchant-1", "customer-1", types.P(1000))

	if _, err := eng.Credit(ctx, transfer("merchant-1", "customer-1", types.P(100), "order-1")); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if _, err := eng.Debit(ctx, transfer("merchant-1", "customer-1", types.P(40), "redeem-1")); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if _, err := eng.Debit(ctx, transfer("merchant-1", "customer-1", types.P(500), "redeem-2")); err == nil {
		t.Fatal("oversized debit succeeded")
	}

	fn := func(ctx context.Context) (int, []byte, error) {
		return http.StatusOK, []byte(`{}`), nil
	}
	for range 2 {
		if _, _, _, err := eng.Idempotent(ctx, "merchant-1", "key-1", fn); err != nil {
			t.Fatalf("Idempotent: %v", err)
		}
	}

	credited, debited, failed, replayed := rec.counts()
	if credited != 1 || debited != 1 || failed != 1 || replayed != 1 {
		t.Errorf("hook counts credited=%d debited=%d failed=%d replayed=%d, want 1 each",
			credited, debited, failed, replayed)
	}
}
