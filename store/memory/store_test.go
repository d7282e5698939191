package memory_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/xraph/loyalty"
	"github.com/xraph/loyalty/customer"
	"github.com/xraph/loyalty/id"
	"github.com/xraph/loyalty/ledger"
	"github.com/xraph/loyalty/merchant"
	"github.com/xraph/loyalty/store/memory"
	"github.com/xraph/loyalty/types"
	"github.com/xraph/loyalty/webhook"
)

func seed(t *testing.T, s *memory.Store, merchantID string, pool types.Points, uids ...string) {
	t.Helper()
	ctx := context.Background()

	err := s.CreatePool(ctx, &merchant.Pool{
		Entity:     types.NewEntity(),
		ID:         id.NewPoolID(),
		MerchantID: merchantID,
		Balance:    pool,
	})
	if err != nil {
		t.Fatalf("CreatePool error: %v", err)
	}

	for _, uid := range uids {
		err := s.CreateAccount(ctx, &customer.Account{
			Entity:      types.NewEntity(),
			ID:          id.NewAccountID(),
			MerchantID:  merchantID,
			CustomerUID: uid,
		})
		if err != nil {
			t.Fatalf("CreateAccount error: %v", err)
		}
	}
}

func endpointFor(merchantID, url, secret string) *webhook.Endpoint {
	return &webhook.Endpoint{
		Entity:     types.NewEntity(),
		MerchantID: merchantID,
		URL:        url,
		Secret:     secret,
	}
}

func transfer(merchantID, uid string, dir ledger.Direction, amount types.Points, ref string) *ledger.Transfer {
	return &ledger.Transfer{
		MerchantID:  merchantID,
		CustomerUID: uid,
		Direction:   dir,
		Amount:      amount,
		Type:        "purchase_reward",
		ReferenceID: ref,
		Title:       "Points",
	}
}

func TestApplyTransferCredit(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	seed(t, s, "merchant-1", types.P(1000), "cust-1")

	entry, err := s.ApplyTransfer(ctx, transfer("merchant-1", "cust-1", ledger.DirectionCredit, types.P(100), "ref-1"))
	if err != nil {
		t.Fatalf("ApplyTransfer error: %v", err)
	}

	if !strings.HasPrefix(entry.ID.String(), "txn_") {
		t.Errorf("Entry ID = %q, want txn_ prefix", entry.ID)
	}
	if entry.Direction != ledger.DirectionCredit {
		t.Errorf("Direction = %q", entry.Direction)
	}
	if entry.Status != ledger.StatusSuccessful {
		t.Errorf("Status = %q, want successful", entry.Status)
	}
	if entry.BalanceBefore != types.P(0) || entry.BalanceAfter != types.P(100) {
		t.Errorf("Balances = %v → %v, want 0 → 100", entry.BalanceBefore, entry.BalanceAfter)
	}

	pool, err := s.GetPool(ctx, "merchant-1")
	if err != nil {
		t.Fatal(err)
	}
	if pool.Balance != types.P(900) {
		t.Errorf("Pool balance = %v, want 900", pool.Balance)
	}

	account, err := s.GetAccount(ctx, "merchant-1", "cust-1")
	if err != nil {
		t.Fatal(err)
	}
	if account.Balance != types.P(100) {
		t.Errorf("Account balance = %v, want 100", account.Balance)
	}
}

func TestApplyTransferDebit(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	seed(t, s, "merchant-1", types.P(1000), "cust-1")

	if _, err := s.ApplyTransfer(ctx, transfer("merchant-1", "cust-1", ledger.DirectionCredit, types.P(100), "ref-1")); err != nil {
		t.Fatal(err)
	}

	entry, err := s.ApplyTransfer(ctx, transfer("merchant-1", "cust-1", ledger.DirectionDebit, types.P(40), "ref-2"))
	if err != nil {
		t.Fatalf("Debit error: %v", err)
	}
	if entry.BalanceBefore != types.P(100) || entry.BalanceAfter != types.P(60) {
		t.Errorf("Balances = %v → %v, want 100 → 60", entry.BalanceBefore, entry.BalanceAfter)
	}

	pool, _ := s.GetPool(ctx, "merchant-1")
	if pool.Balance != types.P(940) {
		t.Errorf("Pool balance = %v, want 940", pool.Balance)
	}
}

func TestInsufficientBalances(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	seed(t, s, "merchant-1", types.P(100), "cust-1")

	if _, err := s.ApplyTransfer(ctx, transfer("merchant-1", "cust-1", ledger.DirectionCredit, types.P(100), "ref-1")); err != nil {
		t.Fatal(err)
	}

	// Pool is now empty; customer holds 100.
	_, err := s.ApplyTransfer(ctx, transfer("merchant-1", "cust-1", ledger.DirectionCredit, types.P(1), "ref-2"))
	if !errors.Is(err, loyalty.ErrInsufficientMerchantPoints) {
		t.Errorf("Empty pool credit = %v, want ErrInsufficientMerchantPoints", err)
	}

	_, err = s.ApplyTransfer(ctx, transfer("merchant-1", "cust-1", ledger.DirectionDebit, types.P(150), "ref-3"))
	if !errors.Is(err, loyalty.ErrInsufficientPoints) {
		t.Errorf("Overdraft debit = %v, want ErrInsufficientPoints", err)
	}

	// Failed transfers must not move anything.
	pool, _ := s.GetPool(ctx, "merchant-1")
	account, _ := s.GetAccount(ctx, "merchant-1", "cust-1")
	if pool.Balance != types.P(0) || account.Balance != types.P(100) {
		t.Errorf("Balances after failures = pool %v account %v, want 0/100", pool.Balance, account.Balance)
	}

	entries, _ := s.ListEntries(ctx, "merchant-1", "cust-1", ledger.ListOpts{})
	if len(entries) != 1 {
		t.Errorf("Entries = %d, want only the successful transfer", len(entries))
	}
}

func TestDuplicateReference(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	seed(t, s, "merchant-1", types.P(1000), "cust-1")
	seed(t, s, "merchant-2", types.P(1000), "cust-1")

	if _, err := s.ApplyTransfer(ctx, transfer("merchant-1", "cust-1", ledger.DirectionCredit, types.P(100), "order-1")); err != nil {
		t.Fatal(err)
	}

	_, err := s.ApplyTransfer(ctx, transfer("merchant-1", "cust-1", ledger.DirectionCredit, types.P(100), "order-1"))
	if !errors.Is(err, loyalty.ErrDuplicateReference) {
		t.Fatalf("Duplicate reference = %v, want ErrDuplicateReference", err)
	}

	pool, _ := s.GetPool(ctx, "merchant-1")
	if pool.Balance != types.P(900) {
		t.Errorf("Pool balance = %v, duplicate must not double-apply", pool.Balance)
	}

	// Reference ids are scoped per merchant.
	if _, err := s.ApplyTransfer(ctx, transfer("merchant-2", "cust-1", ledger.DirectionCredit, types.P(100), "order-1")); err != nil {
		t.Errorf("Same reference under another merchant = %v, want success", err)
	}
}

func TestTransferMissingParties(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	seed(t, s, "merchant-1", types.P(1000), "cust-1")

	_, err := s.ApplyTransfer(ctx, transfer("ghost", "cust-1", ledger.DirectionCredit, types.P(10), "r1"))
	if !errors.Is(err, loyalty.ErrPoolNotFound) {
		t.Errorf("Unknown merchant = %v, want ErrPoolNotFound", err)
	}

	_, err = s.ApplyTransfer(ctx, transfer("merchant-1", "ghost", ledger.DirectionCredit, types.P(10), "r2"))
	if !errors.Is(err, loyalty.ErrAccountNotFound) {
		t.Errorf("Unknown customer = %v, want ErrAccountNotFound", err)
	}
}

func TestConservationUnderConcurrency(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	const opening = 10000
	seed(t, s, "merchant-1", types.P(opening), "cust-1", "cust-2")

	const workers = 8
	const opsPerWorker = 50

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < opsPerWorker; i++ {
				uid := "cust-1"
				if (w+i)%2 == 0 {
					uid = "cust-2"
				}
				dir := ledger.DirectionCredit
				if i%3 == 0 {
					dir = ledger.DirectionDebit
				}
				ref := fmt.Sprintf("w%d-op%d", w, i)
				_, err := s.ApplyTransfer(ctx, transfer("merchant-1", uid, dir, types.P(3), ref))
				if err != nil && !loyalty.IsInsufficientBalance(err) {
					t.Errorf("Unexpected transfer error: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	pool, _ := s.GetPool(ctx, "merchant-1")
	a1, _ := s.GetAccount(ctx, "merchant-1", "cust-1")
	a2, _ := s.GetAccount(ctx, "merchant-1", "cust-2")

	total := types.SumPoints(pool.Balance, a1.Balance, a2.Balance)
	if total != types.P(opening) {
		t.Errorf("Conservation violated: pool %v + accounts %v + %v = %v, want %d",
			pool.Balance, a1.Balance, a2.Balance, total, opening)
	}
	for _, b := range []types.Points{pool.Balance, a1.Balance, a2.Balance} {
		if b.IsNegative() {
			t.Errorf("Negative balance: %v", b)
		}
	}
}

func TestListEntriesNewestFirst(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	seed(t, s, "merchant-1", types.P(1000), "cust-1", "cust-2")

	for i := 1; i <= 5; i++ {
		ref := fmt.Sprintf("ref-%d", i)
		if _, err := s.ApplyTransfer(ctx, transfer("merchant-1", "cust-1", ledger.DirectionCredit, types.P(10), ref)); err != nil {
			t.Fatal(err)
		}
	}
	// Another customer's entry must not leak into the listing.
	if _, err := s.ApplyTransfer(ctx, transfer("merchant-1", "cust-2", ledger.DirectionCredit, types.P(10), "other")); err != nil {
		t.Fatal(err)
	}

	page1, err := s.ListEntries(ctx, "merchant-1", "cust-1", ledger.ListOpts{Page: 1, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page1) != 2 {
		t.Fatalf("Page 1 = %d entries, want 2", len(page1))
	}
	if page1[0].ReferenceID != "ref-5" || page1[1].ReferenceID != "ref-4" {
		t.Errorf("Page 1 = %s, %s; want ref-5, ref-4", page1[0].ReferenceID, page1[1].ReferenceID)
	}

	page3, err := s.ListEntries(ctx, "merchant-1", "cust-1", ledger.ListOpts{Page: 3, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(page3) != 1 || page3[0].ReferenceID != "ref-1" {
		t.Errorf("Page 3 = %d entries, want just ref-1", len(page3))
	}
}

func TestGetEntryByReference(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	seed(t, s, "merchant-1", types.P(1000), "cust-1")

	created, err := s.ApplyTransfer(ctx, transfer("merchant-1", "cust-1", ledger.DirectionCredit, types.P(100), "order-42"))
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.GetEntryByReference(ctx, "merchant-1", "order-42")
	if err != nil {
		t.Fatalf("GetEntryByReference error: %v", err)
	}
	if got.ID != created.ID {
		t.Errorf("Got entry %v, want %v", got.ID, created.ID)
	}

	if _, err := s.GetEntryByReference(ctx, "merchant-1", "missing"); !errors.Is(err, loyalty.ErrEntryNotFound) {
		t.Errorf("Missing reference = %v, want ErrEntryNotFound", err)
	}
}

func TestCreateAccountDuplicate(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	seed(t, s, "merchant-1", types.P(0), "cust-1")

	err := s.CreateAccount(ctx, &customer.Account{
		Entity:      types.NewEntity(),
		ID:          id.NewAccountID(),
		MerchantID:  "merchant-1",
		CustomerUID: "cust-1",
	})
	if !errors.Is(err, loyalty.ErrAlreadyExists) {
		t.Errorf("Duplicate account = %v, want ErrAlreadyExists", err)
	}
}

func TestListAccountsByUID(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	seed(t, s, "merchant-1", types.P(0), "cust-1")
	seed(t, s, "merchant-2", types.P(0), "cust-1", "cust-2")

	accounts, err := s.ListAccountsByUID(ctx, "cust-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 2 {
		t.Fatalf("Accounts = %d, want 2", len(accounts))
	}
	if accounts[0].MerchantID != "merchant-1" || accounts[1].MerchantID != "merchant-2" {
		t.Errorf("Order = %s, %s; want merchant-1, merchant-2", accounts[0].MerchantID, accounts[1].MerchantID)
	}
}

func TestWebhookEndpointRoundTrip(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	if _, err := s.GetWebhookEndpoint(ctx, "merchant-1"); !errors.Is(err, loyalty.ErrWebhookNotConfigured) {
		t.Errorf("Unset endpoint = %v, want ErrWebhookNotConfigured", err)
	}

	if err := s.SetWebhookEndpoint(ctx, endpointFor("merchant-1", "https://example.com/hooks", "whsec_1")); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetWebhookEndpoint(ctx, "merchant-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.URL != "https://example.com/hooks" || got.Secret != "whsec_1" {
		t.Errorf("Endpoint = %+v", got)
	}

	// Set is an upsert.
	if err := s.SetWebhookEndpoint(ctx, endpointFor("merchant-1", "https://example.com/v2", "whsec_2")); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetWebhookEndpoint(ctx, "merchant-1")
	if got.URL != "https://example.com/v2" {
		t.Errorf("URL after upsert = %q", got.URL)
	}
}

func TestClosedStore(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	seed(t, s, "merchant-1", types.P(1000), "cust-1")

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	if err := s.Ping(ctx); !errors.Is(err, loyalty.ErrStoreClosed) {
		t.Errorf("Ping closed = %v, want ErrStoreClosed", err)
	}
	_, err := s.ApplyTransfer(ctx, transfer("merchant-1", "cust-1", ledger.DirectionCredit, types.P(10), "r"))
	if !errors.Is(err, loyalty.ErrStoreClosed) {
		t.Errorf("Transfer on closed = %v, want ErrStoreClosed", err)
	}
}
