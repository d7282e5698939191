package loyalty_test

import (
	"context"
	"log"
	"log/slog"
	"testing"

	"github.com/xraph/loyalty"
	"github.com/xraph/loyalty/ledger"
	"github.com/xraph/loyalty/store/memory"
	"github.com/xraph/loyalty/types"
)

// TestDocumentationExamples verifies that all examples in the documentation compile
func TestDocumentationExamples(t *testing.T) {
	// Test Quick Start example from README
	t.Run("QuickStartExample", func(t *testing.T) {
		// Create store (memory for demo, use PostgreSQL in production)
		store := memory.New()

		// Initialize the engine
		eng := loyalty.New(store,
			loyalty.WithLogger(slog.Default()),
		)

		// Start the engine
		ctx := context.Background()
		if err := eng.Start(ctx); err != nil {
			t.Fatal(err)
		}
		defer eng.Stop()

		// Fund the merchant pool
		pool, err := eng.CreatePool(ctx, "merchant_123", loyalty.P(10_000))
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("Pool funded: %s\n", pool.Balance)

		// Open a customer account
		acct, err := eng.CreateAccount(ctx, "merchant_123", "customer_456")
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("Account opened: %s\n", acct.ID)

		// Credit points for a purchase
		entry, err := eng.Credit(ctx, &ledger.Transfer{
			MerchantID:  "merchant_123",
			CustomerUID: "customer_456",
			Amount:      loyalty.P(100),
			Type:        "purchase_reward",
			Title:       "Points",
			ReferenceID: "order-1001",
		})
		if err != nil {
			t.Fatal(err)
		}
		log.Printf("Credited: %s, balance %s\n", entry.Amount, entry.BalanceAfter)

		// Redeem some of them
		if _, err := eng.Debit(ctx, &ledger.Transfer{
			MerchantID:  "merchant_123",
			CustomerUID: "customer_456",
			Amount:      loyalty.P(40),
			Type:        "redemption",
			Title:       "Points",
			ReferenceID: "redeem-1001",
		}); err != nil {
			t.Fatal(err)
		}

		// List the customer's transactions, newest first
		entries, err := eng.Transactions(ctx, "merchant_123", "customer_456", ledger.ListOpts{})
		if err != nil {
			t.Fatal(err)
		}
		if len(entries) != 2 {
			t.Fatalf("expected 2 entries, got %d", len(entries))
		}
	})

	// Test Points type examples
	t.Run("PointsExamples", func(t *testing.T) {
		// Constructors
		_ = types.P(100)

		// Arithmetic
		p1 := types.P(100)
		p2 := types.P(200)
		_ = p1.Add(p2)     // 300 pts
		_ = p1.Multiply(3) // 300 pts

		// Comparison
		if p2.Covers(p1) {
			// p2 can pay p1
		}

		// Formatting
		_ = p1.String() // "100 pts"
	})
}
