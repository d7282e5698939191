// Package loyalty provides a transactional merchant loyalty engine for Go applications.
//
// Loyalty is designed as a library, not a service. Import it directly into your Go
// application for maximum performance and flexibility. It provides:
//
//   - Double-entry point transfers between merchant pools and customer accounts
//   - Append-only ledger entries with balance snapshots around every transfer
//   - Idempotency gatekeeping with verbatim replay of captured responses
//   - Request/reply over pub/sub for delegating transfers to a remote authority
//   - Signed webhook notifications with bounded retry
//   - Comprehensive audit trail via Chronicle
//   - Production metrics via go-utils MetricFactory
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/xraph/loyalty"
//	    "github.com/xraph/loyalty/store/postgres"
//	)
//
//	// Initialize store
//	store, err := postgres.Open(databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create engine
//	eng := loyalty.New(store)
//
//	// Start the engine (migrates the store, begins background workers)
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Stop()
//
// # Core Concepts
//
// Merchants fund a point pool; customers hold one account per merchant:
//
//	pool, err := eng.CreatePool(ctx, "merchant-1", loyalty.P(10_000))
//	acct, err := eng.CreateAccount(ctx, "merchant-1", "customer-42")
//
// Credits move points from the pool to the account, debits move them back.
// Every transfer is one atomic transaction that locks the pool before the
// account, guards both balances against overdraft, and appends an immutable
// ledger entry:
//
//	entry, err := eng.Credit(ctx, &ledger.Transfer{
//	    MerchantID:  "merchant-1",
//	    CustomerUID: "customer-42",
//	    Amount:      loyalty.P(100),
//	    Type:        "purchase_reward",
//	    Title:       "Points",
//	    ReferenceID: "order-1001",
//	})
//
// Mutating calls replay under an idempotency key instead of re-running:
//
//	status, body, replayed, err := eng.Idempotent(ctx, merchantID, key, fn)
//
// Transfers can also be delegated to a remote ledger authority over the
// event bus; the authority runs the same engine with a local store:
//
//	eng := loyalty.New(store, loyalty.WithTransactor(loyalty.NewDelegatedTransactor(b)))
//
// # Integrity
//
// All point arithmetic is plain integer math; there is no floating point
// anywhere in a balance path. The conservation invariant (pool plus the sum
// of its accounts is constant under transfers) holds under concurrency
// because every backend takes the pool lock, then the account lock, inside
// one transaction. Reference ids are unique per merchant at the storage
// layer, backstopping the idempotency layer.
//
// # Integration
//
// Extensibility is hook-based: implement the interfaces in the plugin
// package and register with WithPlugin. Two plugins ship in-tree:
//
//   - audit_hook: Chronicle-style audit trail for all point movements
//   - observability: production metrics via a go-utils MetricFactory
//
// The httpapi package serves the engine over HTTP with idempotency-gated
// mutations, and cmd/loyaltyd is a reference server that wires a store,
// event bus, and webhook dispatcher from YAML configuration.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	pool_01h2xcejqtf2nbrexx3vqjhp41  // Pool ID
//	acct_01h2xcejqtf2nbrexx3vqjhp41  // Account ID
//	txn_01h455vb4pex5vsknk084sn02q   // Ledger entry ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package loyalty
