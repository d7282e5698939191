package store

import (
	"context"

	"github.com/xraph/loyalty/customer"
	"github.com/xraph/loyalty/id"
	"github.com/xraph/loyalty/ledger"
	"github.com/xraph/loyalty/merchant"
	"github.com/xraph/loyalty/types"
	"github.com/xraph/loyalty/webhook"
)

// Store is the unified storage interface for all Loyalty entities.
// Instead of embedding the sub-interfaces, we explicitly declare all methods
// to avoid naming conflicts.
//
// ApplyTransfer carries the double-entry contract every backend honors: one
// atomic transaction that locks the merchant pool first and the customer
// account second, rejects an amount the paying side cannot cover, rejects a
// reference id already used for the merchant, applies both balance deltas
// and appends the ledger entry with the account balance captured around the
// write. Any failure rolls the whole transfer back.
type Store interface {
	// Pool methods
	CreatePool(ctx context.Context, p *merchant.Pool) error
	GetPool(ctx context.Context, merchantID string) (*merchant.Pool, error)
	CreditPool(ctx context.Context, merchantID string, amount types.Points) (*merchant.Pool, error)

	// Account methods
	CreateAccount(ctx context.Context, a *customer.Account) error
	GetAccount(ctx context.Context, merchantID string, customerUID string) (*customer.Account, error)
	ListAccountsByUID(ctx context.Context, customerUID string) ([]*customer.Account, error)

	// Ledger methods
	ApplyTransfer(ctx context.Context, t *ledger.Transfer) (*ledger.Entry, error)
	GetEntry(ctx context.Context, entryID id.EntryID) (*ledger.Entry, error)
	GetEntryByReference(ctx context.Context, merchantID string, referenceID string) (*ledger.Entry, error)
	ListEntries(ctx context.Context, merchantID string, customerUID string, opts ledger.ListOpts) ([]*ledger.Entry, error)

	// Webhook endpoint methods
	SetWebhookEndpoint(ctx context.Context, ep *webhook.Endpoint) error
	GetWebhookEndpoint(ctx context.Context, merchantID string) (*webhook.Endpoint, error)

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
