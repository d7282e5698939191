package loyalty

import (
	"context"

	"github.com/xraph/loyalty/ledger"
	"github.com/xraph/loyalty/store"
)

// Transactor applies a validated transfer and returns the resulting ledger
// entry. The engine ships two strategies: local execution against its own
// store, and delegation to a remote authority over the event bus.
type Transactor interface {
	Apply(ctx context.Context, t *ledger.Transfer) (*ledger.Entry, error)
}

// localTransactor executes transfers in the engine's own store. This is the
// default strategy and the one the authority side of a delegated deployment
// runs.
type localTransactor struct {
	store store.Store
}

var _ Transactor = (*localTransactor)(nil)

func (l *localTransactor) Apply(ctx context.Context, t *ledger.Transfer) (*ledger.Entry, error) {
	return l.store.ApplyTransfer(ctx, t)
}
