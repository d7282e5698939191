package ledger

import (
	"context"

	"github.com/xraph/loyalty/id"
)

type Store interface {
	ApplyTransfer(ctx context.Context, t *Transfer) (*Entry, error)
	Get(ctx context.Context, entryID id.EntryID) (*Entry, error)
	GetByReference(ctx context.Context, merchantID, referenceID string) (*Entry, error)
	List(ctx context.Context, merchantID, customerUID string, opts ListOpts) ([]*Entry, error)
}
