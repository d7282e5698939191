package customer

import "context"

type Store interface {
	Create(ctx context.Context, a *Account) error
	Get(ctx context.Context, merchantID, customerUID string) (*Account, error)
	ListByUID(ctx context.Context, customerUID string) ([]*Account, error)
}
