package merchant

import (
	"context"

	"github.com/xraph/loyalty/types"
)

type Store interface {
	Create(ctx context.Context, p *Pool) error
	Get(ctx context.Context, merchantID string) (*Pool, error)
	Credit(ctx context.Context, merchantID string, amount types.Points) (*Pool, error)
}
