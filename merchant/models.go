package merchant

import (
	"github.com/xraph/loyalty/id"
	"github.com/xraph/loyalty/types"
)

// Pool is a merchant's funding balance. Customer credits draw it down,
// debits replenish it. The balance never goes negative.
type Pool struct {
	types.Entity
	ID         id.PoolID    `json:"id"`
	MerchantID string       `json:"merchant_id"`
	Balance    types.Points `json:"balance"`
}
