package customer

import (
	"github.com/xraph/loyalty/id"
	"github.com/xraph/loyalty/types"
)

// Account holds a customer's point balance with one merchant. The same
// customer uid may hold accounts with any number of merchants; the
// (merchant_id, customer_uid) pair is unique.
type Account struct {
	types.Entity
	ID          id.AccountID `json:"id"`
	MerchantID  string       `json:"merchant_id"`
	CustomerUID string       `json:"customer_uid"`
	Balance     types.Points `json:"balance"`
}
