package ledger

import (
	"github.com/xraph/loyalty/id"
	"github.com/xraph/loyalty/types"
)

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

type Status string

const (
	StatusSuccessful Status = "successful"
	StatusPending    Status = "pending"
	StatusFailed     Status = "failed"
)

// Entry is an immutable ledger record. Entries are appended by the store
// inside the transfer transaction and never updated or deleted afterwards.
type Entry struct {
	types.Entity
	ID            id.EntryID   `json:"id"`
	MerchantID    string       `json:"merchant_id"`
	CustomerUID   string       `json:"customer_uid"`
	Direction     Direction    `json:"direction"`
	Type          string       `json:"transaction_type"`
	Title         string       `json:"title"`
	Narration     string       `json:"narration,omitempty"`
	ReferenceID   string       `json:"reference_id"`
	Amount        types.Points `json:"amount"`
	BalanceBefore types.Points `json:"balance_before"`
	BalanceAfter  types.Points `json:"balance_after"`
	Status        Status       `json:"status"`
	OrderID       string       `json:"order_id,omitempty"`
}

// Transfer describes a requested balance movement between a merchant pool
// and a customer account.
type Transfer struct {
	MerchantID  string       `json:"merchant_id"`
	CustomerUID string       `json:"customer_uid"`
	Direction   Direction    `json:"direction"`
	Amount      types.Points `json:"amount"`
	Type        string       `json:"transaction_type"`
	ReferenceID string       `json:"reference_id"`
	Title       string       `json:"title"`
	Narration   string       `json:"narration,omitempty"`
	OrderID     string       `json:"order_id,omitempty"`
}

type ListOpts struct {
	Page  int
	Limit int
}

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// Window resolves the page/limit pair into a concrete offset and limit,
// applying defaults for unset or out-of-range values.
func (o ListOpts) Window() (offset, limit int) {
	limit = o.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	page := o.Page
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit, limit
}

func (d Direction) Valid() bool {
	return d == DirectionCredit || d == DirectionDebit
}
