package mongo

import (
	"time"

	"github.com/xraph/loyalty/customer"
	"github.com/xraph/loyalty/id"
	"github.com/xraph/loyalty/ledger"
	"github.com/xraph/loyalty/merchant"
	"github.com/xraph/loyalty/types"
	"github.com/xraph/loyalty/webhook"
)

// ==================== Pool models ====================

type poolModel struct {
	ID         string    `bson:"_id"`
	MerchantID string    `bson:"merchant_id"`
	Balance    int64     `bson:"balance"`
	CreatedAt  time.Time `bson:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func toPoolModel(p *merchant.Pool) *poolModel {
	return &poolModel{
		ID:         p.ID.String(),
		MerchantID: p.MerchantID,
		Balance:    p.Balance.Int64(),
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

func fromPoolModel(m *poolModel) (*merchant.Pool, error) {
	poolID, err := id.ParsePoolID(m.ID)
	if err != nil {
		return nil, err
	}
	return &merchant.Pool{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:         poolID,
		MerchantID: m.MerchantID,
		Balance:    types.Points(m.Balance),
	}, nil
}

// ==================== Account models ====================

type accountModel struct {
	ID          string    `bson:"_id"`
	MerchantID  string    `bson:"merchant_id"`
	CustomerUID string    `bson:"customer_uid"`
	Balance     int64     `bson:"balance"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func toAccountModel(a *customer.Account) *accountModel {
	return &accountModel{
		ID:          a.ID.String(),
		MerchantID:  a.MerchantID,
		CustomerUID: a.CustomerUID,
		Balance:     a.Balance.Int64(),
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func fromAccountModel(m *accountModel) (*customer.Account, error) {
	accountID, err := id.ParseAccountID(m.ID)
	if err != nil {
		return nil, err
	}
	return &customer.Account{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          accountID,
		MerchantID:  m.MerchantID,
		CustomerUID: m.CustomerUID,
		Balance:     types.Points(m.Balance),
	}, nil
}

// ==================== Entry models ====================

type entryModel struct {
	ID              string    `bson:"_id"`
	MerchantID      string    `bson:"merchant_id"`
	CustomerUID     string    `bson:"customer_uid"`
	Direction       string    `bson:"direction"`
	TransactionType string    `bson:"transaction_type"`
	Title           string    `bson:"title"`
	Narration       string    `bson:"narration"`
	ReferenceID     string    `bson:"reference_id"`
	Amount          int64     `bson:"amount"`
	BalanceBefore   int64     `bson:"balance_before"`
	BalanceAfter    int64     `bson:"balance_after"`
	Status          string    `bson:"status"`
	OrderID         string    `bson:"order_id"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

func toEntryModel(e *ledger.Entry) *entryModel {
	return &entryModel{
		ID:              e.ID.String(),
		MerchantID:      e.MerchantID,
		CustomerUID:     e.CustomerUID,
		Direction:       string(e.Direction),
		TransactionType: e.Type,
		Title:           e.Title,
		Narration:       e.Narration,
		ReferenceID:     e.ReferenceID,
		Amount:          e.Amount.Int64(),
		BalanceBefore:   e.BalanceBefore.Int64(),
		BalanceAfter:    e.BalanceAfter.Int64(),
		Status:          string(e.Status),
		OrderID:         e.OrderID,
		CreatedAt:       e.CreatedAt,
		UpdatedAt:       e.UpdatedAt,
	}
}

func fromEntryModel(m *entryModel) (*ledger.Entry, error) {
	entryID, err := id.ParseEntryID(m.ID)
	if err != nil {
		return nil, err
	}
	return &ledger.Entry{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:            entryID,
		MerchantID:    m.MerchantID,
		CustomerUID:   m.CustomerUID,
		Direction:     ledger.Direction(m.Direction),
		Type:          m.TransactionType,
		Title:         m.Title,
		Narration:     m.Narration,
		ReferenceID:   m.ReferenceID,
		Amount:        types.Points(m.Amount),
		BalanceBefore: types.Points(m.BalanceBefore),
		BalanceAfter:  types.Points(m.BalanceAfter),
		Status:        ledger.Status(m.Status),
		OrderID:       m.OrderID,
	}, nil
}

// ==================== Webhook endpoint models ====================

// Endpoints are keyed by merchant id, one per merchant.
type endpointModel struct {
	MerchantID string    `bson:"_id"`
	URL        string    `bson:"url"`
	Secret     string    `bson:"secret"`
	CreatedAt  time.Time `bson:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func toEndpointModel(ep *webhook.Endpoint) *endpointModel {
	return &endpointModel{
		MerchantID: ep.MerchantID,
		URL:        ep.URL,
		Secret:     ep.Secret,
		CreatedAt:  ep.CreatedAt,
		UpdatedAt:  ep.UpdatedAt,
	}
}

func fromEndpointModel(m *endpointModel) *webhook.Endpoint {
	return &webhook.Endpoint{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		MerchantID: m.MerchantID,
		URL:        m.URL,
		Secret:     m.Secret,
	}
}
