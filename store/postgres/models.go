package postgres

import (
	"time"

	"github.com/xraph/loyalty/customer"
	"github.com/xraph/loyalty/id"
	"github.com/xraph/loyalty/ledger"
	"github.com/xraph/loyalty/merchant"
	"github.com/xraph/loyalty/types"
	"github.com/xraph/loyalty/webhook"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// ==================== Pool models ====================

type poolModel struct {
	ID         string
	MerchantID string
	Balance    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const poolColumns = `id, merchant_id, balance, created_at, updated_at`

func (m *poolModel) scan(row rowScanner) error {
	return row.Scan(&m.ID, &m.MerchantID, &m.Balance, &m.CreatedAt, &m.UpdatedAt)
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
	ID          string
	MerchantID  string
	CustomerUID string
	Balance     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const accountColumns = `id, merchant_id, customer_uid, balance, created_at, updated_at`

func (m *accountModel) scan(row rowScanner) error {
	return row.Scan(&m.ID, &m.MerchantID, &m.CustomerUID, &m.Balance, &m.CreatedAt, &m.UpdatedAt)
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
	ID              string
	MerchantID      string
	CustomerUID     string
	Direction       string
	TransactionType string
	Title           string
	Narration       string
	ReferenceID     string
	Amount          int64
	BalanceBefore   int64
	BalanceAfter    int64
	Status          string
	OrderID         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const entryColumns = `id, merchant_id, customer_uid, direction, transaction_type, title, narration, reference_id, amount, balance_before, balance_after, status, order_id, created_at, updated_at`

func (m *entryModel) scan(row rowScanner) error {
	return row.Scan(
		&m.ID, &m.MerchantID, &m.CustomerUID, &m.Direction, &m.TransactionType,
		&m.Title, &m.Narration, &m.ReferenceID, &m.Amount, &m.BalanceBefore,
		&m.BalanceAfter, &m.Status, &m.OrderID, &m.CreatedAt, &m.UpdatedAt,
	)
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

type endpointModel struct {
	MerchantID string
	URL        string
	Secret     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

const endpointColumns = `merchant_id, url, secret, created_at, updated_at`

func (m *endpointModel) scan(row rowScanner) error {
	return row.Scan(&m.MerchantID, &m.URL, &m.Secret, &m.CreatedAt, &m.UpdatedAt)
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
