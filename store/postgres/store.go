package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	loyalty "github.com/xraph/loyalty"
	"github.com/xraph/loyalty/customer"
	"github.com/xraph/loyalty/id"
	"github.com/xraph/loyalty/ledger"
	"github.com/xraph/loyalty/merchant"
	loyaltystore "github.com/xraph/loyalty/store"
	"github.com/xraph/loyalty/types"
	"github.com/xraph/loyalty/webhook"
)

// compile-time interface check
var _ loyaltystore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via database/sql and lib/pq.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL store around an existing connection pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects using a lib/pq connection string and verifies the
// connection before returning the store.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("loyalty/postgres: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("loyalty/postgres: ping: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying connection pool for direct access.
func (s *Store) DB() *sql.DB { return s.db }

// Migrate creates the required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db, Migrations)
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Pool Store ====================

func (s *Store) CreatePool(ctx context.Context, p *merchant.Pool) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO loyalty_pools (id, merchant_id, balance, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)`,
		p.ID.String(), p.MerchantID, p.Balance.Int64(), p.CreatedAt, p.UpdatedAt)
	if isUniqueViolation(err) {
		return loyalty.ErrPoolExists
	}
	return err
}

func (s *Store) GetPool(ctx context.Context, merchantID string) (*merchant.Pool, error) {
	m := new(poolModel)
	err := m.scan(s.db.QueryRowContext(ctx,
		`SELECT `+poolColumns+` FROM loyalty_pools WHERE merchant_id = $1`, merchantID))
	if err != nil {
		if isNoRows(err) {
			return nil, loyalty.ErrPoolNotFound
		}
		return nil, err
	}
	return fromPoolModel(m)
}

func (s *Store) CreditPool(ctx context.Context, merchantID string, amount types.Points) (*merchant.Pool, error) {
	m := new(poolModel)
	err := m.scan(s.db.QueryRowContext(ctx, `
UPDATE loyalty_pools SET balance = balance + $1, updated_at = $2
WHERE merchant_id = $3
RETURNING `+poolColumns,
		amount.Int64(), now(), merchantID))
	if err != nil {
		if isNoRows(err) {
			return nil, loyalty.ErrPoolNotFound
		}
		return nil, err
	}
	return fromPoolModel(m)
}

// ==================== Account Store ====================

func (s *Store) CreateAccount(ctx context.Context, a *customer.Account) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO loyalty_accounts (id, merchant_id, customer_uid, balance, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID.String(), a.MerchantID, a.CustomerUID, a.Balance.Int64(), a.CreatedAt, a.UpdatedAt)
	if isUniqueViolation(err) {
		return loyalty.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetAccount(ctx context.Context, merchantID, customerUID string) (*customer.Account, error) {
	m := new(accountModel)
	err := m.scan(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM loyalty_accounts WHERE merchant_id = $1 AND customer_uid = $2`,
		merchantID, customerUID))
	if err != nil {
		if isNoRows(err) {
			return nil, loyalty.ErrAccountNotFound
		}
		return nil, err
	}
	return fromAccountModel(m)
}

func (s *Store) ListAccountsByUID(ctx context.Context, customerUID string) ([]*customer.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM loyalty_accounts WHERE customer_uid = $1 ORDER BY merchant_id ASC`,
		customerUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*customer.Account
	for rows.Next() {
		m := new(accountModel)
		if err := m.scan(rows); err != nil {
			return nil, err
		}
		a, err := fromAccountModel(m)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// ==================== Ledger Store ====================

// ApplyTransfer moves points between the merchant pool and the customer
// account and appends the ledger entry, all inside one transaction. The pool
// row is locked before the account row; every transfer takes the two locks
// in that order, so concurrent transfers cannot deadlock each other.
func (s *Store) ApplyTransfer(ctx context.Context, t *ledger.Transfer) (*ledger.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", loyalty.ErrTransactionFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	pm := new(poolModel)
	err = pm.scan(tx.QueryRowContext(ctx,
		`SELECT `+poolColumns+` FROM loyalty_pools WHERE merchant_id = $1 FOR UPDATE`,
		t.MerchantID))
	if err != nil {
		if isNoRows(err) {
			return nil, loyalty.ErrPoolNotFound
		}
		return nil, err
	}

	am := new(accountModel)
	err = am.scan(tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM loyalty_accounts WHERE merchant_id = $1 AND customer_uid = $2 FOR UPDATE`,
		t.MerchantID, t.CustomerUID))
	if err != nil {
		if isNoRows(err) {
			return nil, loyalty.ErrAccountNotFound
		}
		return nil, err
	}

	var used bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM loyalty_entries WHERE merchant_id = $1 AND reference_id = $2)`,
		t.MerchantID, t.ReferenceID).Scan(&used)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, loyalty.ErrDuplicateReference
	}

	pool := types.Points(pm.Balance)
	account := types.Points(am.Balance)
	before := account

	switch t.Direction {
	case ledger.DirectionCredit:
		if !pool.Covers(t.Amount) {
			return nil, loyalty.ErrInsufficientMerchantPoints
		}
		pool = pool.Subtract(t.Amount)
		account = account.Add(t.Amount)
	case ledger.DirectionDebit:
		if !account.Covers(t.Amount) {
			return nil, loyalty.ErrInsufficientPoints
		}
		account = account.Subtract(t.Amount)
		pool = pool.Add(t.Amount)
	default:
		return nil, loyalty.ErrInvalidDirection
	}

	ts := now()
	_, err = tx.ExecContext(ctx,
		`UPDATE loyalty_pools SET balance = $1, updated_at = $2 WHERE merchant_id = $3`,
		pool.Int64(), ts, t.MerchantID)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE loyalty_accounts SET balance = $1, updated_at = $2 WHERE merchant_id = $3 AND customer_uid = $4`,
		account.Int64(), ts, t.MerchantID, t.CustomerUID)
	if err != nil {
		return nil, err
	}

	entry := &ledger.Entry{
		Entity:        types.Entity{CreatedAt: ts, UpdatedAt: ts},
		ID:            id.NewEntryID(),
		MerchantID:    t.MerchantID,
		CustomerUID:   t.CustomerUID,
		Direction:     t.Direction,
		Type:          t.Type,
		Title:         t.Title,
		Narration:     t.Narration,
		ReferenceID:   t.ReferenceID,
		Amount:        t.Amount,
		BalanceBefore: before,
		BalanceAfter:  account,
		Status:        ledger.StatusSuccessful,
		OrderID:       t.OrderID,
	}
	m := toEntryModel(entry)
	_, err = tx.ExecContext(ctx, `
INSERT INTO loyalty_entries (`+entryColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		m.ID, m.MerchantID, m.CustomerUID, m.Direction, m.TransactionType,
		m.Title, m.Narration, m.ReferenceID, m.Amount, m.BalanceBefore,
		m.BalanceAfter, m.Status, m.OrderID, m.CreatedAt, m.UpdatedAt)
	if isUniqueViolation(err) {
		return nil, loyalty.ErrDuplicateReference
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", loyalty.ErrTransactionFailed, err)
	}
	return entry, nil
}

func (s *Store) GetEntry(ctx context.Context, entryID id.EntryID) (*ledger.Entry, error) {
	m := new(entryModel)
	err := m.scan(s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM loyalty_entries WHERE id = $1`, entryID.String()))
	if err != nil {
		if isNoRows(err) {
			return nil, loyalty.ErrEntryNotFound
		}
		return nil, err
	}
	return fromEntryModel(m)
}

func (s *Store) GetEntryByReference(ctx context.Context, merchantID, referenceID string) (*ledger.Entry, error) {
	m := new(entryModel)
	err := m.scan(s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM loyalty_entries WHERE merchant_id = $1 AND reference_id = $2`,
		merchantID, referenceID))
	if err != nil {
		if isNoRows(err) {
			return nil, loyalty.ErrEntryNotFound
		}
		return nil, err
	}
	return fromEntryModel(m)
}

func (s *Store) ListEntries(ctx context.Context, merchantID, customerUID string, opts ledger.ListOpts) ([]*ledger.Entry, error) {
	offset, limit := opts.Window()
	rows, err := s.db.QueryContext(ctx, `
SELECT `+entryColumns+` FROM loyalty_entries
WHERE merchant_id = $1 AND customer_uid = $2
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4`,
		merchantID, customerUID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*ledger.Entry
	for rows.Next() {
		m := new(entryModel)
		if err := m.scan(rows); err != nil {
			return nil, err
		}
		e, err := fromEntryModel(m)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// ==================== Webhook Store ====================

func (s *Store) SetWebhookEndpoint(ctx context.Context, ep *webhook.Endpoint) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO loyalty_webhook_endpoints (merchant_id, url, secret, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (merchant_id) DO UPDATE SET
    url = EXCLUDED.url,
    secret = EXCLUDED.secret,
    updated_at = EXCLUDED.updated_at`,
		ep.MerchantID, ep.URL, ep.Secret, ep.CreatedAt, ep.UpdatedAt)
	return err
}

func (s *Store) GetWebhookEndpoint(ctx context.Context, merchantID string) (*webhook.Endpoint, error) {
	m := new(endpointModel)
	err := m.scan(s.db.QueryRowContext(ctx,
		`SELECT `+endpointColumns+` FROM loyalty_webhook_endpoints WHERE merchant_id = $1`, merchantID))
	if err != nil {
		if isNoRows(err) {
			return nil, loyalty.ErrWebhookNotConfigured
		}
		return nil, err
	}
	return fromEndpointModel(m), nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation checks for the postgres unique_violation code.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
