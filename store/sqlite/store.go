package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

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

// Store implements store.Store using SQLite via the pure-Go modernc driver.
type Store struct {
	db *sql.DB
}

// New creates a SQLite store around an existing connection pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open opens (creating if needed) the SQLite database at path. Transactions
// take the write lock at BEGIN, and WAL mode plus a busy timeout keep
// concurrent readers usable while writes serialize.
func Open(path string) (*Store, error) {
	dsn := path + "?_txlock=immediate&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("loyalty/sqlite: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("loyalty/sqlite: ping: %w", err)
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
VALUES (?, ?, ?, ?, ?)`,
		p.ID.String(), p.MerchantID, p.Balance.Int64(), formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if isUniqueViolation(err) {
		return loyalty.ErrPoolExists
	}
	return err
}

func (s *Store) GetPool(ctx context.Context, merchantID string) (*merchant.Pool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, merchant_id, balance, created_at, updated_at FROM loyalty_pools WHERE merchant_id = ?`,
		merchantID)
	return scanPool(row)
}

func (s *Store) CreditPool(ctx context.Context, merchantID string, amount types.Points) (*merchant.Pool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE loyalty_pools SET balance = balance + ?, updated_at = ? WHERE merchant_id = ?`,
		amount.Int64(), formatTime(now()), merchantID)
	if err != nil {
		return nil, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, loyalty.ErrPoolNotFound
	}
	return s.GetPool(ctx, merchantID)
}

// ==================== Account Store ====================

func (s *Store) CreateAccount(ctx context.Context, a *customer.Account) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO loyalty_accounts (id, merchant_id, customer_uid, balance, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID.String(), a.MerchantID, a.CustomerUID, a.Balance.Int64(), formatTime(a.CreatedAt), formatTime(a.UpdatedAt))
	if isUniqueViolation(err) {
		return loyalty.ErrAlreadyExists
	}
	return err
}

func (s *Store) GetAccount(ctx context.Context, merchantID, customerUID string) (*customer.Account, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, merchant_id, customer_uid, balance, created_at, updated_at
FROM loyalty_accounts WHERE merchant_id = ? AND customer_uid = ?`,
		merchantID, customerUID)
	return scanAccount(row)
}

func (s *Store) ListAccountsByUID(ctx context.Context, customerUID string) ([]*customer.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, merchant_id, customer_uid, balance, created_at, updated_at
FROM loyalty_accounts WHERE customer_uid = ? ORDER BY merchant_id ASC`,
		customerUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*customer.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// ==================== Ledger Store ====================

// ApplyTransfer moves points between the merchant pool and the customer
// account and appends the ledger entry, all inside one transaction. SQLite
// holds a single write lock for the whole database, so the balance reads
// below are stable until commit.
func (s *Store) ApplyTransfer(ctx context.Context, t *ledger.Transfer) (*ledger.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", loyalty.ErrTransactionFailed, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var poolBalance int64
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM loyalty_pools WHERE merchant_id = ?`, t.MerchantID).Scan(&poolBalance)
	if err != nil {
		if isNoRows(err) {
			return nil, loyalty.ErrPoolNotFound
		}
		return nil, err
	}

	var accountBalance int64
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM loyalty_accounts WHERE merchant_id = ? AND customer_uid = ?`,
		t.MerchantID, t.CustomerUID).Scan(&accountBalance)
	if err != nil {
		if isNoRows(err) {
			return nil, loyalty.ErrAccountNotFound
		}
		return nil, err
	}

	var used bool
	err = tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM loyalty_entries WHERE merchant_id = ? AND reference_id = ?)`,
		t.MerchantID, t.ReferenceID).Scan(&used)
	if err != nil {
		return nil, err
	}
	if used {
		return nil, loyalty.ErrDuplicateReference
	}

	pool := types.Points(poolBalance)
	account := types.Points(accountBalance)
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
		`UPDATE loyalty_pools SET balance = ?, updated_at = ? WHERE merchant_id = ?`,
		pool.Int64(), formatTime(ts), t.MerchantID)
	if err != nil {
		return nil, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE loyalty_accounts SET balance = ?, updated_at = ? WHERE merchant_id = ? AND customer_uid = ?`,
		account.Int64(), formatTime(ts), t.MerchantID, t.CustomerUID)
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
	_, err = tx.ExecContext(ctx, `
INSERT INTO loyalty_entries
(id, merchant_id, customer_uid, direction, transaction_type, title, narration,
 reference_id, amount, balance_before, balance_after, status, order_id, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID.String(), entry.MerchantID, entry.CustomerUID, string(entry.Direction),
		entry.Type, entry.Title, entry.Narration, entry.ReferenceID,
		entry.Amount.Int64(), entry.BalanceBefore.Int64(), entry.BalanceAfter.Int64(),
		string(entry.Status), entry.OrderID, formatTime(ts), formatTime(ts))
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
	row := s.db.QueryRowContext(ctx, entrySelect+` WHERE id = ?`, entryID.String())
	return scanEntry(row)
}

func (s *Store) GetEntryByReference(ctx context.Context, merchantID, referenceID string) (*ledger.Entry, error) {
	row := s.db.QueryRowContext(ctx, entrySelect+` WHERE merchant_id = ? AND reference_id = ?`,
		merchantID, referenceID)
	return scanEntry(row)
}

func (s *Store) ListEntries(ctx context.Context, merchantID, customerUID string, opts ledger.ListOpts) ([]*ledger.Entry, error) {
	offset, limit := opts.Window()
	rows, err := s.db.QueryContext(ctx, entrySelect+`
WHERE merchant_id = ? AND customer_uid = ?
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?`,
		merchantID, customerUID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*ledger.Entry
	for rows.Next() {
		e, err := scanEntryRow(rows)
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
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (merchant_id) DO UPDATE SET
    url = excluded.url,
    secret = excluded.secret,
    updated_at = excluded.updated_at`,
		ep.MerchantID, ep.URL, ep.Secret, formatTime(ep.CreatedAt), formatTime(ep.UpdatedAt))
	return err
}

func (s *Store) GetWebhookEndpoint(ctx context.Context, merchantID string) (*webhook.Endpoint, error) {
	var m struct {
		merchantID string
		url        string
		secret     string
		createdAt  string
		updatedAt  string
	}
	err := s.db.QueryRowContext(ctx, `
SELECT merchant_id, url, secret, created_at, updated_at
FROM loyalty_webhook_endpoints WHERE merchant_id = ?`, merchantID).
		Scan(&m.merchantID, &m.url, &m.secret, &m.createdAt, &m.updatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, loyalty.ErrWebhookNotConfigured
		}
		return nil, err
	}
	return &webhook.Endpoint{
		Entity:     types.Entity{CreatedAt: parseTime(m.createdAt), UpdatedAt: parseTime(m.updatedAt)},
		MerchantID: m.merchantID,
		URL:        m.url,
		Secret:     m.secret,
	}, nil
}

// ==================== Scan helpers ====================

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPool(row rowScanner) (*merchant.Pool, error) {
	var (
		rawID, merchantID    string
		balance              int64
		createdAt, updatedAt string
	)
	err := row.Scan(&rawID, &merchantID, &balance, &createdAt, &updatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, loyalty.ErrPoolNotFound
		}
		return nil, err
	}
	poolID, err := id.ParsePoolID(rawID)
	if err != nil {
		return nil, err
	}
	return &merchant.Pool{
		Entity:     types.Entity{CreatedAt: parseTime(createdAt), UpdatedAt: parseTime(updatedAt)},
		ID:         poolID,
		MerchantID: merchantID,
		Balance:    types.Points(balance),
	}, nil
}

func scanAccount(row rowScanner) (*customer.Account, error) {
	var (
		rawID, merchantID, customerUID string
		balance                        int64
		createdAt, updatedAt           string
	)
	err := row.Scan(&rawID, &merchantID, &customerUID, &balance, &createdAt, &updatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, loyalty.ErrAccountNotFound
		}
		return nil, err
	}
	accountID, err := id.ParseAccountID(rawID)
	if err != nil {
		return nil, err
	}
	return &customer.Account{
		Entity:      types.Entity{CreatedAt: parseTime(createdAt), UpdatedAt: parseTime(updatedAt)},
		ID:          accountID,
		MerchantID:  merchantID,
		CustomerUID: customerUID,
		Balance:     types.Points(balance),
	}, nil
}

const entrySelect = `
SELECT id, merchant_id, customer_uid, direction, transaction_type, title, narration,
       reference_id, amount, balance_before, balance_after, status, order_id, created_at, updated_at
FROM loyalty_entries`

func scanEntry(row *sql.Row) (*ledger.Entry, error) {
	e, err := scanEntryRow(row)
	if err != nil {
		if isNoRows(err) {
			return nil, loyalty.ErrEntryNotFound
		}
		return nil, err
	}
	return e, nil
}

func scanEntryRow(row rowScanner) (*ledger.Entry, error) {
	var (
		rawID, merchantID, customerUID, direction, txType string
		title, narration, referenceID                     string
		amount, balanceBefore, balanceAfter               int64
		status, orderID                                   string
		createdAt, updatedAt                              string
	)
	err := row.Scan(&rawID, &merchantID, &customerUID, &direction, &txType,
		&title, &narration, &referenceID, &amount, &balanceBefore, &balanceAfter,
		&status, &orderID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	entryID, err := id.ParseEntryID(rawID)
	if err != nil {
		return nil, err
	}
	return &ledger.Entry{
		Entity:        types.Entity{CreatedAt: parseTime(createdAt), UpdatedAt: parseTime(updatedAt)},
		ID:            entryID,
		MerchantID:    merchantID,
		CustomerUID:   customerUID,
		Direction:     ledger.Direction(direction),
		Type:          txType,
		Title:         title,
		Narration:     narration,
		ReferenceID:   referenceID,
		Amount:        types.Points(amount),
		BalanceBefore: types.Points(balanceBefore),
		BalanceAfter:  types.Points(balanceAfter),
		Status:        ledger.Status(status),
		OrderID:       orderID,
	}, nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// formatTime renders a timestamp for storage. RFC 3339 at UTC keeps TEXT
// columns sortable.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime reads a stored timestamp, returning the zero time on garbage.
func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s) //nolint:errcheck // zero time is fine
	return t
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation checks for the SQLite unique-constraint message.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
