package loyalty

import (
	"context"
	"log/slog"

	"github.com/xraph/loyalty/customer"
	"github.com/xraph/loyalty/id"
	"github.com/xraph/loyalty/idempotency"
	"github.com/xraph/loyalty/ledger"
	"github.com/xraph/loyalty/merchant"
	"github.com/xraph/loyalty/plugin"
	"github.com/xraph/loyalty/store"
	"github.com/xraph/loyalty/types"
	"github.com/xraph/loyalty/webhook"
)

// Webhook event types fired by the engine.
const (
	EventPointsCredited = "points.credited"
	EventPointsDebited  = "points.debited"
)

// Notifier pushes events to merchant endpoints without ever failing the
// operation that triggered them. *webhook.Dispatcher is the production
// implementation.
type Notifier interface {
	Send(ctx context.Context, merchantID, event string, data any)
}

// Engine is the main loyalty engine.
type Engine struct {
	store      store.Store
	plugins    *plugin.Registry
	logger     *slog.Logger
	transactor Transactor
	webhooks   Notifier
	keeper     *idempotency.Keeper
}

// New creates a new Engine instance. Transfers run against the local store
// unless WithTransactor swaps in the delegated strategy.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:   s,
		plugins: plugin.NewRegistry(),
		logger:  slog.Default(),
	}
	e.transactor = &localTransactor{store: s}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithWebhooks sets the notifier used for merchant webhooks.
func WithWebhooks(n Notifier) Option {
	return func(e *Engine) {
		e.webhooks = n
	}
}

// WithIdempotency sets the keeper guarding mutating calls. The engine owns
// its lifecycle: Start launches the retention sweep, Stop closes it.
func WithIdempotency(k *idempotency.Keeper) Option {
	return func(e *Engine) {
		e.keeper = k
	}
}

// WithTransactor replaces the transfer strategy.
func WithTransactor(t Transactor) Option {
	return func(e *Engine) {
		if t != nil {
			e.transactor = t
		}
	}
}

// Start migrates the store, initializes plugins and begins background
// workers.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	e.plugins.EmitInit(ctx, e)

	if e.keeper != nil {
		e.keeper.Start(ctx)
	}

	e.logger.Info("loyalty engine started",
		"plugins", e.plugins.Count(),
		"idempotency", e.keeper != nil,
		"webhooks", e.webhooks != nil,
	)

	return nil
}

// Ping reports whether the backing store is reachable.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// Stop shuts down the Engine and closes the store. Notifier and bus
// lifecycles stay with whoever constructed them.
func (e *Engine) Stop() error {
	if e.keeper != nil {
		if err := e.keeper.Stop(); err != nil {
			e.logger.Error("idempotency keeper stop failed", "error", err)
		}
	}

	ctx := context.Background()
	e.plugins.EmitShutdown(ctx)

	return e.store.Close()
}

// ──────────────────────────────────────────────────
// Pool Management
// ──────────────────────────────────────────────────

// CreatePool creates a merchant's point pool with an opening balance.
func (e *Engine) CreatePool(ctx context.Context, merchantID string, opening types.Points) (*merchant.Pool, error) {
	if merchantID == "" {
		return nil, ValidationError{Field: "merchant_id", Message: "required"}
	}
	if opening.IsNegative() {
		return nil, ErrInvalidAmount
	}

	pool := &merchant.Pool{
		Entity:     types.NewEntity(),
		ID:         id.NewPoolID(),
		MerchantID: merchantID,
		Balance:    opening,
	}

	if err := e.store.CreatePool(ctx, pool); err != nil {
		return nil, err
	}

	e.plugins.EmitPoolCreated(ctx, pool)
	return pool, nil
}

// Pool retrieves a merchant's pool.
func (e *Engine) Pool(ctx context.Context, merchantID string) (*merchant.Pool, error) {
	return e.store.GetPool(ctx, merchantID)
}

// CreditPool tops up a merchant's pool.
func (e *Engine) CreditPool(ctx context.Context, merchantID string, amount types.Points) (*merchant.Pool, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	pool, err := e.store.CreditPool(ctx, merchantID, amount)
	if err != nil {
		return nil, err
	}

	e.plugins.EmitPoolCredited(ctx, pool, amount.Int64())
	return pool, nil
}

// ──────────────────────────────────────────────────
// Account Management
// ──────────────────────────────────────────────────

// CreateAccount opens a customer account with the merchant. Creation is
// idempotent per (merchant, uid): re-creating returns the existing account.
func (e *Engine) CreateAccount(ctx context.Context, merchantID, customerUID string) (*customer.Account, error) {
	var errs MultiError
	if merchantID == "" {
		errs.Add(ValidationError{Field: "merchant_id", Message: "required"})
	}
	if customerUID == "" {
		errs.Add(ValidationError{Field: "customer_uid", Message: "required"})
	}
	if errs.HasErrors() {
		return nil, errs
	}

	account := &customer.Account{
		Entity:      types.NewEntity(),
		ID:          id.NewAccountID(),
		MerchantID:  merchantID,
		CustomerUID: customerUID,
	}

	err := e.store.CreateAccount(ctx, account)
	if IsConflict(err) {
		return e.store.GetAccount(ctx, merchantID, customerUID)
	}
	if err != nil {
		return nil, err
	}

	e.plugins.EmitAccountCreated(ctx, account)
	return account, nil
}

// Account retrieves a customer's account with the merchant.
func (e *Engine) Account(ctx context.Context, merchantID, customerUID string) (*customer.Account, error) {
	return e.store.GetAccount(ctx, merchantID, customerUID)
}

// AccountsByUID retrieves a customer's accounts across all merchants.
func (e *Engine) AccountsByUID(ctx context.Context, customerUID string) ([]*customer.Account, error) {
	return e.store.ListAccountsByUID(ctx, customerUID)
}

// ──────────────────────────────────────────────────
// Transfers
// ──────────────────────────────────────────────────

// Credit moves points from the merchant pool to the customer account.
func (e *Engine) Credit(ctx context.Context, t *ledger.Transfer) (*ledger.Entry, error) {
	return e.transfer(ctx, t, ledger.DirectionCredit)
}

// Debit moves points from the customer account back to the merchant pool.
func (e *Engine) Debit(ctx context.Context, t *ledger.Transfer) (*ledger.Entry, error) {
	return e.transfer(ctx, t, ledger.DirectionDebit)
}

// transfer stamps the direction, validates and hands the transfer to the
// configured strategy.
func (e *Engine) transfer(ctx context.Context, t *ledger.Transfer, dir ledger.Direction) (*ledger.Entry, error) {
	t.Direction = dir
	if err := validateTransfer(t); err != nil {
		return nil, err
	}

	entry, err := e.transactor.Apply(ctx, t)
	if err != nil {
		e.plugins.EmitTransferFailed(ctx, t, err)
		return nil, err
	}

	event := EventPointsCredited
	if dir == ledger.DirectionDebit {
		event = EventPointsDebited
		e.plugins.EmitPointsDebited(ctx, entry)
	} else {
		e.plugins.EmitPointsCredited(ctx, entry)
	}

	if e.webhooks != nil {
		e.webhooks.Send(ctx, t.MerchantID, event, entry)
	}

	return entry, nil
}

// validateTransfer rejects malformed transfers before any strategy runs.
func validateTransfer(t *ledger.Transfer) error {
	var errs MultiError
	if t.MerchantID == "" {
		errs.Add(ValidationError{Field: "merchant_id", Message: "required"})
	}
	if t.CustomerUID == "" {
		errs.Add(ValidationError{Field: "customer_uid", Message: "required"})
	}
	if t.ReferenceID == "" {
		errs.Add(ValidationError{Field: "reference_id", Message: "required"})
	}
	if t.Type == "" {
		errs.Add(ValidationError{Field: "transaction_type", Message: "required"})
	}
	if t.Title == "" {
		errs.Add(ValidationError{Field: "title", Message: "required"})
	}
	if !t.Amount.IsPositive() {
		errs.Add(ErrInvalidAmount)
	}
	if !t.Direction.Valid() {
		errs.Add(ErrInvalidDirection)
	}

	if !errs.HasErrors() {
		return nil
	}
	if len(errs.Errors) == 1 {
		return errs.First()
	}
	return errs
}

// ──────────────────────────────────────────────────
// Transactions
// ──────────────────────────────────────────────────

// Transactions lists a customer's ledger entries with the merchant, newest
// first.
func (e *Engine) Transactions(ctx context.Context, merchantID, customerUID string, opts ledger.ListOpts) ([]*ledger.Entry, error) {
	return e.store.ListEntries(ctx, merchantID, customerUID, opts)
}

// Entry retrieves a single ledger entry.
func (e *Engine) Entry(ctx context.Context, entryID id.EntryID) (*ledger.Entry, error) {
	return e.store.GetEntry(ctx, entryID)
}

// EntryByReference retrieves the entry recorded for a merchant's reference id.
func (e *Engine) EntryByReference(ctx context.Context, merchantID, referenceID string) (*ledger.Entry, error) {
	return e.store.GetEntryByReference(ctx, merchantID, referenceID)
}

// ──────────────────────────────────────────────────
// Webhooks
// ──────────────────────────────────────────────────

// SetWebhookEndpoint registers or replaces the merchant's delivery endpoint.
func (e *Engine) SetWebhookEndpoint(ctx context.Context, merchantID, url, secret string) error {
	var errs MultiError
	if merchantID == "" {
		errs.Add(ValidationError{Field: "merchant_id", Message: "required"})
	}
	if url == "" {
		errs.Add(ValidationError{Field: "url", Message: "required"})
	}
	if secret == "" {
		errs.Add(ValidationError{Field: "secret", Message: "required"})
	}
	if errs.HasErrors() {
		if len(errs.Errors) == 1 {
			return errs.First()
		}
		return errs
	}

	return e.store.SetWebhookEndpoint(ctx, &webhook.Endpoint{
		Entity:     types.NewEntity(),
		MerchantID: merchantID,
		URL:        url,
		Secret:     secret,
	})
}

// WebhookEndpoint retrieves the merchant's delivery endpoint.
func (e *Engine) WebhookEndpoint(ctx context.Context, merchantID string) (*webhook.Endpoint, error) {
	return e.store.GetWebhookEndpoint(ctx, merchantID)
}

// ──────────────────────────────────────────────────
// Idempotency
// ──────────────────────────────────────────────────

// Idempotent runs fn under the configured keeper for {caller}:{key},
// replaying the stored response verbatim on repeats. Replays emit the
// idempotent-replay plugin hook. Without a configured keeper fn runs
// directly and nothing is recorded.
func (e *Engine) Idempotent(ctx context.Context, caller, key string, fn func(ctx context.Context) (int, []byte, error)) (status int, body []byte, replayed bool, err error) {
	if e.keeper == nil {
		status, body, err = fn(ctx)
		return status, body, false, err
	}

	rec, replayed, err := e.keeper.Execute(ctx, caller, key, fn)
	if err != nil {
		return 0, nil, false, err
	}
	if replayed {
		e.plugins.EmitIdempotentReplay(ctx, caller, key)
	}
	return rec.Status, rec.Body, replayed, nil
}
