package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/xraph/loyalty"
	"github.com/xraph/loyalty/customer"
	"github.com/xraph/loyalty/id"
	"github.com/xraph/loyalty/ledger"
	"github.com/xraph/loyalty/merchant"
	"github.com/xraph/loyalty/types"
	"github.com/xraph/loyalty/webhook"
)

type Store struct {
	mu sync.RWMutex

	// Pool storage, keyed by merchant id
	pools map[string]*merchant.Pool

	// Account storage, keyed by merchant id + customer uid
	accounts map[string]*customer.Account

	// Ledger entries, append-only, oldest first
	entries []*ledger.Entry
	refs    map[string]*ledger.Entry

	// Webhook endpoints, keyed by merchant id
	endpoints map[string]*webhook.Endpoint

	closed bool
}

func New() *Store {
	return &Store{
		pools:     make(map[string]*merchant.Pool),
		accounts:  make(map[string]*customer.Account),
		entries:   make([]*ledger.Entry, 0),
		refs:      make(map[string]*ledger.Entry),
		endpoints: make(map[string]*webhook.Endpoint),
	}
}

func accountKey(merchantID, customerUID string) string {
	return merchantID + "/" + customerUID
}

func refKey(merchantID, referenceID string) string {
	return merchantID + "/" + referenceID
}

// Pool Store implementation

func (s *Store) CreatePool(_ context.Context, p *merchant.Pool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return loyalty.ErrStoreClosed
	}
	if _, exists := s.pools[p.MerchantID]; exists {
		return loyalty.ErrPoolExists
	}
	s.pools[p.MerchantID] = clonePool(p)
	return nil
}

func (s *Store) GetPool(_ context.Context, merchantID string) (*merchant.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.pools[merchantID]; ok {
		return clonePool(p), nil
	}
	return nil, loyalty.ErrPoolNotFound
}

func (s *Store) CreditPool(_ context.Context, merchantID string, amount types.Points) (*merchant.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, loyalty.ErrStoreClosed
	}
	p, ok := s.pools[merchantID]
	if !ok {
		return nil, loyalty.ErrPoolNotFound
	}
	p.Balance = p.Balance.Add(amount)
	p.Touch()
	return clonePool(p), nil
}

// Account Store implementation

func (s *Store) CreateAccount(_ context.Context, a *customer.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return loyalty.ErrStoreClosed
	}
	key := accountKey(a.MerchantID, a.CustomerUID)
	if _, exists := s.accounts[key]; exists {
		return loyalty.ErrAlreadyExists
	}
	s.accounts[key] = cloneAccount(a)
	return nil
}

func (s *Store) GetAccount(_ context.Context, merchantID, customerUID string) (*customer.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.accounts[accountKey(merchantID, customerUID)]; ok {
		return cloneAccount(a), nil
	}
	return nil, loyalty.ErrAccountNotFound
}

func (s *Store) ListAccountsByUID(_ context.Context, customerUID string) ([]*customer.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*customer.Account, 0)
	for _, a := range s.accounts {
		if a.CustomerUID == customerUID {
			result = append(result, cloneAccount(a))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].MerchantID < result[j].MerchantID
	})
	return result, nil
}

// Ledger Store implementation

// ApplyTransfer runs the whole double-entry transfer under the write lock,
// which is this backend's transaction: both balance deltas and the appended
// entry become visible together or not at all.
func (s *Store) ApplyTransfer(_ context.Context, t *ledger.Transfer) (*ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, loyalty.ErrStoreClosed
	}

	pool, ok := s.pools[t.MerchantID]
	if !ok {
		return nil, loyalty.ErrPoolNotFound
	}
	account, ok := s.accounts[accountKey(t.MerchantID, t.CustomerUID)]
	if !ok {
		return nil, loyalty.ErrAccountNotFound
	}
	if _, used := s.refs[refKey(t.MerchantID, t.ReferenceID)]; used {
		return nil, loyalty.ErrDuplicateReference
	}

	before := account.Balance

	switch t.Direction {
	case ledger.DirectionCredit:
		if !pool.Balance.Covers(t.Amount) {
			return nil, loyalty.ErrInsufficientMerchantPoints
		}
		pool.Balance = pool.Balance.Subtract(t.Amount)
		account.Balance = account.Balance.Add(t.Amount)

	case ledger.DirectionDebit:
		if !account.Balance.Covers(t.Amount) {
			return nil, loyalty.ErrInsufficientPoints
		}
		account.Balance = account.Balance.Subtract(t.Amount)
		pool.Balance = pool.Balance.Add(t.Amount)

	default:
		return nil, loyalty.ErrInvalidDirection
	}

	pool.Touch()
	account.Touch()

	entry := &ledger.Entry{
		Entity:        types.NewEntity(),
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
		BalanceAfter:  account.Balance,
		Status:        ledger.StatusSuccessful,
		OrderID:       t.OrderID,
	}
	s.entries = append(s.entries, entry)
	s.refs[refKey(t.MerchantID, t.ReferenceID)] = entry

	return cloneEntry(entry), nil
}

func (s *Store) GetEntry(_ context.Context, entryID id.EntryID) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, e := range s.entries {
		if e.ID == entryID {
			return cloneEntry(e), nil
		}
	}
	return nil, loyalty.ErrEntryNotFound
}

func (s *Store) GetEntryByReference(_ context.Context, merchantID, referenceID string) (*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if e, ok := s.refs[refKey(merchantID, referenceID)]; ok {
		return cloneEntry(e), nil
	}
	return nil, loyalty.ErrEntryNotFound
}

func (s *Store) ListEntries(_ context.Context, merchantID, customerUID string, opts ledger.ListOpts) ([]*ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	offset, limit := opts.Window()

	// entries is append-only, so walking it backwards yields newest first.
	result := make([]*ledger.Entry, 0, limit)
	skipped := 0
	for i := len(s.entries) - 1; i >= 0 && len(result) < limit; i-- {
		e := s.entries[i]
		if e.MerchantID != merchantID || e.CustomerUID != customerUID {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		result = append(result, cloneEntry(e))
	}
	return result, nil
}

// Webhook endpoint Store implementation

func (s *Store) SetWebhookEndpoint(_ context.Context, ep *webhook.Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return loyalty.ErrStoreClosed
	}
	s.endpoints[ep.MerchantID] = cloneEndpoint(ep)
	return nil
}

func (s *Store) GetWebhookEndpoint(_ context.Context, merchantID string) (*webhook.Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ep, ok := s.endpoints[merchantID]; ok {
		return cloneEndpoint(ep), nil
	}
	return nil, loyalty.ErrWebhookNotConfigured
}

// Core methods

func (s *Store) Migrate(_ context.Context) error {
	return nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return loyalty.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Balances must only change inside this store, so values are copied on the
// way in and out.

func clonePool(p *merchant.Pool) *merchant.Pool {
	cp := *p
	return &cp
}

func cloneAccount(a *customer.Account) *customer.Account {
	cp := *a
	return &cp
}

func cloneEntry(e *ledger.Entry) *ledger.Entry {
	cp := *e
	return &cp
}

func cloneEndpoint(ep *webhook.Endpoint) *webhook.Endpoint {
	cp := *ep
	return &cp
}
