package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	loyalty "github.com/xraph/loyalty"
	"github.com/xraph/loyalty/customer"
	"github.com/xraph/loyalty/id"
	"github.com/xraph/loyalty/ledger"
	"github.com/xraph/loyalty/merchant"
	loyaltystore "github.com/xraph/loyalty/store"
	"github.com/xraph/loyalty/types"
	"github.com/xraph/loyalty/webhook"
)

// Collection name constants.
const (
	colPools     = "loyalty_pools"
	colAccounts  = "loyalty_accounts"
	colEntries   = "loyalty_entries"
	colEndpoints = "loyalty_webhook_endpoints"
)

// compile-time interface check
var _ loyaltystore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB. Transfers run inside
// multi-document transactions, so the server must be a replica set or a
// sharded cluster; standalone servers reject them.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New creates a MongoDB store over an existing database handle.
func New(db *mongo.Database) *Store {
	return &Store{
		client: db.Client(),
		db:     db,
	}
}

// Open connects to MongoDB and verifies the connection before returning
// the store.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("loyalty/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx) //nolint:errcheck // already failing
		return nil, fmt.Errorf("loyalty/mongo: ping: %w", err)
	}
	return New(client.Database(database)), nil
}

// DB returns the underlying database handle for direct access.
func (s *Store) DB() *mongo.Database { return s.db }

// Migrate creates indexes for all loyalty collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.db.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("loyalty/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close closes the client connection.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// ==================== Pool Store ====================

func (s *Store) CreatePool(ctx context.Context, p *merchant.Pool) error {
	_, err := s.db.Collection(colPools).InsertOne(ctx, toPoolModel(p))
	if mongo.IsDuplicateKeyError(err) {
		return loyalty.ErrPoolExists
	}
	if err != nil {
		return fmt.Errorf("loyalty/mongo: create pool: %w", err)
	}
	return nil
}

func (s *Store) GetPool(ctx context.Context, merchantID string) (*merchant.Pool, error) {
	var m poolModel
	err := s.db.Collection(colPools).FindOne(ctx, bson.M{"merchant_id": merchantID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, loyalty.ErrPoolNotFound
		}
		return nil, fmt.Errorf("loyalty/mongo: get pool: %w", err)
	}
	return fromPoolModel(&m)
}

func (s *Store) CreditPool(ctx context.Context, merchantID string, amount types.Points) (*merchant.Pool, error) {
	var m poolModel
	err := s.db.Collection(colPools).FindOneAndUpdate(ctx,
		bson.M{"merchant_id": merchantID},
		bson.M{
			"$inc": bson.M{"balance": amount.Int64()},
			"$set": bson.M{"updated_at": now()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, loyalty.ErrPoolNotFound
		}
		return nil, fmt.Errorf("loyalty/mongo: credit pool: %w", err)
	}
	return fromPoolModel(&m)
}

// ==================== Account Store ====================

func (s *Store) CreateAccount(ctx context.Context, a *customer.Account) error {
	_, err := s.db.Collection(colAccounts).InsertOne(ctx, toAccountModel(a))
	if mongo.IsDuplicateKeyError(err) {
		return loyalty.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("loyalty/mongo: create account: %w", err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, merchantID, customerUID string) (*customer.Account, error) {
	var m accountModel
	err := s.db.Collection(colAccounts).FindOne(ctx,
		bson.M{"merchant_id": merchantID, "customer_uid": customerUID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, loyalty.ErrAccountNotFound
		}
		return nil, fmt.Errorf("loyalty/mongo: get account: %w", err)
	}
	return fromAccountModel(&m)
}

func (s *Store) ListAccountsByUID(ctx context.Context, customerUID string) ([]*customer.Account, error) {
	cursor, err := s.db.Collection(colAccounts).Find(ctx,
		bson.M{"customer_uid": customerUID},
		options.Find().SetSort(bson.D{{Key: "merchant_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("loyalty/mongo: list accounts: %w", err)
	}

	var models []accountModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("loyalty/mongo: list accounts: %w", err)
	}

	result := make([]*customer.Account, len(models))
	for i := range models {
		a, err := fromAccountModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

// ==================== Ledger Store ====================

// ApplyTransfer moves points between the merchant pool and the customer
// account and appends the ledger entry inside one multi-document
// transaction. Write conflicts abort and retry the whole callback, so the
// balances read below stay consistent with the updates.
func (s *Store) ApplyTransfer(ctx context.Context, t *ledger.Transfer) (*ledger.Entry, error) {
	session, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", loyalty.ErrTransactionFailed, err)
	}
	defer session.EndSession(ctx)

	result, err := session.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		return s.applyTransferTx(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	return result.(*ledger.Entry), nil
}

func (s *Store) applyTransferTx(ctx context.Context, t *ledger.Transfer) (*ledger.Entry, error) {
	var pm poolModel
	err := s.db.Collection(colPools).FindOne(ctx, bson.M{"merchant_id": t.MerchantID}).Decode(&pm)
	if err != nil {
		if isNoDocuments(err) {
			return nil, loyalty.ErrPoolNotFound
		}
		return nil, err
	}

	var am accountModel
	err = s.db.Collection(colAccounts).FindOne(ctx,
		bson.M{"merchant_id": t.MerchantID, "customer_uid": t.CustomerUID}).Decode(&am)
	if err != nil {
		if isNoDocuments(err) {
			return nil, loyalty.ErrAccountNotFound
		}
		return nil, err
	}

	used, err := s.db.Collection(colEntries).CountDocuments(ctx,
		bson.M{"merchant_id": t.MerchantID, "reference_id": t.ReferenceID})
	if err != nil {
		return nil, err
	}
	if used > 0 {
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
	_, err = s.db.Collection(colPools).UpdateOne(ctx,
		bson.M{"_id": pm.ID},
		bson.M{"$set": bson.M{"balance": pool.Int64(), "updated_at": ts}})
	if err != nil {
		return nil, err
	}
	_, err = s.db.Collection(colAccounts).UpdateOne(ctx,
		bson.M{"_id": am.ID},
		bson.M{"$set": bson.M{"balance": account.Int64(), "updated_at": ts}})
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
	_, err = s.db.Collection(colEntries).InsertOne(ctx, toEntryModel(entry))
	if mongo.IsDuplicateKeyError(err) {
		return nil, loyalty.ErrDuplicateReference
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Store) GetEntry(ctx context.Context, entryID id.EntryID) (*ledger.Entry, error) {
	var m entryModel
	err := s.db.Collection(colEntries).FindOne(ctx, bson.M{"_id": entryID.String()}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, loyalty.ErrEntryNotFound
		}
		return nil, fmt.Errorf("loyalty/mongo: get entry: %w", err)
	}
	return fromEntryModel(&m)
}

func (s *Store) GetEntryByReference(ctx context.Context, merchantID, referenceID string) (*ledger.Entry, error) {
	var m entryModel
	err := s.db.Collection(colEntries).FindOne(ctx,
		bson.M{"merchant_id": merchantID, "reference_id": referenceID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, loyalty.ErrEntryNotFound
		}
		return nil, fmt.Errorf("loyalty/mongo: get entry by reference: %w", err)
	}
	return fromEntryModel(&m)
}

func (s *Store) ListEntries(ctx context.Context, merchantID, customerUID string, opts ledger.ListOpts) ([]*ledger.Entry, error) {
	offset, limit := opts.Window()
	cursor, err := s.db.Collection(colEntries).Find(ctx,
		bson.M{"merchant_id": merchantID, "customer_uid": customerUID},
		options.Find().
			SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
			SetSkip(int64(offset)).
			SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("loyalty/mongo: list entries: %w", err)
	}

	var models []entryModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("loyalty/mongo: list entries: %w", err)
	}

	result := make([]*ledger.Entry, len(models))
	for i := range models {
		e, err := fromEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

// ==================== Webhook Store ====================

func (s *Store) SetWebhookEndpoint(ctx context.Context, ep *webhook.Endpoint) error {
	_, err := s.db.Collection(colEndpoints).ReplaceOne(ctx,
		bson.M{"_id": ep.MerchantID},
		toEndpointModel(ep),
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("loyalty/mongo: set webhook endpoint: %w", err)
	}
	return nil
}

func (s *Store) GetWebhookEndpoint(ctx context.Context, merchantID string) (*webhook.Endpoint, error) {
	var m endpointModel
	err := s.db.Collection(colEndpoints).FindOne(ctx, bson.M{"_id": merchantID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, loyalty.ErrWebhookNotConfigured
		}
		return nil, fmt.Errorf("loyalty/mongo: get webhook endpoint: %w", err)
	}
	return fromEndpointModel(&m), nil
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all loyalty collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colPools: {
			{
				Keys:    bson.D{{Key: "merchant_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colAccounts: {
			{
				Keys:    bson.D{{Key: "merchant_id", Value: 1}, {Key: "customer_uid", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "customer_uid", Value: 1}}},
		},
		colEntries: {
			{
				Keys:    bson.D{{Key: "merchant_id", Value: 1}, {Key: "reference_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "merchant_id", Value: 1}, {Key: "customer_uid", Value: 1}, {Key: "created_at", Value: -1}}},
		},
		colEndpoints: {},
	}
}
