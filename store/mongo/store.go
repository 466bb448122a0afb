// Package mongo implements the credits store on MongoDB via the official
// driver.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/credits"
	"github.com/xraph/credits/allocation"
	"github.com/xraph/credits/audit"
	"github.com/xraph/credits/id"
	"github.com/xraph/credits/rollover"
	"github.com/xraph/credits/session"
	"github.com/xraph/credits/tier"
	"github.com/xraph/credits/transaction"
	"github.com/xraph/credits/types"

	creditstore "github.com/xraph/credits/store"
)

// Collection name constants.
const (
	colTransactions  = "credit_transactions"
	colBalances      = "credit_balances"
	colSessions      = "credit_sessions"
	colAllocations   = "credit_allocations"
	colRollovers     = "credit_rollovers"
	colTiers         = "credit_tiers"
	colAddOns        = "credit_addons"
	colSubscriptions = "credit_subscriptions"
	colAuditReports  = "credit_audit_reports"
)

// compile-time interface check
var _ creditstore.Store = (*Store)(nil)

// Store implements store.Store on a MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New wraps an already-connected client.
func New(client *mongo.Client, database string) *Store {
	return &Store{
		client: client,
		db:     client.Database(database),
	}
}

// Open connects to MongoDB at the given DSN.
func Open(dsn, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(dsn))
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: connect: %w", err)
	}
	return New(client, database), nil
}

// DB returns the underlying database for direct access.
func (s *Store) DB() *mongo.Database { return s.db }

func (s *Store) col(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes declares the indexes for all credits collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	unique := options.Index().SetUnique(true)
	uniqueSparse := options.Index().SetUnique(true).SetSparse(true)

	return map[string][]mongo.IndexModel{
		colTransactions: {
			{Keys: bson.D{{Key: "idempotency_key", Value: 1}}, Options: uniqueSparse},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "type", Value: 1}, {Key: "sequence", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "parent_id", Value: 1}}, Options: uniqueSparse},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
		colBalances: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "type", Value: 1}}, Options: unique},
		},
		colSessions: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}}},
		},
		colAllocations: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "period", Value: 1}}, Options: unique},
		},
		colRollovers: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "status", Value: 1}, {Key: "source_period", Value: 1}}},
		},
		colSubscriptions: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "status", Value: 1}}},
		},
	}
}

// Migrate creates indexes for all credits collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		if _, err := s.col(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("credits/mongo: %w: %s indexes: %v", credits.ErrMigrationFailed, col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	return s.client.Disconnect(context.Background())
}

// ==================== Transaction Store ====================

// AppendTransaction writes the ledger row, the balance update, and the
// parent status flip as separate document writes. The engine's per-tenant
// serialization keeps them consistent; the reconciliation job repairs any
// drift left by a crash between writes.
func (s *Store) AppendTransaction(ctx context.Context, txn *transaction.Transaction) error {
	if txn.IdempotencyKey != "" {
		err := s.col(colTransactions).FindOne(ctx,
			bson.M{"idempotency_key": txn.IdempotencyKey}).Err()
		if err == nil {
			return credits.ErrDuplicateIdempotencyKey
		}
		if !isNoDocuments(err) {
			return fmt.Errorf("credits/mongo: idempotency check: %w", err)
		}
	}

	if txn.IsReversal() {
		var parent txnModel
		err := s.col(colTransactions).FindOne(ctx,
			bson.M{"_id": txn.ParentID.String()}).Decode(&parent)
		if isNoDocuments(err) {
			return credits.ErrTransactionNotFound
		}
		if err != nil {
			return fmt.Errorf("credits/mongo: load parent: %w", err)
		}
		if parent.Status == string(transaction.StatusReversed) {
			return credits.ErrAlreadyReversed
		}
	}

	var last txnModel
	err := s.col(colTransactions).FindOne(ctx,
		bson.M{"tenant_id": txn.TenantID, "type": string(txn.Type)},
		options.FindOne().SetSort(bson.D{{Key: "sequence", Value: -1}})).Decode(&last)
	switch {
	case isNoDocuments(err):
		txn.Sequence = 1
	case err != nil:
		return fmt.Errorf("credits/mongo: next sequence: %w", err)
	default:
		txn.Sequence = last.Sequence + 1
	}

	var balance balanceModel
	err = s.col(colBalances).FindOneAndUpdate(ctx,
		bson.M{"_id": balanceDocID(txn.TenantID, txn.Type)},
		bson.M{
			"$inc": bson.M{"balance": txn.NetAmount()},
			"$set": bson.M{"updated_at": time.Now().UTC()},
			"$setOnInsert": bson.M{
				"tenant_id": txn.TenantID,
				"type":      string(txn.Type),
			},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)).Decode(&balance)
	if err != nil {
		return fmt.Errorf("credits/mongo: update balance: %w", err)
	}
	txn.BalanceAfter = balance.Balance

	m, err := toTxnModel(txn)
	if err != nil {
		return err
	}
	if _, err := s.col(colTransactions).InsertOne(ctx, m); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return credits.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("credits/mongo: append transaction: %w", err)
	}

	if txn.IsReversal() {
		if _, err := s.col(colTransactions).UpdateOne(ctx,
			bson.M{"_id": txn.ParentID.String()},
			bson.M{"$set": bson.M{
				"status":     string(transaction.StatusReversed),
				"updated_at": time.Now().UTC(),
			}}); err != nil {
			return fmt.Errorf("credits/mongo: flip parent status: %w", err)
		}
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, txnID id.TransactionID) (*transaction.Transaction, error) {
	var m txnModel
	err := s.col(colTransactions).FindOne(ctx, bson.M{"_id": txnID.String()}).Decode(&m)
	if isNoDocuments(err) {
		return nil, credits.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: get transaction: %w", err)
	}
	return fromTxnModel(&m)
}

func (s *Store) GetTransactionByIdempotencyKey(ctx context.Context, key string) (*transaction.Transaction, error) {
	var m txnModel
	err := s.col(colTransactions).FindOne(ctx, bson.M{"idempotency_key": key}).Decode(&m)
	if isNoDocuments(err) {
		return nil, credits.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: get transaction by key: %w", err)
	}
	return fromTxnModel(&m)
}

func (s *Store) GetReversal(ctx context.Context, parentID id.TransactionID) (*transaction.Transaction, error) {
	var m txnModel
	err := s.col(colTransactions).FindOne(ctx, bson.M{"parent_id": parentID.String()}).Decode(&m)
	if isNoDocuments(err) {
		return nil, credits.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: get reversal: %w", err)
	}
	return fromTxnModel(&m)
}

func (s *Store) ListTransactions(ctx context.Context, tenantID string, opts transaction.ListOpts) ([]*transaction.Transaction, error) {
	filter := bson.M{"tenant_id": tenantID}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}
	if opts.Kind != "" {
		filter["kind"] = string(opts.Kind)
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	created := bson.M{}
	if !opts.Since.IsZero() {
		created["$gte"] = opts.Since
	}
	if !opts.Until.IsZero() {
		created["$lt"] = opts.Until
	}
	if len(created) > 0 {
		filter["created_at"] = created
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "sequence", Value: 1}})
	if opts.Limit > 0 {
		findOpts = findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts = findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.col(colTransactions).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: list transactions: %w", err)
	}
	var models []txnModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, err
	}

	result := make([]*transaction.Transaction, 0, len(models))
	for i := range models {
		txn, err := fromTxnModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, txn)
	}
	return result, nil
}

func (s *Store) SumTransactions(ctx context.Context, tenantID string, ct types.CreditType) (int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"tenant_id": tenantID, "type": string(ct)}}},
		{{Key: "$group", Value: bson.M{
			"_id": nil,
			"sum": bson.M{"$sum": bson.M{"$subtract": bson.A{"$credit_amount", "$debit_amount"}}},
		}}},
	}
	cursor, err := s.col(colTransactions).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("credits/mongo: sum transactions: %w", err)
	}
	var results []struct {
		Sum int64 `bson:"sum"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0].Sum, nil
}

// ==================== Balance Store ====================

func (s *Store) GetCachedBalance(ctx context.Context, tenantID string, ct types.CreditType) (int64, error) {
	var m balanceModel
	err := s.col(colBalances).FindOne(ctx, bson.M{"_id": balanceDocID(tenantID, ct)}).Decode(&m)
	if isNoDocuments(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("credits/mongo: get balance: %w", err)
	}
	return m.Balance, nil
}

func (s *Store) SetCachedBalance(ctx context.Context, tenantID string, ct types.CreditType, balance int64) error {
	_, err := s.col(colBalances).UpdateOne(ctx,
		bson.M{"_id": balanceDocID(tenantID, ct)},
		bson.M{"$set": bson.M{
			"tenant_id":  tenantID,
			"type":       string(ct),
			"balance":    balance,
			"updated_at": time.Now().UTC(),
		}},
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("credits/mongo: set balance: %w", err)
	}
	return nil
}

func (s *Store) ListBalanceKeys(ctx context.Context) ([]creditstore.BalanceKey, error) {
	cursor, err := s.col(colBalances).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "tenant_id", Value: 1}, {Key: "type", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: list balance keys: %w", err)
	}
	var models []balanceModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, err
	}

	keys := make([]creditstore.BalanceKey, 0, len(models))
	for _, m := range models {
		keys = append(keys, creditstore.BalanceKey{TenantID: m.TenantID, Type: types.CreditType(m.Type)})
	}
	return keys, nil
}

// ==================== Session Store ====================

func (s *Store) CreateSession(ctx context.Context, sess *session.Session) error {
	if _, err := s.col(colSessions).InsertOne(ctx, toSessionModel(sess)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return credits.ErrAlreadyExists
		}
		return fmt.Errorf("credits/mongo: create session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID id.SessionID) (*session.Session, error) {
	var m sessionModel
	err := s.col(colSessions).FindOne(ctx, bson.M{"_id": sessionID.String()}).Decode(&m)
	if isNoDocuments(err) {
		return nil, credits.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: get session: %w", err)
	}
	return fromSessionModel(&m)
}

func (s *Store) TransitionSession(ctx context.Context, sessionID id.SessionID, from, to session.Status, actual types.Amount) error {
	set := bson.M{
		"status":     string(to),
		"updated_at": time.Now().UTC(),
	}
	if actual != nil {
		set["actual_cost"] = toAmountDoc(actual)
	}

	res, err := s.col(colSessions).UpdateOne(ctx,
		bson.M{"_id": sessionID.String(), "status": string(from)},
		bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("credits/mongo: transition session: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetSession(ctx, sessionID); err != nil {
			return err
		}
		return credits.ErrAlreadyTerminal
	}
	return nil
}

func (s *Store) SumReserved(ctx context.Context, tenantID string, ct types.CreditType) (int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"tenant_id": tenantID,
			"status":    string(session.StatusReserved),
		}}},
		{{Key: "$group", Value: bson.M{
			"_id": nil,
			"sum": bson.M{"$sum": bson.M{"$ifNull": bson.A{"$estimated_cost." + string(ct), 0}}},
		}}},
	}
	cursor, err := s.col(colSessions).Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("credits/mongo: sum reserved: %w", err)
	}
	var results []struct {
		Sum int64 `bson:"sum"`
	}
	if err := cursor.All(ctx, &results); err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0].Sum, nil
}

func (s *Store) ListExpiredSessions(ctx context.Context, now time.Time, limit int) ([]*session.Session, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "expires_at", Value: 1}})
	if limit > 0 {
		findOpts = findOpts.SetLimit(int64(limit))
	}
	cursor, err := s.col(colSessions).Find(ctx, bson.M{
		"status":     string(session.StatusReserved),
		"expires_at": bson.M{"$lte": now},
	}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: list expired sessions: %w", err)
	}
	return collectSessions(ctx, cursor)
}

func (s *Store) ListSessions(ctx context.Context, tenantID string, opts session.ListOpts) ([]*session.Session, error) {
	filter := bson.M{"tenant_id": tenantID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.OperationType != "" {
		filter["operation_type"] = opts.OperationType
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if opts.Limit > 0 {
		findOpts = findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts = findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.col(colSessions).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: list sessions: %w", err)
	}
	return collectSessions(ctx, cursor)
}

func collectSessions(ctx context.Context, cursor *mongo.Cursor) ([]*session.Session, error) {
	var models []sessionModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, err
	}
	result := make([]*session.Session, 0, len(models))
	for i := range models {
		sess, err := fromSessionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, sess)
	}
	return result, nil
}

// ==================== Allocation Store ====================

func (s *Store) CreateAllocation(ctx context.Context, a *allocation.MonthlyAllocation) error {
	if _, err := s.col(colAllocations).InsertOne(ctx, toAllocationModel(a)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return credits.ErrAllocationExists
		}
		return fmt.Errorf("credits/mongo: create allocation: %w", err)
	}
	return nil
}

func (s *Store) GetAllocation(ctx context.Context, tenantID string, period allocation.Period) (*allocation.MonthlyAllocation, error) {
	var m allocationModel
	err := s.col(colAllocations).FindOne(ctx,
		bson.M{"tenant_id": tenantID, "period": string(period)}).Decode(&m)
	if isNoDocuments(err) {
		return nil, credits.ErrAllocationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: get allocation: %w", err)
	}
	return fromAllocationModel(&m)
}

func (s *Store) IncrementAllocationUsed(ctx context.Context, tenantID string, period allocation.Period, ct types.CreditType, n int64) error {
	res, err := s.col(colAllocations).UpdateOne(ctx,
		bson.M{"tenant_id": tenantID, "period": string(period)},
		bson.M{
			"$inc": bson.M{"used." + string(ct): n},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		})
	if err != nil {
		return fmt.Errorf("credits/mongo: increment allocation used: %w", err)
	}
	if res.MatchedCount == 0 {
		return credits.ErrAllocationNotFound
	}
	return nil
}

func (s *Store) ListAllocations(ctx context.Context, tenantID string, opts allocation.ListOpts) ([]*allocation.MonthlyAllocation, error) {
	filter := bson.M{"tenant_id": tenantID}
	period := bson.M{}
	if opts.Since != "" {
		period["$gte"] = string(opts.Since)
	}
	if opts.Until != "" {
		period["$lte"] = string(opts.Until)
	}
	if len(period) > 0 {
		filter["period"] = period
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "period", Value: 1}})
	if opts.Limit > 0 {
		findOpts = findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts = findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.col(colAllocations).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: list allocations: %w", err)
	}
	var models []allocationModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, err
	}

	result := make([]*allocation.MonthlyAllocation, 0, len(models))
	for i := range models {
		a, err := fromAllocationModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, nil
}

// ==================== Rollover Store ====================

func (s *Store) CreateRollover(ctx context.Context, r *rollover.Rollover) error {
	if _, err := s.col(colRollovers).InsertOne(ctx, toRolloverModel(r)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return credits.ErrAlreadyExists
		}
		return fmt.Errorf("credits/mongo: create rollover: %w", err)
	}
	return nil
}

func (s *Store) GetRollover(ctx context.Context, rolloverID id.RolloverID) (*rollover.Rollover, error) {
	var m rolloverModel
	err := s.col(colRollovers).FindOne(ctx, bson.M{"_id": rolloverID.String()}).Decode(&m)
	if isNoDocuments(err) {
		return nil, credits.ErrRolloverNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: get rollover: %w", err)
	}
	return fromRolloverModel(&m)
}

func (s *Store) ListActiveRollovers(ctx context.Context, tenantID string) ([]*rollover.Rollover, error) {
	cursor, err := s.col(colRollovers).Find(ctx,
		bson.M{"tenant_id": tenantID, "status": string(rollover.StatusActive)},
		options.Find().SetSort(bson.D{{Key: "source_period", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: list active rollovers: %w", err)
	}
	return collectRollovers(ctx, cursor)
}

func (s *Store) AddRolloverUsage(ctx context.Context, rolloverID id.RolloverID, n int64) error {
	res, err := s.col(colRollovers).UpdateOne(ctx,
		bson.M{"_id": rolloverID.String(), "status": string(rollover.StatusActive)},
		bson.M{
			"$inc": bson.M{"amount_used": n},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		})
	if err != nil {
		return fmt.Errorf("credits/mongo: add rollover usage: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := s.GetRollover(ctx, rolloverID); err != nil {
			return err
		}
		return credits.ErrRolloverNotActive
	}
	return nil
}

func (s *Store) MarkRolloverExpired(ctx context.Context, rolloverID id.RolloverID) (*rollover.Rollover, error) {
	// Pipeline update so the remainder computes from the document's own
	// counters atomically with the status flip.
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"amount_expired": bson.M{"$subtract": bson.A{
				"$amount_rolled",
				bson.M{"$add": bson.A{"$amount_used", "$amount_expired"}},
			}},
			"status":     string(rollover.StatusExpired),
			"updated_at": time.Now().UTC(),
		}}},
	}

	var m rolloverModel
	err := s.col(colRollovers).FindOneAndUpdate(ctx,
		bson.M{"_id": rolloverID.String(), "status": string(rollover.StatusActive)},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&m)
	if isNoDocuments(err) {
		if _, getErr := s.GetRollover(ctx, rolloverID); getErr != nil {
			return nil, getErr
		}
		return nil, credits.ErrRolloverNotActive
	}
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: mark rollover expired: %w", err)
	}
	return fromRolloverModel(&m)
}

func (s *Store) ListRollovers(ctx context.Context, tenantID string, opts rollover.ListOpts) ([]*rollover.Rollover, error) {
	filter := bson.M{"tenant_id": tenantID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}
	if opts.SourcePeriod != "" {
		filter["source_period"] = string(opts.SourcePeriod)
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "source_period", Value: 1}, {Key: "_id", Value: 1}})
	if opts.Limit > 0 {
		findOpts = findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts = findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.col(colRollovers).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: list rollovers: %w", err)
	}
	return collectRollovers(ctx, cursor)
}

func collectRollovers(ctx context.Context, cursor *mongo.Cursor) ([]*rollover.Rollover, error) {
	var models []rolloverModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, err
	}
	result := make([]*rollover.Rollover, 0, len(models))
	for i := range models {
		r, err := fromRolloverModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, nil
}

// ==================== Tier Store ====================

func (s *Store) CreateTier(ctx context.Context, t *tier.Tier) error {
	if _, err := s.col(colTiers).InsertOne(ctx, toTierModel(t)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return credits.ErrAlreadyExists
		}
		return fmt.Errorf("credits/mongo: create tier: %w", err)
	}
	return nil
}

func (s *Store) GetTier(ctx context.Context, tierID id.TierID) (*tier.Tier, error) {
	var m tierModel
	err := s.col(colTiers).FindOne(ctx, bson.M{"_id": tierID.String()}).Decode(&m)
	if isNoDocuments(err) {
		return nil, credits.ErrTierNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: get tier: %w", err)
	}
	return fromTierModel(&m)
}

func (s *Store) ListTiers(ctx context.Context, opts tier.ListOpts) ([]*tier.Tier, error) {
	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if opts.Limit > 0 {
		findOpts = findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts = findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.col(colTiers).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: list tiers: %w", err)
	}
	var models []tierModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, err
	}

	result := make([]*tier.Tier, 0, len(models))
	for i := range models {
		t, err := fromTierModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, nil
}

func (s *Store) CreateAddOn(ctx context.Context, a *tier.AddOn) error {
	if _, err := s.col(colAddOns).InsertOne(ctx, toAddOnModel(a)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return credits.ErrAlreadyExists
		}
		return fmt.Errorf("credits/mongo: create addon: %w", err)
	}
	return nil
}

func (s *Store) GetAddOn(ctx context.Context, addOnID id.AddOnID) (*tier.AddOn, error) {
	var m addOnModel
	err := s.col(colAddOns).FindOne(ctx, bson.M{"_id": addOnID.String()}).Decode(&m)
	if isNoDocuments(err) {
		return nil, credits.ErrAddOnNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: get addon: %w", err)
	}
	return fromAddOnModel(&m)
}

func (s *Store) CreateSubscription(ctx context.Context, sub *tier.Subscription) error {
	if _, err := s.col(colSubscriptions).InsertOne(ctx, toSubscriptionModel(sub)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return credits.ErrAlreadyExists
		}
		return fmt.Errorf("credits/mongo: create subscription: %w", err)
	}
	return nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *tier.Subscription) error {
	res, err := s.col(colSubscriptions).ReplaceOne(ctx,
		bson.M{"_id": sub.ID.String()}, toSubscriptionModel(sub))
	if err != nil {
		return fmt.Errorf("credits/mongo: update subscription: %w", err)
	}
	if res.MatchedCount == 0 {
		return credits.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*tier.Subscription, error) {
	var m subscriptionModel
	err := s.col(colSubscriptions).FindOne(ctx, bson.M{"_id": subID.String()}).Decode(&m)
	if isNoDocuments(err) {
		return nil, credits.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) GetTenantSubscription(ctx context.Context, tenantID string) (*tier.Subscription, error) {
	var m subscriptionModel
	err := s.col(colSubscriptions).FindOne(ctx,
		bson.M{"tenant_id": tenantID, "status": string(tier.SubscriptionActive)}).Decode(&m)
	if isNoDocuments(err) {
		return nil, credits.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: get tenant subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) ListActiveTenantSubscriptions(ctx context.Context) ([]*tier.Subscription, error) {
	cursor, err := s.col(colSubscriptions).Find(ctx,
		bson.M{"status": string(tier.SubscriptionActive)},
		options.Find().SetSort(bson.D{{Key: "tenant_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: list active subscriptions: %w", err)
	}
	var models []subscriptionModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, err
	}

	result := make([]*tier.Subscription, 0, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}
	return result, nil
}

// ==================== Audit Store ====================

func (s *Store) SaveAuditReport(ctx context.Context, r *audit.Report) error {
	_, err := s.col(colAuditReports).ReplaceOne(ctx,
		bson.M{"_id": r.ID.String()}, toAuditReportModel(r),
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("credits/mongo: save audit report: %w", err)
	}
	return nil
}

func (s *Store) GetAuditReport(ctx context.Context, runID id.AuditRunID) (*audit.Report, error) {
	var m auditReportModel
	err := s.col(colAuditReports).FindOne(ctx, bson.M{"_id": runID.String()}).Decode(&m)
	if isNoDocuments(err) {
		return nil, credits.ErrAuditReportNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: get audit report: %w", err)
	}
	return fromAuditReportModel(&m)
}

func (s *Store) ListAuditReports(ctx context.Context, opts audit.ListOpts) ([]*audit.Report, error) {
	filter := bson.M{}
	if opts.OnlyDirty {
		filter["discrepancies.0"] = bson.M{"$exists": true}
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "started_at", Value: -1}})
	if opts.Limit > 0 {
		findOpts = findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts = findOpts.SetSkip(int64(opts.Offset))
	}

	cursor, err := s.col(colAuditReports).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("credits/mongo: list audit reports: %w", err)
	}
	var models []auditReportModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, err
	}

	result := make([]*audit.Report, 0, len(models))
	for i := range models {
		r, err := fromAuditReportModel(&models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, nil
}
