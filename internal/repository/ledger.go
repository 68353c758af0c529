package repository

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"dreammotion/internal/model"
)

//go:embed spend.lua
var spendLuaScript string

// errCacheMiss is internal to the spend path: the Lua script reports that the
// balance is not in Redis and the caller must warm it up from Postgres.
var errCacheMiss = errors.New("balance not found in cache")

// LedgerRepo owns the credit balance and the transaction log. The hot spend
// path runs through a Redis Lua script; Postgres is the durable source of
// truth, kept in sync by the worker (spends) or written directly (credits).
type LedgerRepo struct {
	redisClient *redis.Client
	dbPool      *pgxpool.Pool
	bus         MessageBus
	signupGrant int64
}

func NewLedgerRepo(rdb *redis.Client, db *pgxpool.Pool, bus MessageBus, signupGrant int64) *LedgerRepo {
	return &LedgerRepo{
		redisClient: rdb,
		dbPool:      db,
		bus:         bus,
		signupGrant: signupGrant,
	}
}

func balanceKey(userID string) string {
	return "balance:" + userID
}

// Spend atomically checks and decrements the user's balance. If the cache is
// cold it warms up from Postgres (provisioning a first-use account with the
// signup grant when no row exists) and retries once.
func (r *LedgerRepo) Spend(ctx context.Context, req model.SpendRequest) (*model.SpendResult, error) {
	result, err := r.executeSpend(ctx, req)

	if errors.Is(err, errCacheMiss) {
		slog.Info("cold start, warming balance from postgres", "user_id", req.UserID)
		if _, err := r.warmUpCache(ctx, req.UserID, req.Email); err != nil {
			return nil, err
		}
		return r.executeSpend(ctx, req)
	}

	return result, err
}

func (r *LedgerRepo) executeSpend(ctx context.Context, req model.SpendRequest) (*model.SpendResult, error) {
	keys := []string{balanceKey(req.UserID), "idem:" + req.IdempotencyKey}
	args := []interface{}{req.Amount}

	result, err := r.redisClient.Eval(ctx, spendLuaScript, keys, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("spend script: %w", err)
	}

	resArray, ok := result.([]interface{})
	if !ok || len(resArray) < 2 {
		return nil, errors.New("unexpected response format from redis")
	}

	statusCode, ok := resArray[0].(int64)
	if !ok {
		return nil, errors.New("unexpected status type from redis")
	}

	switch statusCode {
	case 1:
		newBalance := resArray[1].(int64)
		r.publishSpendEvent(req)
		return &model.SpendResult{NewBalance: newBalance, Status: "SUCCESS"}, nil
	case 0:
		return nil, model.ErrAlreadyProcessed
	case -1:
		return nil, errCacheMiss
	case -2:
		return nil, model.ErrInsufficientCredits
	default:
		return nil, fmt.Errorf("unknown status from spend script: %d", statusCode)
	}
}

func (r *LedgerRepo) publishSpendEvent(req model.SpendRequest) {
	event := model.SpendEvent{
		UserID:         req.UserID,
		Amount:         req.Amount,
		Reference:      req.Reference,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}
	data, _ := json.Marshal(event)
	if err := r.bus.Publish(TopicCreditsSpent, data); err != nil {
		slog.Error("failed to publish spend event",
			"user_id", req.UserID, "key", req.IdempotencyKey, "error", err)
	}
}

// warmUpCache loads the balance from Postgres into Redis. A missing row is the
// user's first contact with the ledger: it is created with the signup grant,
// and the grant is recorded in the transaction log under a per-user key so a
// concurrent warmup cannot grant twice.
func (r *LedgerRepo) warmUpCache(ctx context.Context, userID, email string) (int64, error) {
	tx, err := r.dbPool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin warmup tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO balances (user_id, email, amount)
		 VALUES ($1, NULLIF($2, ''), $3)
		 ON CONFLICT (user_id) DO NOTHING`,
		userID, email, r.signupGrant)
	if err != nil {
		return 0, fmt.Errorf("provision balance: %w", err)
	}

	if tag.RowsAffected() > 0 && r.signupGrant > 0 {
		_, err = tx.Exec(ctx,
			`INSERT INTO credit_transactions (user_id, amount, type, idempotency_key)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (idempotency_key) DO NOTHING`,
			userID, r.signupGrant, model.TxGrant, "grant:"+userID)
		if err != nil {
			return 0, fmt.Errorf("record signup grant: %w", err)
		}
	}

	var balance int64
	if err := tx.QueryRow(ctx,
		`SELECT amount FROM balances WHERE user_id = $1`, userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit warmup tx: %w", err)
	}

	// Primary cache, no TTL: the spend script treats an absent key as a miss.
	if err := r.redisClient.Set(ctx, balanceKey(userID), balance, 0).Err(); err != nil {
		return 0, fmt.Errorf("cache balance: %w", err)
	}

	return balance, nil
}

// Credit appends a ledger row and applies the amount to the balance in one
// Postgres transaction. The unique idempotency key makes replays no-ops: when
// the insert hits the conflict, the balance is left untouched and Credit
// reports applied=false.
func (r *LedgerRepo) Credit(ctx context.Context, req model.CreditRequest) (bool, error) {
	tx, err := r.dbPool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin credit tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO credit_transactions (user_id, amount, type, reference, idempotency_key, price, currency)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, ''))
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		req.UserID, req.Amount, req.Type, req.Reference, req.IdempotencyKey, req.Price, req.Currency)
	if err != nil {
		return false, fmt.Errorf("insert transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO balances (user_id, amount)
		 VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE
		 SET amount = balances.amount + EXCLUDED.amount, updated_at = now()`,
		req.UserID, req.Amount)
	if err != nil {
		return false, fmt.Errorf("apply credit: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit credit tx: %w", err)
	}

	r.refreshCache(ctx, req.UserID, req.Amount)
	return true, nil
}

// refreshCache applies the delta to the cached balance if one is present.
// An absent key stays absent; the next spend warms it up from Postgres.
func (r *LedgerRepo) refreshCache(ctx context.Context, userID string, delta int64) {
	key := balanceKey(userID)
	exists, err := r.redisClient.Exists(ctx, key).Result()
	if err != nil {
		slog.Error("failed to check cached balance", "user_id", userID, "error", err)
		return
	}
	if exists == 0 {
		return
	}
	if err := r.redisClient.IncrBy(ctx, key, delta).Err(); err != nil {
		slog.Error("failed to refresh cached balance", "user_id", userID, "error", err)
	}
}

// Balance reads the cached balance, warming up from Postgres on a miss.
func (r *LedgerRepo) Balance(ctx context.Context, userID string) (int64, error) {
	balance, err := r.redisClient.Get(ctx, balanceKey(userID)).Int64()
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("read cached balance: %w", err)
	}
	return r.warmUpCache(ctx, userID, "")
}

// UserIDByEmail resolves the storefront buyer to a ledger account.
func (r *LedgerRepo) UserIDByEmail(ctx context.Context, email string) (string, error) {
	var userID string
	err := r.dbPool.QueryRow(ctx,
		`SELECT user_id FROM balances WHERE email = $1`, email).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", model.ErrAccountNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup user by email: %w", err)
	}
	return userID, nil
}

// SyncSpend persists a spend event in Postgres: the log row under the same
// idempotency key the Redis script guarded, and the balance decrement. A
// redelivered event hits the conflict and leaves the balance alone.
func (r *LedgerRepo) SyncSpend(ctx context.Context, event model.SpendEvent) error {
	tx, err := r.dbPool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin sync tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO credit_transactions (user_id, amount, type, reference, idempotency_key, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		event.UserID, -event.Amount, model.TxSpend, event.Reference, event.IdempotencyKey, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert spend row: %w", err)
	}

	if tag.RowsAffected() > 0 {
		_, err = tx.Exec(ctx,
			`UPDATE balances SET amount = amount - $2, updated_at = now() WHERE user_id = $1`,
			event.UserID, event.Amount)
		if err != nil {
			return fmt.Errorf("apply spend: %w", err)
		}
	}

	return tx.Commit(ctx)
}
