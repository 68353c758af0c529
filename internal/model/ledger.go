package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a row in the credit transaction log.
type TransactionType string

const (
	TxPurchase   TransactionType = "purchase"
	TxSpend      TransactionType = "spend"
	TxRefund     TransactionType = "refund"
	TxAdjustment TransactionType = "adjustment"
	TxGrant      TransactionType = "grant"
)

// Balance is the durable credit balance row for a user.
// Amount never goes negative: the spend path decrements atomically in Redis
// and Postgres carries a CHECK constraint as a second line of defence.
type Balance struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is an append-only audit row. IdempotencyKey is unique in the
// database, which is what makes replayed webhooks and duplicate refunds no-ops.
type Transaction struct {
	ID             int64           `json:"id"`
	UserID         string          `json:"user_id"`
	Amount         int64           `json:"amount"`
	Type           TransactionType `json:"type"`
	Reference      string          `json:"reference,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	Price          decimal.Decimal `json:"price,omitempty"`
	Currency       string          `json:"currency,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type SpendRequest struct {
	UserID string `json:"user_id"`
	// Email is only used when the spend provisions a first-use account.
	Email          string `json:"email,omitempty"`
	Amount         int64  `json:"amount"`
	Reference      string `json:"reference"`
	IdempotencyKey string `json:"idempotency_key"`
}

type SpendResult struct {
	NewBalance int64  `json:"new_balance"`
	Status     string `json:"status"`
}

// CreditRequest adds credits to a user's balance (purchase, refund or manual
// adjustment; the amount may be negative for adjustments).
type CreditRequest struct {
	UserID         string
	Amount         int64
	Type           TransactionType
	Reference      string
	IdempotencyKey string
	Price          decimal.Decimal
	Currency       string
}

// SpendEvent is published on the bus after a successful atomic spend and
// consumed by the sync worker that applies it to Postgres.
type SpendEvent struct {
	UserID         string    `json:"user_id"`
	Amount         int64     `json:"amount"`
	Reference      string    `json:"reference"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
}

// Sale is a storefront webhook notification of a completed purchase.
type Sale struct {
	TransactionID string
	ProductCode   string
	Email         string
	Price         decimal.Decimal
	Currency      string
}
