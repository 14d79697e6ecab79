package model

import (
	"time"
)

// Wallet balances are stored in integer minor currency units.
type Wallet struct {
	ID           string    `db:"id" json:"id"`
	AccountID    string    `db:"account_id" json:"accountId"`
	BalanceCents int64     `db:"balance_cents" json:"balanceCents"`
	Currency     string    `db:"currency" json:"currency"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

type WalletTransaction struct {
	ID          string          `db:"id" json:"id"`
	AccountID   string          `db:"account_id" json:"accountId"`
	JobID       *string         `db:"job_id" json:"jobId,omitempty"`
	AmountCents int64           `db:"amount_cents" json:"amountCents"`
	Currency    string          `db:"currency" json:"currency"`
	Type        TransactionType `db:"type" json:"type"`
	Description *string         `db:"description" json:"description,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"createdAt"`
}

type AddTransactionParams struct {
	AccountID   string
	JobID       *string
	AmountCents int64
	Currency    string
	Type        TransactionType
	Description *string
}
