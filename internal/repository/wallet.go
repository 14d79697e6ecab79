package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/scriptfleet/fleet-server-go/internal/model"
)

type WalletRepository interface {
	FindByAccount(ctx context.Context, accountID string) (*model.Wallet, error)
	Create(ctx context.Context, accountID string, currency string) (*model.Wallet, error)
	// AdjustBalance applies a signed delta to the wallet balance and returns
	// the updated row. Callers enforce the non-negative invariant before
	// applying a debit; the CHECK constraint on the table is the backstop.
	AdjustBalance(ctx context.Context, accountID string, deltaCents int64) (*model.Wallet, error)
	AddTransaction(ctx context.Context, params model.AddTransactionParams) (*model.WalletTransaction, error)
	ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]model.WalletTransaction, error)
	WithTx(tx *sqlx.Tx) WalletRepository
}

type walletRepo struct {
	db db
}

func NewWalletRepository(db *sqlx.DB) WalletRepository {
	return &walletRepo{db: db}
}

func (r *walletRepo) WithTx(tx *sqlx.Tx) WalletRepository {
	return &walletRepo{db: tx}
}

func (r *walletRepo) FindByAccount(ctx context.Context, accountID string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.GetContext(ctx, &wallet, `
		SELECT * FROM wallets WHERE account_id = $1
	`, accountID)
	return HandleNotFound(&wallet, err)
}

func (r *walletRepo) Create(ctx context.Context, accountID string, currency string) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.GetContext(ctx, &wallet, `
		INSERT INTO wallets (id, account_id, balance_cents, currency)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (account_id) DO UPDATE SET account_id = EXCLUDED.account_id
		RETURNING *
	`, uuid.NewString(), accountID, currency)
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (r *walletRepo) AdjustBalance(ctx context.Context, accountID string, deltaCents int64) (*model.Wallet, error) {
	var wallet model.Wallet
	err := r.db.GetContext(ctx, &wallet, `
		UPDATE wallets SET
			balance_cents = balance_cents + $2,
			updated_at = $3
		WHERE account_id = $1
		RETURNING *
	`, accountID, deltaCents, time.Now())
	return HandleNotFound(&wallet, err)
}

func (r *walletRepo) AddTransaction(ctx context.Context, params model.AddTransactionParams) (*model.WalletTransaction, error) {
	var txn model.WalletTransaction
	err := r.db.GetContext(ctx, &txn, `
		INSERT INTO wallet_transactions
			(id, account_id, job_id, amount_cents, currency, type, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`, uuid.NewString(), params.AccountID, params.JobID,
		params.AmountCents, params.Currency, params.Type, params.Description)
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *walletRepo) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]model.WalletTransaction, error) {
	txns := []model.WalletTransaction{}
	err := r.db.SelectContext(ctx, &txns, `
		SELECT * FROM wallet_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	return txns, err
}
