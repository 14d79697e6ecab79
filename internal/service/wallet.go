package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	apperrors "github.com/scriptfleet/fleet-server-go/internal/errors"
	"github.com/scriptfleet/fleet-server-go/internal/model"
	"github.com/scriptfleet/fleet-server-go/internal/repository"
)

const DefaultCurrency = "CNY"

// WalletService keeps the balance and the transaction ledger consistent:
// every balance mutation writes a matching signed ledger row. A freeze is
// all-or-nothing; an insufficient balance leaves the wallet untouched.
type WalletService struct {
	walletRepo repository.WalletRepository
}

func NewWalletService(walletRepo repository.WalletRepository) *WalletService {
	return &WalletService{walletRepo: walletRepo}
}

// WithRepo returns a service bound to a different repository, used to run
// ledger operations inside an enclosing transaction.
func (s *WalletService) WithRepo(repo repository.WalletRepository) *WalletService {
	return &WalletService{walletRepo: repo}
}

// EnsureWallet returns the account's wallet, creating a zero-balance one on
// first touch. One wallet per account.
func (s *WalletService) EnsureWallet(ctx context.Context, accountID string) (*model.Wallet, error) {
	wallet, err := s.walletRepo.FindByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("find wallet: %w", err)
	}
	if wallet != nil {
		return wallet, nil
	}

	wallet, err = s.walletRepo.Create(ctx, accountID, DefaultCurrency)
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	return wallet, nil
}

// Freeze reserves amountCents against the balance for a job. The balance is
// checked first and never mutated on failure.
func (s *WalletService) Freeze(ctx context.Context, accountID, jobID string, amountCents int64, description string) (*model.Wallet, error) {
	wallet, err := s.EnsureWallet(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if wallet.BalanceCents < amountCents {
		return nil, apperrors.PaymentRequired("insufficient wallet balance")
	}

	wallet, err = s.walletRepo.AdjustBalance(ctx, accountID, -amountCents)
	if err != nil {
		return nil, fmt.Errorf("freeze balance: %w", err)
	}

	if description == "" {
		description = "script job freeze"
	}
	_, err = s.walletRepo.AddTransaction(ctx, model.AddTransactionParams{
		AccountID:   accountID,
		JobID:       &jobID,
		AmountCents: -amountCents,
		Currency:    wallet.Currency,
		Type:        model.TransactionFreeze,
		Description: &description,
	})
	if err != nil {
		return nil, fmt.Errorf("record freeze: %w", err)
	}

	log.Info().
		Str("accountId", accountID).
		Str("jobId", jobID).
		Int64("amountCents", amountCents).
		Int64("balanceCents", wallet.BalanceCents).
		Msg("wallet freeze")

	return wallet, nil
}

// Capture records that a frozen amount was consumed. The balance was already
// debited by the freeze, so this writes only the annotation row.
func (s *WalletService) Capture(ctx context.Context, accountID, jobID string, amountCents int64, description string) error {
	wallet, err := s.EnsureWallet(ctx, accountID)
	if err != nil {
		return err
	}
	if description == "" {
		description = "script job capture"
	}
	_, err = s.walletRepo.AddTransaction(ctx, model.AddTransactionParams{
		AccountID:   accountID,
		JobID:       &jobID,
		AmountCents: amountCents,
		Currency:    wallet.Currency,
		Type:        model.TransactionCapture,
		Description: &description,
	})
	if err != nil {
		return fmt.Errorf("record capture: %w", err)
	}
	return nil
}

// Refund returns a frozen amount to the balance with a positive ledger row.
func (s *WalletService) Refund(ctx context.Context, accountID, jobID string, amountCents int64, description string) (*model.Wallet, error) {
	wallet, err := s.walletRepo.AdjustBalance(ctx, accountID, amountCents)
	if err != nil {
		return nil, fmt.Errorf("refund balance: %w", err)
	}
	if wallet == nil {
		return nil, apperrors.NotFound("wallet")
	}

	if description == "" {
		description = "script job refund"
	}
	_, err = s.walletRepo.AddTransaction(ctx, model.AddTransactionParams{
		AccountID:   accountID,
		JobID:       &jobID,
		AmountCents: amountCents,
		Currency:    wallet.Currency,
		Type:        model.TransactionRefund,
		Description: &description,
	})
	if err != nil {
		return nil, fmt.Errorf("record refund: %w", err)
	}
	return wallet, nil
}

// Credit adds funds from a confirmed top-up order.
func (s *WalletService) Credit(ctx context.Context, accountID string, amountCents int64, description string) (*model.Wallet, error) {
	if _, err := s.EnsureWallet(ctx, accountID); err != nil {
		return nil, err
	}

	wallet, err := s.walletRepo.AdjustBalance(ctx, accountID, amountCents)
	if err != nil {
		return nil, fmt.Errorf("credit balance: %w", err)
	}

	if description == "" {
		description = "wallet top-up"
	}
	_, err = s.walletRepo.AddTransaction(ctx, model.AddTransactionParams{
		AccountID:   accountID,
		AmountCents: amountCents,
		Currency:    wallet.Currency,
		Type:        model.TransactionTopup,
		Description: &description,
	})
	if err != nil {
		return nil, fmt.Errorf("record top-up: %w", err)
	}

	log.Info().
		Str("accountId", accountID).
		Int64("amountCents", amountCents).
		Int64("balanceCents", wallet.BalanceCents).
		Msg("wallet credited")

	return wallet, nil
}

func (s *WalletService) ListTransactions(ctx context.Context, accountID string, limit, offset int) ([]model.WalletTransaction, error) {
	txns, err := s.walletRepo.ListTransactions(ctx, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txns, nil
}
