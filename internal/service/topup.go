package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	apperrors "github.com/scriptfleet/fleet-server-go/internal/errors"
	"github.com/scriptfleet/fleet-server-go/internal/model"
	"github.com/scriptfleet/fleet-server-go/internal/repository"
)

type TopupService struct {
	topupRepo repository.TopupRepository
	wallets   *WalletService
}

func NewTopupService(topupRepo repository.TopupRepository, wallets *WalletService) *TopupService {
	return &TopupService{
		topupRepo: topupRepo,
		wallets:   wallets,
	}
}

// Create records a pending top-up order. Nothing is credited until an admin
// reviews the order.
func (s *TopupService) Create(ctx context.Context, accountID string, amountCents int64, paymentChannel, referenceNo *string) (*model.TopupOrder, error) {
	if amountCents <= 0 {
		return nil, apperrors.InvalidInput("amount_cents", "must be positive")
	}

	order, err := s.topupRepo.Create(ctx, model.CreateTopupParams{
		AccountID:      accountID,
		AmountCents:    amountCents,
		Currency:       DefaultCurrency,
		PaymentChannel: paymentChannel,
		ReferenceNo:    referenceNo,
	})
	if err != nil {
		return nil, fmt.Errorf("create topup order: %w", err)
	}

	log.Info().
		Str("topupId", order.ID).
		Str("accountId", accountID).
		Int64("amountCents", amountCents).
		Msg("topup order created")

	return order, nil
}

// Review settles a pending order: approval marks it success and credits the
// wallet, rejection marks it failed. Orders are reviewed exactly once.
func (s *TopupService) Review(ctx context.Context, orderID string, approve bool) (*model.TopupOrder, error) {
	order, err := s.topupRepo.FindByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("find topup order: %w", err)
	}
	if order == nil {
		return nil, apperrors.NotFound("topup order")
	}
	if order.Status != model.TopupStatusPending {
		return nil, apperrors.Conflict("topup order already reviewed")
	}

	status := model.TopupStatusFailed
	if approve {
		status = model.TopupStatusSuccess
	}
	updated, err := s.topupRepo.UpdateStatus(ctx, orderID, status)
	if err != nil {
		return nil, fmt.Errorf("update topup status: %w", err)
	}

	if approve {
		description := fmt.Sprintf("topup order %s", orderID)
		if _, err := s.wallets.Credit(ctx, order.AccountID, order.AmountCents, description); err != nil {
			return nil, err
		}
	}

	log.Info().
		Str("topupId", orderID).
		Str("accountId", order.AccountID).
		Bool("approved", approve).
		Msg("topup order reviewed")

	return updated, nil
}

func (s *TopupService) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]model.TopupOrder, error) {
	orders, err := s.topupRepo.ListByAccount(ctx, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list topup orders: %w", err)
	}
	return orders, nil
}

func (s *TopupService) ListAll(ctx context.Context, status *model.TopupStatus, limit, offset int) ([]model.TopupOrder, error) {
	orders, err := s.topupRepo.ListAll(ctx, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list topup orders: %w", err)
	}
	return orders, nil
}
