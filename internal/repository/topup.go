package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/scriptfleet/fleet-server-go/internal/model"
)

type TopupRepository interface {
	Create(ctx context.Context, params model.CreateTopupParams) (*model.TopupOrder, error)
	FindByID(ctx context.Context, id string) (*model.TopupOrder, error)
	UpdateStatus(ctx context.Context, id string, status model.TopupStatus) (*model.TopupOrder, error)
	ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]model.TopupOrder, error)
	ListAll(ctx context.Context, status *model.TopupStatus, limit, offset int) ([]model.TopupOrder, error)
	WithTx(tx *sqlx.Tx) TopupRepository
}

type topupRepo struct {
	db db
}

func NewTopupRepository(db *sqlx.DB) TopupRepository {
	return &topupRepo{db: db}
}

func (r *topupRepo) WithTx(tx *sqlx.Tx) TopupRepository {
	return &topupRepo{db: tx}
}

func (r *topupRepo) Create(ctx context.Context, params model.CreateTopupParams) (*model.TopupOrder, error) {
	var order model.TopupOrder
	err := r.db.GetContext(ctx, &order, `
		INSERT INTO topup_orders
			(id, account_id, amount_cents, currency, status, payment_channel, reference_no)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6)
		RETURNING *
	`, uuid.NewString(), params.AccountID, params.AmountCents, params.Currency,
		params.PaymentChannel, params.ReferenceNo)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *topupRepo) FindByID(ctx context.Context, id string) (*model.TopupOrder, error) {
	var order model.TopupOrder
	err := r.db.GetContext(ctx, &order, `
		SELECT * FROM topup_orders WHERE id = $1
	`, id)
	return HandleNotFound(&order, err)
}

func (r *topupRepo) UpdateStatus(ctx context.Context, id string, status model.TopupStatus) (*model.TopupOrder, error) {
	var confirmedAt *time.Time
	if status == model.TopupStatusSuccess {
		now := time.Now()
		confirmedAt = &now
	}
	var order model.TopupOrder
	err := r.db.GetContext(ctx, &order, `
		UPDATE topup_orders SET
			status = $2,
			confirmed_at = COALESCE($3, confirmed_at)
		WHERE id = $1
		RETURNING *
	`, id, status, confirmedAt)
	return HandleNotFound(&order, err)
}

func (r *topupRepo) ListByAccount(ctx context.Context, accountID string, limit, offset int) ([]model.TopupOrder, error) {
	orders := []model.TopupOrder{}
	err := r.db.SelectContext(ctx, &orders, `
		SELECT * FROM topup_orders
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, accountID, limit, offset)
	return orders, err
}

func (r *topupRepo) ListAll(ctx context.Context, status *model.TopupStatus, limit, offset int) ([]model.TopupOrder, error) {
	orders := []model.TopupOrder{}
	if status != nil {
		err := r.db.SelectContext(ctx, &orders, `
			SELECT * FROM topup_orders
			WHERE status = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3
		`, *status, limit, offset)
		return orders, err
	}
	err := r.db.SelectContext(ctx, &orders, `
		SELECT * FROM topup_orders
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	return orders, err
}
