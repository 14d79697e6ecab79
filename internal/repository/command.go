package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/scriptfleet/fleet-server-go/internal/model"
)

type CommandRepository interface {
	Create(ctx context.Context, params model.CreateCommandParams) (*model.Command, error)
	FindByID(ctx context.Context, id string) (*model.Command, error)
	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	UpdateResult(ctx context.Context, update model.CommandResultUpdate, completedAt time.Time) error
	DeleteStalePending(ctx context.Context, olderThan time.Time) (int64, error)
	WithTx(tx *sqlx.Tx) CommandRepository
}

type commandRepo struct {
	db db
}

func NewCommandRepository(db *sqlx.DB) CommandRepository {
	return &commandRepo{db: db}
}

func (r *commandRepo) WithTx(tx *sqlx.Tx) CommandRepository {
	return &commandRepo{db: tx}
}

func (r *commandRepo) Create(ctx context.Context, params model.CreateCommandParams) (*model.Command, error) {
	var command model.Command
	err := r.db.GetContext(ctx, &command, `
		INSERT INTO commands (id, device_id, user_id, action, params, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		RETURNING *
	`, uuid.NewString(), params.DeviceID, params.UserID, params.Action, params.Params)
	if err != nil {
		return nil, err
	}
	return &command, nil
}

func (r *commandRepo) FindByID(ctx context.Context, id string) (*model.Command, error) {
	var command model.Command
	err := r.db.GetContext(ctx, &command, `
		SELECT * FROM commands WHERE id = $1
	`, id)
	return HandleNotFound(&command, err)
}

func (r *commandRepo) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE commands SET
			status = 'sent',
			sent_at = $2
		WHERE id = $1
	`, id, sentAt)
	return err
}

func (r *commandRepo) UpdateResult(ctx context.Context, update model.CommandResultUpdate, completedAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE commands SET
			status = $2,
			result = $3,
			error_message = $4,
			completed_at = $5
		WHERE id = $1
	`, update.CommandID, update.Status, update.Result, update.ErrorMessage, completedAt)
	return err
}

func (r *commandRepo) DeleteStalePending(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM commands
		WHERE status = 'pending' AND created_at < $1
	`, olderThan)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
