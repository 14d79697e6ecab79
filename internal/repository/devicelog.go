package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/scriptfleet/fleet-server-go/internal/model"
)

type DeviceLogRepository interface {
	Create(ctx context.Context, params model.CreateDeviceLogParams) error
	ListByDevice(ctx context.Context, deviceID string, limit, offset int) ([]model.DeviceLog, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type deviceLogRepo struct {
	db db
}

func NewDeviceLogRepository(db *sqlx.DB) DeviceLogRepository {
	return &deviceLogRepo{db: db}
}

func (r *deviceLogRepo) Create(ctx context.Context, params model.CreateDeviceLogParams) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO device_logs (device_id, log_type, message, data)
		VALUES ($1, $2, $3, $4)
	`, params.DeviceID, params.LogType, params.Message, params.Data)
	return err
}

func (r *deviceLogRepo) ListByDevice(ctx context.Context, deviceID string, limit, offset int) ([]model.DeviceLog, error) {
	logs := []model.DeviceLog{}
	err := r.db.SelectContext(ctx, &logs, `
		SELECT * FROM device_logs
		WHERE device_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, deviceID, limit, offset)
	return logs, err
}

func (r *deviceLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM device_logs WHERE created_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
