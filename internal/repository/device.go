package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/scriptfleet/fleet-server-go/internal/model"
)

type DeviceRepository interface {
	FindByID(ctx context.Context, id string) (*model.Device, error)
	ListByUsername(ctx context.Context, username string) ([]model.Device, error)
	List(ctx context.Context, limit, offset int, onlineOnly bool) ([]model.Device, int, error)
	Create(ctx context.Context, params model.EnsureDeviceParams) (*model.Device, error)
	MarkOnline(ctx context.Context, params model.EnsureDeviceParams) (*model.Device, error)
	MarkOffline(ctx context.Context, id string) error
	WithTx(tx *sqlx.Tx) DeviceRepository
}

type deviceRepo struct {
	db db
}

func NewDeviceRepository(db *sqlx.DB) DeviceRepository {
	return &deviceRepo{db: db}
}

func (r *deviceRepo) WithTx(tx *sqlx.Tx) DeviceRepository {
	return &deviceRepo{db: tx}
}

func (r *deviceRepo) FindByID(ctx context.Context, id string) (*model.Device, error) {
	var device model.Device
	err := r.db.GetContext(ctx, &device, `
		SELECT * FROM devices WHERE id = $1
	`, id)
	return HandleNotFound(&device, err)
}

func (r *deviceRepo) ListByUsername(ctx context.Context, username string) ([]model.Device, error) {
	devices := []model.Device{}
	err := r.db.SelectContext(ctx, &devices, `
		SELECT * FROM devices
		WHERE username = $1
		ORDER BY created_at DESC
	`, username)
	return devices, err
}

func (r *deviceRepo) List(ctx context.Context, limit, offset int, onlineOnly bool) ([]model.Device, int, error) {
	devices := []model.Device{}
	err := r.db.SelectContext(ctx, &devices, `
		SELECT * FROM devices
		WHERE ($3 = FALSE OR is_online = TRUE)
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset, onlineOnly)
	if err != nil {
		return nil, 0, err
	}

	var total int
	err = r.db.GetContext(ctx, &total, `
		SELECT COUNT(*) FROM devices
		WHERE ($1 = FALSE OR is_online = TRUE)
	`, onlineOnly)
	return devices, total, err
}

func (r *deviceRepo) Create(ctx context.Context, params model.EnsureDeviceParams) (*model.Device, error) {
	var device model.Device
	err := r.db.GetContext(ctx, &device, `
		INSERT INTO devices (id, username, device_name, device_model, android_version, local_ip, public_ip)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`, params.DeviceID, params.Username, params.DeviceName, params.DeviceModel,
		params.AndroidVersion, params.LocalIP, params.PublicIP)
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *deviceRepo) MarkOnline(ctx context.Context, params model.EnsureDeviceParams) (*model.Device, error) {
	var device model.Device
	err := r.db.GetContext(ctx, &device, `
		UPDATE devices SET
			is_online = TRUE,
			device_name = COALESCE($2, device_name),
			device_model = COALESCE($3, device_model),
			android_version = COALESCE($4, android_version),
			local_ip = COALESCE($5, local_ip),
			public_ip = COALESCE($6, public_ip),
			last_online_at = $7,
			updated_at = $7
		WHERE id = $1
		RETURNING *
	`, params.DeviceID, params.DeviceName, params.DeviceModel, params.AndroidVersion,
		params.LocalIP, params.PublicIP, time.Now())
	return HandleNotFound(&device, err)
}

func (r *deviceRepo) MarkOffline(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE devices SET
			is_online = FALSE,
			updated_at = $2
		WHERE id = $1
	`, id, time.Now())
	return err
}
