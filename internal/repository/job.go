package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/scriptfleet/fleet-server-go/internal/model"
)

type JobRepository interface {
	CreateJob(ctx context.Context, params model.CreateJobParams) (*model.ScriptJob, error)
	AddTargets(ctx context.Context, jobID string, targets []model.CreateTargetParams) ([]model.ScriptJobTarget, error)
	FindJob(ctx context.Context, id string) (*model.ScriptJob, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]model.ScriptJob, error)
	ListAll(ctx context.Context, limit, offset int) ([]model.ScriptJob, error)
	ListTargets(ctx context.Context, jobID string) ([]model.ScriptJobTarget, error)
	UpdateJobStatus(ctx context.Context, id string, status model.JobStatus) error
	UpdateTargetResult(ctx context.Context, update model.TargetResultUpdate) (*model.ScriptJobTarget, error)
	WithTx(tx *sqlx.Tx) JobRepository
}

type jobRepo struct {
	db db
}

func NewJobRepository(db *sqlx.DB) JobRepository {
	return &jobRepo{db: db}
}

func (r *jobRepo) WithTx(tx *sqlx.Tx) JobRepository {
	return &jobRepo{db: tx}
}

func (r *jobRepo) CreateJob(ctx context.Context, params model.CreateJobParams) (*model.ScriptJob, error) {
	var job model.ScriptJob
	err := r.db.GetContext(ctx, &job, `
		INSERT INTO script_jobs
			(id, owner_id, template_id, script_name, script_version, schema_hash,
			 total_targets, status, unit_price, currency, total_price, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8, $9, $10, $11)
		RETURNING *
	`, uuid.NewString(), params.OwnerID, params.TemplateID, params.ScriptName,
		params.ScriptVersion, params.SchemaHash, params.TotalTargets,
		params.UnitPrice, params.Currency, params.TotalPrice, params.Meta)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRepo) AddTargets(ctx context.Context, jobID string, targets []model.CreateTargetParams) ([]model.ScriptJobTarget, error) {
	created := make([]model.ScriptJobTarget, 0, len(targets))
	for _, params := range targets {
		var target model.ScriptJobTarget
		err := r.db.GetContext(ctx, &target, `
			INSERT INTO script_job_targets
				(id, job_id, device_id, device_name, command_id, status, sent_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING *
		`, uuid.NewString(), jobID, params.DeviceID, params.DeviceName,
			params.CommandID, params.Status, params.SentAt)
		if err != nil {
			return nil, err
		}
		created = append(created, target)
	}
	return created, nil
}

func (r *jobRepo) FindJob(ctx context.Context, id string) (*model.ScriptJob, error) {
	var job model.ScriptJob
	err := r.db.GetContext(ctx, &job, `
		SELECT * FROM script_jobs WHERE id = $1
	`, id)
	return HandleNotFound(&job, err)
}

func (r *jobRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]model.ScriptJob, error) {
	jobs := []model.ScriptJob{}
	err := r.db.SelectContext(ctx, &jobs, `
		SELECT * FROM script_jobs
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	return jobs, err
}

func (r *jobRepo) ListAll(ctx context.Context, limit, offset int) ([]model.ScriptJob, error) {
	jobs := []model.ScriptJob{}
	err := r.db.SelectContext(ctx, &jobs, `
		SELECT * FROM script_jobs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	return jobs, err
}

func (r *jobRepo) ListTargets(ctx context.Context, jobID string) ([]model.ScriptJobTarget, error) {
	targets := []model.ScriptJobTarget{}
	err := r.db.SelectContext(ctx, &targets, `
		SELECT * FROM script_job_targets
		WHERE job_id = $1
		ORDER BY id
	`, jobID)
	return targets, err
}

func (r *jobRepo) UpdateJobStatus(ctx context.Context, id string, status model.JobStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE script_jobs SET
			status = $2,
			updated_at = $3
		WHERE id = $1
	`, id, status, time.Now())
	return err
}

func (r *jobRepo) UpdateTargetResult(ctx context.Context, update model.TargetResultUpdate) (*model.ScriptJobTarget, error) {
	var target model.ScriptJobTarget
	err := r.db.GetContext(ctx, &target, `
		UPDATE script_job_targets SET
			status = $2,
			result = $3,
			error_message = $4,
			completed_at = $5
		WHERE command_id = $1
		RETURNING *
	`, update.CommandID, update.Status, update.Result, update.ErrorMessage, update.CompletedAt)
	return HandleNotFound(&target, err)
}
