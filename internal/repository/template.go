package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/scriptfleet/fleet-server-go/internal/model"
)

type TemplateRepository interface {
	Create(ctx context.Context, params model.CreateTemplateParams) (*model.ScriptTemplate, error)
	FindByID(ctx context.Context, id string) (*model.ScriptTemplate, error)
	ListByOwner(ctx context.Context, ownerID string) ([]model.ScriptTemplate, error)
	Update(ctx context.Context, id string, params model.UpdateTemplateParams) (*model.ScriptTemplate, error)
	SoftDelete(ctx context.Context, id string) error
	WithTx(tx *sqlx.Tx) TemplateRepository
}

type templateRepo struct {
	db db
}

func NewTemplateRepository(db *sqlx.DB) TemplateRepository {
	return &templateRepo{db: db}
}

func (r *templateRepo) WithTx(tx *sqlx.Tx) TemplateRepository {
	return &templateRepo{db: tx}
}

func (r *templateRepo) Create(ctx context.Context, params model.CreateTemplateParams) (*model.ScriptTemplate, error) {
	var template model.ScriptTemplate
	err := r.db.GetContext(ctx, &template, `
		INSERT INTO script_templates
			(id, owner_id, script_name, script_title, script_version, schema_hash, schema, defaults, notes, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'active')
		RETURNING *
	`, uuid.NewString(), params.OwnerID, params.ScriptName, params.ScriptTitle,
		params.ScriptVersion, params.SchemaHash, params.Schema, params.Defaults, params.Notes)
	if err != nil {
		return nil, err
	}
	return &template, nil
}

func (r *templateRepo) FindByID(ctx context.Context, id string) (*model.ScriptTemplate, error) {
	var template model.ScriptTemplate
	err := r.db.GetContext(ctx, &template, `
		SELECT * FROM script_templates WHERE id = $1
	`, id)
	return HandleNotFound(&template, err)
}

func (r *templateRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.ScriptTemplate, error) {
	templates := []model.ScriptTemplate{}
	err := r.db.SelectContext(ctx, &templates, `
		SELECT * FROM script_templates
		WHERE owner_id = $1 AND status != 'deleted'
		ORDER BY created_at DESC
	`, ownerID)
	return templates, err
}

func (r *templateRepo) Update(ctx context.Context, id string, params model.UpdateTemplateParams) (*model.ScriptTemplate, error) {
	var template model.ScriptTemplate
	err := r.db.GetContext(ctx, &template, `
		UPDATE script_templates SET
			defaults = COALESCE($2, defaults),
			notes = COALESCE($3, notes),
			script_title = COALESCE($4, script_title),
			updated_at = $5
		WHERE id = $1
		RETURNING *
	`, id, params.Defaults, params.Notes, params.ScriptTitle, time.Now())
	return HandleNotFound(&template, err)
}

func (r *templateRepo) SoftDelete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE script_templates SET
			status = 'deleted',
			updated_at = $2
		WHERE id = $1
	`, id, time.Now())
	return err
}
