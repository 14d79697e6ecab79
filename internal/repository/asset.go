package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/scriptfleet/fleet-server-go/internal/model"
)

type AssetRepository interface {
	Create(ctx context.Context, params model.CreateAssetParams) (*model.TemplateAsset, error)
	FindByID(ctx context.Context, id string) (*model.TemplateAsset, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]model.TemplateAsset, error)
}

type assetRepo struct {
	db db
}

func NewAssetRepository(db *sqlx.DB) AssetRepository {
	return &assetRepo{db: db}
}

func (r *assetRepo) Create(ctx context.Context, params model.CreateAssetParams) (*model.TemplateAsset, error) {
	var asset model.TemplateAsset
	err := r.db.GetContext(ctx, &asset, `
		INSERT INTO template_assets
			(id, owner_id, file_name, content_type, size_bytes, checksum_sha256, storage_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *
	`, uuid.NewString(), params.OwnerID, params.FileName, params.ContentType,
		params.SizeBytes, params.Checksum, params.StoragePath)
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

func (r *assetRepo) FindByID(ctx context.Context, id string) (*model.TemplateAsset, error) {
	var asset model.TemplateAsset
	err := r.db.GetContext(ctx, &asset, `
		SELECT * FROM template_assets WHERE id = $1
	`, id)
	return HandleNotFound(&asset, err)
}

func (r *assetRepo) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]model.TemplateAsset, error) {
	assets := []model.TemplateAsset{}
	err := r.db.SelectContext(ctx, &assets, `
		SELECT * FROM template_assets
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	return assets, err
}
