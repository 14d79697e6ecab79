package model

import (
	"time"
)

type TemplateAsset struct {
	ID          string    `db:"id" json:"id"`
	OwnerID     string    `db:"owner_id" json:"ownerId"`
	FileName    string    `db:"file_name" json:"fileName"`
	ContentType *string   `db:"content_type" json:"contentType,omitempty"`
	SizeBytes   int64     `db:"size_bytes" json:"sizeBytes"`
	Checksum    string    `db:"checksum_sha256" json:"checksumSha256"`
	StoragePath string    `db:"storage_path" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

type CreateAssetParams struct {
	OwnerID     string
	FileName    string
	ContentType *string
	SizeBytes   int64
	Checksum    string
	StoragePath string
}
