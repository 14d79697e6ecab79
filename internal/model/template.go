package model

import (
	"encoding/json"
	"time"
)

type ScriptTemplate struct {
	ID            string          `db:"id" json:"id"`
	OwnerID       string          `db:"owner_id" json:"ownerId"`
	ScriptName    string          `db:"script_name" json:"scriptName"`
	ScriptTitle   *string         `db:"script_title" json:"scriptTitle,omitempty"`
	ScriptVersion *string         `db:"script_version" json:"scriptVersion,omitempty"`
	SchemaHash    string          `db:"schema_hash" json:"schemaHash"`
	Schema        json.RawMessage `db:"schema" json:"schema"`
	Defaults      json.RawMessage `db:"defaults" json:"defaults"`
	Notes         *string         `db:"notes" json:"notes,omitempty"`
	Status        TemplateStatus  `db:"status" json:"status"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updatedAt"`
}

type CreateTemplateParams struct {
	OwnerID       string
	ScriptName    string
	ScriptTitle   *string
	ScriptVersion *string
	SchemaHash    string
	Schema        json.RawMessage
	Defaults      json.RawMessage
	Notes         *string
}

type UpdateTemplateParams struct {
	Defaults    json.RawMessage
	Notes       *string
	ScriptTitle *string
}
