package model

import (
	"encoding/json"
	"time"
)

type ScriptJob struct {
	ID            string          `db:"id" json:"id"`
	OwnerID       string          `db:"owner_id" json:"ownerId"`
	TemplateID    string          `db:"template_id" json:"templateId"`
	ScriptName    string          `db:"script_name" json:"scriptName"`
	ScriptVersion *string         `db:"script_version" json:"scriptVersion,omitempty"`
	SchemaHash    string          `db:"schema_hash" json:"schemaHash"`
	TotalTargets  int             `db:"total_targets" json:"totalTargets"`
	Status        JobStatus       `db:"status" json:"status"`
	UnitPrice     *int64          `db:"unit_price" json:"unitPrice,omitempty"`
	Currency      *string         `db:"currency" json:"currency,omitempty"`
	TotalPrice    *int64          `db:"total_price" json:"totalPrice,omitempty"`
	Meta          json.RawMessage `db:"meta" json:"meta,omitempty"`
	CreatedAt     time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updatedAt"`
}

type ScriptJobTarget struct {
	ID           string       `db:"id" json:"id"`
	JobID        string       `db:"job_id" json:"jobId"`
	DeviceID     string       `db:"device_id" json:"deviceId"`
	DeviceName   *string      `db:"device_name" json:"deviceName,omitempty"`
	CommandID    *string      `db:"command_id" json:"commandId,omitempty"`
	Status       TargetStatus `db:"status" json:"status"`
	Result       *string      `db:"result" json:"result,omitempty"`
	ErrorMessage *string      `db:"error_message" json:"errorMessage,omitempty"`
	SentAt       *time.Time   `db:"sent_at" json:"sentAt,omitempty"`
	CompletedAt  *time.Time   `db:"completed_at" json:"completedAt,omitempty"`
}

type CreateJobParams struct {
	OwnerID       string
	TemplateID    string
	ScriptName    string
	ScriptVersion *string
	SchemaHash    string
	TotalTargets  int
	UnitPrice     *int64
	Currency      *string
	TotalPrice    *int64
	Meta          json.RawMessage
}

type CreateTargetParams struct {
	DeviceID   string
	DeviceName *string
	CommandID  *string
	Status     TargetStatus
	SentAt     *time.Time
}

type TargetResultUpdate struct {
	CommandID    string
	Status       TargetStatus
	Result       *string
	ErrorMessage *string
	CompletedAt  time.Time
}
