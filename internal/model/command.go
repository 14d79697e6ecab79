package model

import (
	"encoding/json"
	"time"
)

type Command struct {
	ID           string          `db:"id" json:"id"`
	DeviceID     string          `db:"device_id" json:"deviceId"`
	UserID       *string         `db:"user_id" json:"userId,omitempty"`
	Action       string          `db:"action" json:"action"`
	Params       json.RawMessage `db:"params" json:"params,omitempty"`
	Status       CommandStatus   `db:"status" json:"status"`
	Result       *string         `db:"result" json:"result,omitempty"`
	ErrorMessage *string         `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"createdAt"`
	SentAt       *time.Time      `db:"sent_at" json:"sentAt,omitempty"`
	CompletedAt  *time.Time      `db:"completed_at" json:"completedAt,omitempty"`
}

type CreateCommandParams struct {
	DeviceID string
	Action   string
	Params   json.RawMessage
	UserID   *string
}

type CommandResultUpdate struct {
	CommandID    string  `json:"command_id"`
	Status       string  `json:"status"`
	Result       *string `json:"result,omitempty"`
	ErrorMessage *string `json:"error_message,omitempty"`
}
