package model

import (
	"encoding/json"
	"time"
)

type DeviceLog struct {
	ID        int64           `db:"id" json:"id"`
	DeviceID  string          `db:"device_id" json:"deviceId"`
	LogType   string          `db:"log_type" json:"logType"`
	Message   string          `db:"message" json:"message"`
	Data      json.RawMessage `db:"data" json:"data,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
}

type CreateDeviceLogParams struct {
	DeviceID string
	LogType  string
	Message  string
	Data     json.RawMessage
}
