package model

import (
	"time"
)

type Device struct {
	ID             string     `db:"id" json:"id"`
	Username       string     `db:"username" json:"username"`
	DeviceName     *string    `db:"device_name" json:"deviceName,omitempty"`
	DeviceModel    *string    `db:"device_model" json:"deviceModel,omitempty"`
	AndroidVersion *string    `db:"android_version" json:"androidVersion,omitempty"`
	LocalIP        *string    `db:"local_ip" json:"localIp,omitempty"`
	PublicIP       *string    `db:"public_ip" json:"publicIp,omitempty"`
	IsOnline       bool       `db:"is_online" json:"isOnline"`
	LastOnlineAt   *time.Time `db:"last_online_at" json:"lastOnlineAt,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`
}

// DisplayName prefers the advertised device name over the raw id.
func (d *Device) DisplayName() string {
	if d.DeviceName != nil && *d.DeviceName != "" {
		return *d.DeviceName
	}
	return d.ID
}

type EnsureDeviceParams struct {
	DeviceID       string
	Username       string
	DeviceName     *string
	DeviceModel    *string
	AndroidVersion *string
	LocalIP        *string
	PublicIP       *string
}
