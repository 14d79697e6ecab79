package model

import (
	"time"
)

type Account struct {
	ID              string      `db:"id" json:"id"`
	Username        string      `db:"username" json:"username"`
	TokenHash       string      `db:"token_hash" json:"-"`
	Role            AccountRole `db:"role" json:"role"`
	RateLimitPerMin int         `db:"rate_limit_per_minute" json:"rateLimitPerMinute"`
	IsActive        bool        `db:"is_active" json:"isActive"`
	CreatedAt       time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time   `db:"updated_at" json:"updatedAt"`
}

func (a *Account) IsAdmin() bool {
	return a.Role == RoleAdmin || a.Role == RoleSuperAdmin
}

type CreateAccountParams struct {
	Username        string
	TokenHash       string
	Role            AccountRole
	RateLimitPerMin int
}
