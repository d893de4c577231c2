package models

import "time"

// SocialConnection holds one tenant's credentials for one platform. Tokens are
// stored AES-GCM encrypted; at most one row per (tenant, platform).
type SocialConnection struct {
	ID             int64     `db:"id" json:"id"`
	TenantID       int64     `db:"tenant_id" json:"tenant_id"`
	Platform       string    `db:"platform" json:"platform"`
	AccountID      string    `db:"account_id" json:"account_id"`
	AccountName    string    `db:"account_name" json:"account_name"`
	AccessToken    string    `db:"access_token" json:"-"`
	RefreshToken   string    `db:"refresh_token" json:"-"`
	TokenExpiresAt time.Time `db:"token_expires_at" json:"token_expires_at"`
	IsConnected    bool      `db:"is_connected" json:"is_connected"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}
