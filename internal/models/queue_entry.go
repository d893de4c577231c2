package models

import (
	"database/sql"
	"time"
)

type QueueEntry struct {
	ID             int64          `db:"id" json:"id"`
	TenantID       int64          `db:"tenant_id" json:"tenant_id"`
	ContentID      int64          `db:"content_id" json:"content_id"`
	Platform       string         `db:"platform" json:"platform"`
	ScheduledFor   time.Time      `db:"scheduled_for" json:"scheduled_for"`
	Status         string         `db:"status" json:"status"`
	AttemptCount   int            `db:"attempt_count" json:"attempt_count"`
	LastError      sql.NullString `db:"last_error" json:"last_error"`
	ExternalPostID sql.NullString `db:"external_post_id" json:"external_post_id"`
	PostedAt       sql.NullTime   `db:"posted_at" json:"posted_at"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

const (
	EntryStatusPending    = "pending"
	EntryStatusProcessing = "processing"
	EntryStatusPosted     = "posted"
	EntryStatusFailed     = "failed"
	EntryStatusSkipped    = "skipped"
)

const (
	PlatformInstagram      = "instagram"
	PlatformFacebook       = "facebook"
	PlatformGoogleBusiness = "google_business"
)

// Platforms is the closed set of publishing targets.
var Platforms = []string{PlatformInstagram, PlatformFacebook, PlatformGoogleBusiness}

func IsValidPlatform(p string) bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}
