package models

import "time"

// ContentItem is a tenant project photo set eligible for posting. Owned by the
// content-management side; the engine only reads it.
type ContentItem struct {
	ID          int64     `db:"id" json:"id"`
	TenantID    int64     `db:"tenant_id" json:"tenant_id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	ImageKeys   []string  `db:"image_keys" json:"image_keys"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
