package models

import "time"

type Tenant struct {
	ID             int64     `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	PlanTier       string    `db:"plan_tier" json:"plan_tier"`
	PostingEnabled bool      `db:"posting_enabled" json:"posting_enabled"`
	Active         bool      `db:"active" json:"active"`
	Published      bool      `db:"published" json:"published"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}
