package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/craftline/postpilot/internal/models"
)

type TenantRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Tenant, error)
	ListEligible(ctx context.Context) ([]*models.Tenant, error)
	SetPostingEnabled(ctx context.Context, tenantID int64, enabled bool) error
}

type tenantRepository struct {
	db *sql.DB
}

func NewTenantRepository(db *sql.DB) TenantRepository {
	return &tenantRepository{db: db}
}

func (r *tenantRepository) GetByID(ctx context.Context, id int64) (*models.Tenant, error) {
	query := `SELECT id, name, plan_tier, posting_enabled, active, published, created_at, updated_at FROM tenants WHERE id = $1`
	row := r.db.QueryRowContext(ctx, query, id)

	var t models.Tenant
	err := row.Scan(&t.ID, &t.Name, &t.PlanTier, &t.PostingEnabled, &t.Active, &t.Published, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &t, nil
}

func (r *tenantRepository) ListEligible(ctx context.Context) ([]*models.Tenant, error) {
	query := `
		SELECT id, name, plan_tier, posting_enabled, active, published, created_at, updated_at
		FROM tenants
		WHERE posting_enabled = TRUE AND active = TRUE AND published = TRUE
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var tenants []*models.Tenant
	for rows.Next() {
		var t models.Tenant
		err := rows.Scan(&t.ID, &t.Name, &t.PlanTier, &t.PostingEnabled, &t.Active, &t.Published, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		tenants = append(tenants, &t)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return tenants, nil
}

func (r *tenantRepository) SetPostingEnabled(ctx context.Context, tenantID int64, enabled bool) error {
	query := `UPDATE tenants SET posting_enabled = $1, updated_at = $2 WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, enabled, time.Now(), tenantID)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
