package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/lib/pq"

	"github.com/craftline/postpilot/internal/models"
)

type ContentRepository interface {
	GetByID(ctx context.Context, id int64) (*models.ContentItem, error)
	ListEligible(ctx context.Context, tenantID int64) ([]*models.ContentItem, error)
}

type contentRepository struct {
	db *sql.DB
}

func NewContentRepository(db *sql.DB) ContentRepository {
	return &contentRepository{db: db}
}

func (r *contentRepository) GetByID(ctx context.Context, id int64) (*models.ContentItem, error) {
	query := `
		SELECT p.id, p.tenant_id, p.title, p.description, p.created_at,
			COALESCE(ARRAY_AGG(pi.object_key ORDER BY pi.display_order) FILTER (WHERE pi.object_key IS NOT NULL), '{}')
		FROM projects p
		LEFT JOIN project_images pi ON pi.project_id = p.id
		WHERE p.id = $1
		GROUP BY p.id
	`
	row := r.db.QueryRowContext(ctx, query, id)

	var c models.ContentItem
	err := row.Scan(&c.ID, &c.TenantID, &c.Title, &c.Description, &c.CreatedAt, pq.Array(&c.ImageKeys))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}

	return &c, nil
}

// ListEligible returns the tenant's published projects that have at least one
// image, oldest first so rotation order is stable.
func (r *contentRepository) ListEligible(ctx context.Context, tenantID int64) ([]*models.ContentItem, error) {
	query := `
		SELECT p.id, p.tenant_id, p.title, p.description, p.created_at,
			ARRAY_AGG(pi.object_key ORDER BY pi.display_order)
		FROM projects p
		JOIN project_images pi ON pi.project_id = p.id
		WHERE p.tenant_id = $1 AND p.published = TRUE
		GROUP BY p.id
		ORDER BY p.created_at
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var items []*models.ContentItem
	for rows.Next() {
		var c models.ContentItem
		err := rows.Scan(&c.ID, &c.TenantID, &c.Title, &c.Description, &c.CreatedAt, pq.Array(&c.ImageKeys))
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		items = append(items, &c)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return items, nil
}
