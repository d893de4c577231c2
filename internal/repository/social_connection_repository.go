package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/craftline/postpilot/internal/models"
)

type SocialConnectionRepository interface {
	Get(ctx context.Context, tenantID int64, platform string) (*models.SocialConnection, error)
	ListByTenant(ctx context.Context, tenantID int64) ([]*models.SocialConnection, error)
	ListExpiring(ctx context.Context, before time.Time) ([]*models.SocialConnection, error)
	CountConnected(ctx context.Context, tenantID int64) (int, error)
	Upsert(ctx context.Context, sc *models.SocialConnection) (int64, error)
	UpdateTokens(ctx context.Context, tenantID int64, platform, oldAccessToken string, sc *models.SocialConnection) error
	Disconnect(ctx context.Context, tenantID int64, platform string) error
}

type socialConnectionRepository struct {
	db *sql.DB
}

func NewSocialConnectionRepository(db *sql.DB) SocialConnectionRepository {
	return &socialConnectionRepository{db: db}
}

const connectionColumns = `id, tenant_id, platform, account_id, account_name, access_token, refresh_token, token_expires_at, is_connected, created_at, updated_at`

func scanConnection(row interface{ Scan(...any) error }) (*models.SocialConnection, error) {
	var sc models.SocialConnection
	err := row.Scan(&sc.ID, &sc.TenantID, &sc.Platform, &sc.AccountID, &sc.AccountName,
		&sc.AccessToken, &sc.RefreshToken, &sc.TokenExpiresAt, &sc.IsConnected,
		&sc.CreatedAt, &sc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

func (r *socialConnectionRepository) Get(ctx context.Context, tenantID int64, platform string) (*models.SocialConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM social_connections WHERE tenant_id = $1 AND platform = $2`
	sc, err := scanConnection(r.db.QueryRowContext(ctx, query, tenantID, platform))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return sc, nil
}

func (r *socialConnectionRepository) ListByTenant(ctx context.Context, tenantID int64) ([]*models.SocialConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM social_connections WHERE tenant_id = $1 ORDER BY platform`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var connections []*models.SocialConnection
	for rows.Next() {
		sc, err := scanConnection(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		connections = append(connections, sc)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return connections, nil
}

func (r *socialConnectionRepository) ListExpiring(ctx context.Context, before time.Time) ([]*models.SocialConnection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM social_connections
		WHERE is_connected = TRUE AND refresh_token != '' AND token_expires_at < $1
	`
	rows, err := r.db.QueryContext(ctx, query, before)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var connections []*models.SocialConnection
	for rows.Next() {
		sc, err := scanConnection(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		connections = append(connections, sc)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return connections, nil
}

func (r *socialConnectionRepository) CountConnected(ctx context.Context, tenantID int64) (int, error) {
	query := `SELECT COUNT(*) FROM social_connections WHERE tenant_id = $1 AND is_connected = TRUE`
	var count int
	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(&count)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return count, nil
}

// Upsert keeps at most one connection per (tenant, platform); reconnecting a
// platform replaces the stored tokens in place.
func (r *socialConnectionRepository) Upsert(ctx context.Context, sc *models.SocialConnection) (int64, error) {
	query := `
		INSERT INTO social_connections (tenant_id, platform, account_id, account_name, access_token, refresh_token, token_expires_at, is_connected)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		ON CONFLICT (tenant_id, platform) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			account_name = EXCLUDED.account_name,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			is_connected = TRUE,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`
	var id int64
	err := r.db.QueryRowContext(ctx, query,
		sc.TenantID, sc.Platform, sc.AccountID, sc.AccountName,
		sc.AccessToken, sc.RefreshToken, sc.TokenExpiresAt).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return id, nil
}

// UpdateTokens swaps in refreshed tokens, guarded by the previous access
// token. When two refreshes race, the loser matches zero rows and the winner's
// tokens stay intact.
func (r *socialConnectionRepository) UpdateTokens(ctx context.Context, tenantID int64, platform, oldAccessToken string, sc *models.SocialConnection) error {
	query := `
		UPDATE social_connections
		SET
			access_token = COALESCE(NULLIF($4, ''), access_token),
			refresh_token = COALESCE(NULLIF($5, ''), refresh_token),
			token_expires_at = COALESCE($6, token_expires_at),
			updated_at = CURRENT_TIMESTAMP
		WHERE tenant_id = $1 AND platform = $2 AND access_token = $3
	`
	result, err := r.db.ExecContext(ctx, query, tenantID, platform, oldAccessToken,
		sc.AccessToken, sc.RefreshToken, sc.TokenExpiresAt)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	if affected != 1 {
		slog.Info("no rows affected; tokens already rotated by a concurrent refresh")
		return errors.New("no rows affected; tokens already rotated by a concurrent refresh")
	}
	return nil
}

func (r *socialConnectionRepository) Disconnect(ctx context.Context, tenantID int64, platform string) error {
	query := `
		UPDATE social_connections
		SET access_token = '', refresh_token = '', is_connected = FALSE, updated_at = CURRENT_TIMESTAMP
		WHERE tenant_id = $1 AND platform = $2
	`
	_, err := r.db.ExecContext(ctx, query, tenantID, platform)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
