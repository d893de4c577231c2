package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	config "github.com/craftline/postpilot/configs"
	"github.com/craftline/postpilot/internal/models"
	"github.com/craftline/postpilot/internal/platform"
	"github.com/craftline/postpilot/internal/repository"
	"github.com/craftline/postpilot/pkg/utils"
)

const stateTokenTTL = 15 * time.Minute

// TokenService is the vault for per-tenant platform credentials: it hands out
// valid access tokens, refreshing them when they are about to expire, and owns
// the connect/disconnect lifecycle including the posting cascade-disable.
type TokenService interface {
	GetValidToken(ctx context.Context, tenantID int64, platformName string) (string, error)
	AuthURL(tenantID int64, platformName string) (string, error)
	Connect(ctx context.Context, tenantID int64, platformName, code string) error
	Disconnect(ctx context.Context, tenantID int64, platformName string) error
	RefreshConnection(ctx context.Context, sc *models.SocialConnection) error
}

type tokenService struct {
	cfg       config.Config
	sc        repository.SocialConnectionRepository
	t         repository.TenantRepository
	platforms platform.Registry

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewTokenService(
	cfg config.Config,
	sc repository.SocialConnectionRepository,
	t repository.TenantRepository,
	platforms platform.Registry) TokenService {
	return &tokenService{
		cfg:       cfg,
		sc:        sc,
		t:         t,
		platforms: platforms,
		locks:     make(map[string]*sync.Mutex),
	}
}

// connLock serializes refreshes per (tenant, platform) so two concurrent
// callers cannot invalidate each other's new token.
func (s *tokenService) connLock(tenantID int64, platformName string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := fmt.Sprintf("%d/%s", tenantID, platformName)
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

func (s *tokenService) GetValidToken(ctx context.Context, tenantID int64, platformName string) (string, error) {
	sc, err := s.sc.Get(ctx, tenantID, platformName)
	if err != nil {
		return "", err
	}
	if sc == nil || !sc.IsConnected {
		return "", &CredentialError{TenantID: tenantID, Platform: platformName, Err: errors.New("platform not connected")}
	}

	if time.Until(sc.TokenExpiresAt) > s.cfg.TokenRefreshMargin {
		return utils.Decrypt(sc.AccessToken, []byte(s.cfg.SecretKey))
	}

	lock := s.connLock(tenantID, platformName)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; a concurrent caller may have refreshed already.
	sc, err = s.sc.Get(ctx, tenantID, platformName)
	if err != nil {
		return "", err
	}
	if sc == nil || !sc.IsConnected {
		return "", &CredentialError{TenantID: tenantID, Platform: platformName, Err: errors.New("platform disconnected during refresh")}
	}
	if time.Until(sc.TokenExpiresAt) > s.cfg.TokenRefreshMargin {
		return utils.Decrypt(sc.AccessToken, []byte(s.cfg.SecretKey))
	}

	if sc.RefreshToken == "" {
		if err := s.markDisconnected(ctx, tenantID, platformName); err != nil {
			return "", err
		}
		return "", &CredentialError{TenantID: tenantID, Platform: platformName, Err: errors.New("token expired with no refresh token")}
	}

	if err := s.refreshLocked(ctx, sc); err != nil {
		return "", err
	}

	sc, err = s.sc.Get(ctx, tenantID, platformName)
	if err != nil {
		return "", err
	}
	return utils.Decrypt(sc.AccessToken, []byte(s.cfg.SecretKey))
}

// refreshLocked performs the platform refresh flow and persists the rotated
// tokens. Callers must hold the connection lock.
func (s *tokenService) refreshLocked(ctx context.Context, sc *models.SocialConnection) error {
	provider, ok := s.platforms[sc.Platform]
	if !ok {
		return fmt.Errorf("unknown platform %q", sc.Platform)
	}

	refreshToken, err := utils.Decrypt(sc.RefreshToken, []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}

	creds, err := provider.Refresh(ctx, refreshToken)
	if err != nil {
		if platform.IsTransient(err) {
			// Endpoint hiccup, not a dead credential. The token may still
			// work; let the caller retry on the next run.
			return fmt.Errorf("token refresh for tenant %d on %s: %w", sc.TenantID, sc.Platform, err)
		}
		slog.Info("token refresh rejected, disconnecting", "tenant_id", sc.TenantID, "platform", sc.Platform)
		if err := s.markDisconnected(ctx, sc.TenantID, sc.Platform); err != nil {
			return err
		}
		return &CredentialError{TenantID: sc.TenantID, Platform: sc.Platform, Err: err}
	}

	encryptedAccess, err := utils.Encrypt([]byte(creds.AccessToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}
	encryptedRefresh := ""
	if creds.RefreshToken != "" {
		encryptedRefresh, err = utils.Encrypt([]byte(creds.RefreshToken), []byte(s.cfg.SecretKey))
		if err != nil {
			return err
		}
	}

	updated := &models.SocialConnection{
		AccessToken:    encryptedAccess,
		RefreshToken:   encryptedRefresh,
		TokenExpiresAt: creds.ExpiresAt,
	}
	if err := s.sc.UpdateTokens(ctx, sc.TenantID, sc.Platform, sc.AccessToken, updated); err != nil {
		// A concurrent refresh won the guarded update; its tokens are valid.
		slog.Info(err.Error())
	}
	return nil
}

func (s *tokenService) AuthURL(tenantID int64, platformName string) (string, error) {
	provider, ok := s.platforms[platformName]
	if !ok {
		return "", fmt.Errorf("unknown platform %q", platformName)
	}

	state, err := utils.GenerateStateToken(s.cfg.SecretKey, tenantID, platformName, stateTokenTTL)
	if err != nil {
		return "", err
	}
	return provider.AuthURL(state), nil
}

// Connect exchanges an authorization code and upserts the connection. A
// reconnect deliberately does not re-enable posting; that stays an explicit
// tenant opt-in.
func (s *tokenService) Connect(ctx context.Context, tenantID int64, platformName, code string) error {
	provider, ok := s.platforms[platformName]
	if !ok {
		return fmt.Errorf("unknown platform %q", platformName)
	}
	if code == "" {
		return errors.New("authorization code is empty")
	}

	creds, err := provider.Exchange(ctx, code)
	if err != nil {
		return err
	}

	encryptedAccess, err := utils.Encrypt([]byte(creds.AccessToken), []byte(s.cfg.SecretKey))
	if err != nil {
		return err
	}
	encryptedRefresh := ""
	if creds.RefreshToken != "" {
		encryptedRefresh, err = utils.Encrypt([]byte(creds.RefreshToken), []byte(s.cfg.SecretKey))
		if err != nil {
			return err
		}
	}

	_, err = s.sc.Upsert(ctx, &models.SocialConnection{
		TenantID:       tenantID,
		Platform:       platformName,
		AccountID:      creds.AccountID,
		AccountName:    creds.AccountName,
		AccessToken:    encryptedAccess,
		RefreshToken:   encryptedRefresh,
		TokenExpiresAt: creds.ExpiresAt,
	})
	return err
}

func (s *tokenService) Disconnect(ctx context.Context, tenantID int64, platformName string) error {
	return s.markDisconnected(ctx, tenantID, platformName)
}

// RefreshConnection is the proactive path used by the refresh job. Failures
// follow the same rules as on-demand refresh.
func (s *tokenService) RefreshConnection(ctx context.Context, sc *models.SocialConnection) error {
	lock := s.connLock(sc.TenantID, sc.Platform)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.sc.Get(ctx, sc.TenantID, sc.Platform)
	if err != nil {
		return err
	}
	if current == nil || !current.IsConnected || current.RefreshToken == "" {
		return nil
	}
	return s.refreshLocked(ctx, current)
}

// markDisconnected clears the connection and runs the cascade check: a tenant
// with zero connected platforms must not keep posting enabled. Invoked at
// every mutation point of SocialConnection so the invariant stays auditable.
func (s *tokenService) markDisconnected(ctx context.Context, tenantID int64, platformName string) error {
	if err := s.sc.Disconnect(ctx, tenantID, platformName); err != nil {
		return err
	}

	connected, err := s.sc.CountConnected(ctx, tenantID)
	if err != nil {
		return err
	}
	if connected == 0 {
		slog.Info("last platform disconnected, disabling posting", "tenant_id", tenantID)
		if err := s.t.SetPostingEnabled(ctx, tenantID, false); err != nil {
			return err
		}
	}
	return nil
}
