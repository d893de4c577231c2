package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/craftline/postpilot/internal/models"
	"github.com/craftline/postpilot/internal/repository"
	"github.com/craftline/postpilot/internal/service"
)

// refreshLookahead is how far ahead of expiry the job starts refreshing.
// Wider than the vault's on-demand margin so the cron usually wins.
const refreshLookahead = 30 * time.Minute

// TokenRefreshJob proactively refreshes connections whose tokens are about to
// expire, so publish sweeps rarely pay the refresh latency themselves.
type TokenRefreshJob struct {
	sc     repository.SocialConnectionRepository
	tokens service.TokenService
}

func NewTokenRefreshJob(sc repository.SocialConnectionRepository, tokens service.TokenService) *TokenRefreshJob {
	return &TokenRefreshJob{sc: sc, tokens: tokens}
}

func (j *TokenRefreshJob) RefreshTokens() {
	ctx := context.Background()

	connections, err := j.sc.ListExpiring(ctx, time.Now().Add(refreshLookahead))
	if err != nil {
		slog.Info(err.Error())
		return
	}

	var wg sync.WaitGroup

	concurrencyLimit := 10
	semaphore := make(chan struct{}, concurrencyLimit)

	for _, conn := range connections {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(conn *models.SocialConnection) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := j.tokens.RefreshConnection(ctx, conn); err != nil {
				slog.Info("unable to refresh tokens",
					"tenant_id", conn.TenantID,
					"platform", conn.Platform,
					"error", err.Error())
			}
		}(conn)
	}

	wg.Wait()
}
