package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	config "github.com/craftline/postpilot/configs"
	"github.com/craftline/postpilot/internal/models"
	"github.com/craftline/postpilot/internal/platform"
	"github.com/craftline/postpilot/internal/repository"
)

// dueBatchLimit caps one sweep; anything beyond it is picked up by the next
// trigger a few minutes later.
const dueBatchLimit = 500

type PublishSummary struct {
	Attempted int `json:"attempted"`
	Posted    int `json:"posted"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// PublisherService executes due queue entries. Designed for an external timer
// with at-least-once delivery: any number of overlapping sweeps may run, the
// per-entry claim keeps each entry with exactly one of them.
type PublisherService interface {
	ProcessDuePosts(ctx context.Context) (*PublishSummary, error)
}

type publisherService struct {
	cfg       config.Config
	q         repository.QueueEntryRepository
	t         repository.TenantRepository
	sc        repository.SocialConnectionRepository
	c         repository.ContentRepository
	tokens    TokenService
	media     MediaService
	platforms platform.Registry
}

func NewPublisherService(
	cfg config.Config,
	q repository.QueueEntryRepository,
	t repository.TenantRepository,
	sc repository.SocialConnectionRepository,
	c repository.ContentRepository,
	tokens TokenService,
	media MediaService,
	platforms platform.Registry) PublisherService {
	return &publisherService{
		cfg:       cfg,
		q:         q,
		t:         t,
		sc:        sc,
		c:         c,
		tokens:    tokens,
		media:     media,
		platforms: platforms,
	}
}

// runState is the per-sweep scratchpad: the summary counters plus the set of
// (tenant, platform) connections known dead since the run started, so later
// entries for them are skipped instead of hammering a dead connection.
type runState struct {
	mu      sync.Mutex
	summary PublishSummary
	dead    map[string]bool
}

func (rs *runState) markDead(key string) {
	rs.mu.Lock()
	rs.dead[key] = true
	rs.mu.Unlock()
}

func (rs *runState) isDead(key string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.dead[key]
}

func (rs *runState) count(f func(*PublishSummary)) {
	rs.mu.Lock()
	f(&rs.summary)
	rs.mu.Unlock()
}

func (p *publisherService) ProcessDuePosts(ctx context.Context) (*PublishSummary, error) {
	runID, _ := gonanoid.New(8)
	log := slog.With("run_id", runID)

	now := time.Now()

	// Re-admit entries a crashed run left stuck in processing.
	released, err := p.q.ReleaseStale(ctx, now.Add(-p.cfg.StaleClaimAfter))
	if err != nil {
		return nil, err
	}
	if released > 0 {
		log.Info("released stale claims", "count", released)
	}

	due, err := p.q.ListDue(ctx, now, dueBatchLimit)
	if err != nil {
		return nil, err
	}

	state := &runState{dead: make(map[string]bool)}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, p.cfg.PublishConcurrency)

	for _, entry := range due {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(entry *models.QueueEntry) {
			defer wg.Done()
			defer func() { <-semaphore }()
			p.processEntry(ctx, log, state, entry)
		}(entry)
	}
	wg.Wait()

	summary := state.summary
	log.Info("publish sweep finished",
		"attempted", summary.Attempted,
		"posted", summary.Posted,
		"failed", summary.Failed,
		"skipped", summary.Skipped)
	return &summary, nil
}

// processEntry runs one entry's pipeline: claim, precondition checks, content
// and token resolution, platform publish, finalize. One entry's failure never
// touches the rest of the run.
func (p *publisherService) processEntry(ctx context.Context, log *slog.Logger, state *runState, entry *models.QueueEntry) {
	claimed, err := p.q.Claim(ctx, entry.ID)
	if err != nil {
		log.Error("claim failed", "entry_id", entry.ID, "error", err)
		return
	}
	if !claimed {
		// Another sweep owns this entry.
		return
	}
	state.count(func(s *PublishSummary) { s.Attempted++ })

	connKey := fmt.Sprintf("%d/%s", entry.TenantID, entry.Platform)
	if state.isDead(connKey) {
		p.skip(ctx, state, entry, "connection lost earlier in this run")
		return
	}

	tenant, err := p.t.GetByID(ctx, entry.TenantID)
	if err != nil {
		p.recordFailure(ctx, state, entry, err.Error())
		return
	}
	if tenant == nil || !tenant.PostingEnabled {
		p.skip(ctx, state, entry, "posting disabled for tenant")
		return
	}

	conn, err := p.sc.Get(ctx, entry.TenantID, entry.Platform)
	if err != nil {
		p.recordFailure(ctx, state, entry, err.Error())
		return
	}
	if conn == nil || !conn.IsConnected {
		p.skip(ctx, state, entry, "platform not connected")
		return
	}

	content, err := p.c.GetByID(ctx, entry.ContentID)
	if err != nil {
		p.recordFailure(ctx, state, entry, err.Error())
		return
	}
	if content == nil || len(content.ImageKeys) == 0 {
		p.skip(ctx, state, entry, "content no longer available")
		return
	}

	imageURLs := make([]string, 0, len(content.ImageKeys))
	for _, key := range content.ImageKeys {
		resolved, err := p.media.ResolveURL(ctx, key)
		if err != nil {
			p.recordFailure(ctx, state, entry, fmt.Sprintf("resolve image %s: %v", key, err))
			return
		}
		imageURLs = append(imageURLs, resolved)
	}

	token, err := p.tokens.GetValidToken(ctx, entry.TenantID, entry.Platform)
	if err != nil {
		if IsCredentialError(err) {
			// The vault already disconnected and cascade-checked; nothing in
			// this run should retry the connection.
			state.markDead(connKey)
			p.terminalFailure(ctx, state, entry, err.Error())
			return
		}
		p.recordFailure(ctx, state, entry, err.Error())
		return
	}

	adapter, ok := p.platforms[entry.Platform]
	if !ok {
		p.terminalFailure(ctx, state, entry, fmt.Sprintf("unknown platform %q", entry.Platform))
		return
	}

	post := platform.PostContent{
		Caption:   platform.BuildCaption(content.Title, content.Description, p.cfg.CallToAction),
		ImageURLs: imageURLs,
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.PlatformCallTimeout)
	defer cancel()

	externalID, err := adapter.Publish(callCtx, token, conn.AccountID, post)
	if err == nil {
		if err := p.q.MarkPosted(ctx, entry.ID, externalID, time.Now()); err != nil {
			log.Error("mark posted failed", "entry_id", entry.ID, "error", err)
			return
		}
		state.count(func(s *PublishSummary) { s.Posted++ })
		log.Info("published", "entry_id", entry.ID, "platform", entry.Platform, "external_id", externalID)
		return
	}

	switch {
	case platform.IsAuth(err):
		// Dead credential: disable the connection now rather than fail every
		// remaining entry for it.
		if derr := p.tokens.Disconnect(ctx, entry.TenantID, entry.Platform); derr != nil {
			log.Error("disconnect after auth failure", "entry_id", entry.ID, "error", derr)
		}
		state.markDead(connKey)
		p.terminalFailure(ctx, state, entry, err.Error())
	case platform.IsRejected(err):
		p.terminalFailure(ctx, state, entry, err.Error())
	default:
		p.recordFailure(ctx, state, entry, err.Error())
	}
}

func (p *publisherService) skip(ctx context.Context, state *runState, entry *models.QueueEntry, reason string) {
	if err := p.q.MarkSkipped(ctx, entry.ID, reason); err != nil {
		slog.Info(err.Error())
		return
	}
	state.count(func(s *PublishSummary) { s.Skipped++ })
}

// recordFailure handles the retryable path: below the ceiling the entry goes
// back to pending with scheduled_for untouched, at the ceiling it is terminal.
func (p *publisherService) recordFailure(ctx context.Context, state *runState, entry *models.QueueEntry, message string) {
	terminal := entry.AttemptCount+1 >= p.cfg.MaxPublishAttempts
	if err := p.q.RecordFailure(ctx, entry.ID, message, terminal); err != nil {
		slog.Info(err.Error())
		return
	}
	state.count(func(s *PublishSummary) { s.Failed++ })
}

func (p *publisherService) terminalFailure(ctx context.Context, state *runState, entry *models.QueueEntry, message string) {
	if err := p.q.RecordFailure(ctx, entry.ID, message, true); err != nil {
		slog.Info(err.Error())
		return
	}
	state.count(func(s *PublishSummary) { s.Failed++ })
}
