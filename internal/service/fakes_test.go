package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	config "github.com/craftline/postpilot/configs"
	"github.com/craftline/postpilot/internal/models"
	"github.com/craftline/postpilot/internal/platform"
	"github.com/craftline/postpilot/internal/repository"
)

func testConfig() config.Config {
	return config.Config{
		SecretKey:           "0123456789abcdef0123456789abcdef",
		WeeklyCadence:       5,
		HorizonDays:         7,
		MaxPublishAttempts:  3,
		PostingHour:         10,
		ExcludeWindowDays:   14,
		PublishConcurrency:  4,
		TokenRefreshMargin:  5 * time.Minute,
		StaleClaimAfter:     15 * time.Minute,
		PlatformCallTimeout: 5 * time.Second,
		CallToAction:        "Get in touch today!",
	}
}

type fakeTenantRepo struct {
	mu      sync.Mutex
	tenants map[int64]*models.Tenant
}

func newFakeTenantRepo(tenants ...*models.Tenant) *fakeTenantRepo {
	r := &fakeTenantRepo{tenants: make(map[int64]*models.Tenant)}
	for _, t := range tenants {
		r.tenants[t.ID] = t
	}
	return r
}

func (r *fakeTenantRepo) GetByID(_ context.Context, id int64) (*models.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	if !ok {
		return nil, nil
	}
	copied := *t
	return &copied, nil
}

func (r *fakeTenantRepo) ListEligible(_ context.Context) ([]*models.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Tenant
	for _, t := range r.tenants {
		if t.PostingEnabled && t.Active && t.Published {
			copied := *t
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeTenantRepo) SetPostingEnabled(_ context.Context, tenantID int64, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tenants[tenantID]; ok {
		t.PostingEnabled = enabled
	}
	return nil
}

func (r *fakeTenantRepo) postingEnabled(tenantID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[tenantID]
	return ok && t.PostingEnabled
}

type fakeConnectionRepo struct {
	mu    sync.Mutex
	conns map[string]*models.SocialConnection
}

func connKey(tenantID int64, platformName string) string {
	return fmt.Sprintf("%d/%s", tenantID, platformName)
}

func newFakeConnectionRepo(conns ...*models.SocialConnection) *fakeConnectionRepo {
	r := &fakeConnectionRepo{conns: make(map[string]*models.SocialConnection)}
	for _, c := range conns {
		r.conns[connKey(c.TenantID, c.Platform)] = c
	}
	return r
}

func (r *fakeConnectionRepo) Get(_ context.Context, tenantID int64, platformName string) (*models.SocialConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connKey(tenantID, platformName)]
	if !ok {
		return nil, nil
	}
	copied := *c
	return &copied, nil
}

func (r *fakeConnectionRepo) ListByTenant(_ context.Context, tenantID int64) ([]*models.SocialConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SocialConnection
	for _, c := range r.conns {
		if c.TenantID == tenantID {
			copied := *c
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}

func (r *fakeConnectionRepo) ListExpiring(_ context.Context, before time.Time) ([]*models.SocialConnection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SocialConnection
	for _, c := range r.conns {
		if c.IsConnected && c.RefreshToken != "" && c.TokenExpiresAt.Before(before) {
			copied := *c
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *fakeConnectionRepo) CountConnected(_ context.Context, tenantID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, c := range r.conns {
		if c.TenantID == tenantID && c.IsConnected {
			count++
		}
	}
	return count, nil
}

func (r *fakeConnectionRepo) Upsert(_ context.Context, sc *models.SocialConnection) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := connKey(sc.TenantID, sc.Platform)
	copied := *sc
	copied.IsConnected = true
	if existing, ok := r.conns[key]; ok {
		copied.ID = existing.ID
	} else {
		copied.ID = int64(len(r.conns) + 1)
	}
	r.conns[key] = &copied
	return copied.ID, nil
}

func (r *fakeConnectionRepo) UpdateTokens(_ context.Context, tenantID int64, platformName, oldAccessToken string, sc *models.SocialConnection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connKey(tenantID, platformName)]
	if !ok || c.AccessToken != oldAccessToken {
		return fmt.Errorf("no rows affected")
	}
	if sc.AccessToken != "" {
		c.AccessToken = sc.AccessToken
	}
	if sc.RefreshToken != "" {
		c.RefreshToken = sc.RefreshToken
	}
	if !sc.TokenExpiresAt.IsZero() {
		c.TokenExpiresAt = sc.TokenExpiresAt
	}
	return nil
}

func (r *fakeConnectionRepo) Disconnect(_ context.Context, tenantID int64, platformName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[connKey(tenantID, platformName)]; ok {
		c.AccessToken = ""
		c.RefreshToken = ""
		c.IsConnected = false
	}
	return nil
}

func (r *fakeConnectionRepo) isConnected(tenantID int64, platformName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[connKey(tenantID, platformName)]
	return ok && c.IsConnected
}

type fakeContentRepo struct {
	mu    sync.Mutex
	items []*models.ContentItem
}

func newFakeContentRepo(items ...*models.ContentItem) *fakeContentRepo {
	return &fakeContentRepo{items: items}
}

func (r *fakeContentRepo) GetByID(_ context.Context, id int64) (*models.ContentItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range r.items {
		if item.ID == id {
			copied := *item
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeContentRepo) ListEligible(_ context.Context, tenantID int64) ([]*models.ContentItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ContentItem
	for _, item := range r.items {
		if item.TenantID == tenantID && len(item.ImageKeys) > 0 {
			copied := *item
			out = append(out, &copied)
		}
	}
	return out, nil
}

type fakeQueueRepo struct {
	mu      sync.Mutex
	entries map[int64]*models.QueueEntry
	nextID  int64
}

func newFakeQueueRepo() *fakeQueueRepo {
	return &fakeQueueRepo{entries: make(map[int64]*models.QueueEntry)}
}

func (r *fakeQueueRepo) add(e *models.QueueEntry) *models.QueueEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	e.ID = r.nextID
	if e.Status == "" {
		e.Status = models.EntryStatusPending
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}
	r.entries[e.ID] = e
	return e
}

func (r *fakeQueueRepo) get(id int64) models.QueueEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.entries[id]
}

func (r *fakeQueueRepo) Create(_ context.Context, e *models.QueueEntry) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.entries {
		if existing.TenantID == e.TenantID && existing.Platform == e.Platform && existing.ScheduledFor.Equal(e.ScheduledFor) {
			return 0, repository.ErrDuplicateSlot
		}
	}
	r.nextID++
	copied := *e
	copied.ID = r.nextID
	copied.Status = models.EntryStatusPending
	copied.CreatedAt = time.Now()
	copied.UpdatedAt = time.Now()
	r.entries[copied.ID] = &copied
	return copied.ID, nil
}

func (r *fakeQueueRepo) GetByID(_ context.Context, id int64) (*models.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, nil
	}
	copied := *e
	return &copied, nil
}

func (r *fakeQueueRepo) CountInWindow(_ context.Context, tenantID int64, from, to time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, e := range r.entries {
		if e.TenantID == tenantID && countableStatus(e.Status) &&
			!e.ScheduledFor.Before(from) && e.ScheduledFor.Before(to) {
			count++
		}
	}
	return count, nil
}

func countableStatus(status string) bool {
	return status == models.EntryStatusPending ||
		status == models.EntryStatusProcessing ||
		status == models.EntryStatusPosted
}

func (r *fakeQueueRepo) ListScheduledTimes(_ context.Context, tenantID int64, from, to time.Time) ([]time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var times []time.Time
	for _, e := range r.entries {
		if e.TenantID == tenantID && countableStatus(e.Status) &&
			!e.ScheduledFor.Before(from) && e.ScheduledFor.Before(to) {
			times = append(times, e.ScheduledFor)
		}
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	return times, nil
}

func (r *fakeQueueRepo) ListDue(_ context.Context, now time.Time, limit int) ([]*models.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*models.QueueEntry
	for _, e := range r.entries {
		if e.Status == models.EntryStatusPending && !e.ScheduledFor.After(now) {
			copied := *e
			due = append(due, &copied)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledFor.Before(due[j].ScheduledFor) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *fakeQueueRepo) Claim(_ context.Context, id int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || e.Status != models.EntryStatusPending {
		return false, nil
	}
	e.Status = models.EntryStatusProcessing
	e.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakeQueueRepo) MarkPosted(_ context.Context, id int64, externalPostID string, postedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[id]
	e.Status = models.EntryStatusPosted
	e.ExternalPostID.String = externalPostID
	e.ExternalPostID.Valid = true
	e.PostedAt.Time = postedAt
	e.PostedAt.Valid = true
	e.UpdatedAt = time.Now()
	return nil
}

func (r *fakeQueueRepo) MarkSkipped(_ context.Context, id int64, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[id]
	e.Status = models.EntryStatusSkipped
	e.LastError.String = reason
	e.LastError.Valid = true
	e.UpdatedAt = time.Now()
	return nil
}

func (r *fakeQueueRepo) RecordFailure(_ context.Context, id int64, message string, terminal bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[id]
	e.AttemptCount++
	e.LastError.String = message
	e.LastError.Valid = true
	if terminal {
		e.Status = models.EntryStatusFailed
	} else {
		e.Status = models.EntryStatusPending
	}
	e.UpdatedAt = time.Now()
	return nil
}

func (r *fakeQueueRepo) ReleaseStale(_ context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var released int64
	for _, e := range r.entries {
		if e.Status == models.EntryStatusProcessing && e.UpdatedAt.Before(olderThan) {
			e.Status = models.EntryStatusPending
			e.UpdatedAt = time.Now()
			released++
		}
	}
	return released, nil
}

func (r *fakeQueueRepo) SwapScheduledFor(_ context.Context, idA, idB int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, okA := r.entries[idA]
	b, okB := r.entries[idB]
	if !okA || !okB || a.Status != models.EntryStatusPending || b.Status != models.EntryStatusPending {
		return repository.ErrSwapConflict
	}
	a.ScheduledFor, b.ScheduledFor = b.ScheduledFor, a.ScheduledFor
	return nil
}

func (r *fakeQueueRepo) ListByTenant(_ context.Context, tenantID int64, status string, limit int) ([]*models.QueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.QueueEntry
	for _, e := range r.entries {
		if e.TenantID == tenantID && (status == "" || e.Status == status) {
			copied := *e
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeQueueRepo) ContentUsageByTenant(_ context.Context, tenantID int64) (map[int64]repository.ContentUsage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	usage := make(map[int64]repository.ContentUsage)
	for _, e := range r.entries {
		if e.TenantID != tenantID || e.Status == models.EntryStatusSkipped {
			continue
		}
		u := usage[e.ContentID]
		u.Count++
		if e.ScheduledFor.After(u.LastUsed) {
			u.LastUsed = e.ScheduledFor
		}
		usage[e.ContentID] = u
	}
	return usage, nil
}

// fakeAdapter implements platform.Platform with scriptable publish results.
type fakeAdapter struct {
	mu           sync.Mutex
	name         string
	calls        int
	results      []error
	returnID     string
	refresh      *platform.Credentials
	refreshErr   error
	refreshCalls int
}

func newFakeAdapter(name string) *fakeAdapter {
	return &fakeAdapter{name: name, returnID: "ext-1"}
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Publish(_ context.Context, _, _ string, _ platform.PostContent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.calls
	f.calls++
	if call < len(f.results) && f.results[call] != nil {
		return "", f.results[call]
	}
	return f.returnID, nil
}

func (f *fakeAdapter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAdapter) AuthURL(state string) string {
	return "https://auth.example/" + f.name + "?state=" + state
}

func (f *fakeAdapter) Exchange(_ context.Context, code string) (*platform.Credentials, error) {
	return &platform.Credentials{
		AccessToken:  "access-" + code,
		RefreshToken: "refresh-" + code,
		ExpiresAt:    time.Now().Add(time.Hour),
		AccountID:    "acct-1",
		AccountName:  "Test Account",
	}, nil
}

func (f *fakeAdapter) Refresh(_ context.Context, _ string) (*platform.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	if f.refresh != nil {
		return f.refresh, nil
	}
	return &platform.Credentials{
		AccessToken:  "refreshed-access",
		RefreshToken: "refreshed-refresh",
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

type fakeMedia struct{}

func (fakeMedia) ResolveURL(_ context.Context, key string) (string, error) {
	return "https://cdn.test/" + key, nil
}

// fakeTokens stands in for the vault in publisher tests; Disconnect mirrors
// the real cascade so disable behavior can be asserted.
type fakeTokens struct {
	mu      sync.Mutex
	errs    map[string]error
	conns   *fakeConnectionRepo
	tenants *fakeTenantRepo
}

func newFakeTokens(conns *fakeConnectionRepo, tenants *fakeTenantRepo) *fakeTokens {
	return &fakeTokens{errs: make(map[string]error), conns: conns, tenants: tenants}
}

func (f *fakeTokens) GetValidToken(_ context.Context, tenantID int64, platformName string) (string, error) {
	f.mu.Lock()
	err := f.errs[connKey(tenantID, platformName)]
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return "valid-token", nil
}

func (f *fakeTokens) AuthURL(int64, string) (string, error) { return "", nil }

func (f *fakeTokens) Connect(context.Context, int64, string, string) error { return nil }

func (f *fakeTokens) Disconnect(ctx context.Context, tenantID int64, platformName string) error {
	if err := f.conns.Disconnect(ctx, tenantID, platformName); err != nil {
		return err
	}
	connected, err := f.conns.CountConnected(ctx, tenantID)
	if err != nil {
		return err
	}
	if connected == 0 {
		return f.tenants.SetPostingEnabled(ctx, tenantID, false)
	}
	return nil
}

func (f *fakeTokens) RefreshConnection(context.Context, *models.SocialConnection) error { return nil }
