package service

import (
	"context"
	"time"

	"github.com/craftline/postpilot/internal/models"
	"github.com/craftline/postpilot/internal/repository"
)

// SelectorService picks which content item fills the next queue slot.
type SelectorService interface {
	SelectNext(ctx context.Context, tenantID int64, excludeWindow time.Duration) (*models.ContentItem, error)
}

type selectorService struct {
	c repository.ContentRepository
	q repository.QueueEntryRepository
}

func NewSelectorService(c repository.ContentRepository, q repository.QueueEntryRepository) SelectorService {
	return &selectorService{c: c, q: q}
}

// SelectNext rotates through the tenant's library: no item is reselected until
// every other eligible item has been used at least as often. Within a rotation,
// items used inside the exclusion window are passed over when an alternative
// exists. Returns (nil, nil) when the tenant has no eligible content.
func (s *selectorService) SelectNext(ctx context.Context, tenantID int64, excludeWindow time.Duration) (*models.ContentItem, error) {
	items, err := s.c.ListEligible(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	usage, err := s.q.ContentUsageByTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-excludeWindow)

	pool := items
	if fresh := outsideWindow(items, usage, cutoff); len(fresh) > 0 {
		pool = fresh
	}

	best := pool[0]
	bestUse := usage[best.ID]
	for _, item := range pool[1:] {
		u := usage[item.ID]
		if u.Count < bestUse.Count || (u.Count == bestUse.Count && u.LastUsed.Before(bestUse.LastUsed)) {
			best = item
			bestUse = u
		}
	}

	return best, nil
}

func outsideWindow(items []*models.ContentItem, usage map[int64]repository.ContentUsage, cutoff time.Time) []*models.ContentItem {
	var fresh []*models.ContentItem
	for _, item := range items {
		if usage[item.ID].LastUsed.Before(cutoff) {
			fresh = append(fresh, item)
		}
	}
	return fresh
}
