package service

import (
	"context"
	"log/slog"
	"sort"
	"time"

	config "github.com/craftline/postpilot/configs"
	"github.com/craftline/postpilot/internal/models"
	"github.com/craftline/postpilot/internal/repository"
)

// slotRounds bounds how many times one day can be reused when the deficit
// exceeds the number of free days in the horizon.
const slotRounds = 3

// FillerService tops up a tenant's rolling queue to the weekly cadence.
type FillerService interface {
	FillQueue(ctx context.Context, tenantID int64, horizonDays int) (int, error)
}

type fillerService struct {
	cfg      config.Config
	t        repository.TenantRepository
	sc       repository.SocialConnectionRepository
	q        repository.QueueEntryRepository
	selector SelectorService
}

func NewFillerService(
	cfg config.Config,
	t repository.TenantRepository,
	sc repository.SocialConnectionRepository,
	q repository.QueueEntryRepository,
	selector SelectorService) FillerService {
	return &fillerService{
		cfg:      cfg,
		t:        t,
		sc:       sc,
		q:        q,
		selector: selector,
	}
}

// FillQueue computes the deficit against the cadence target and creates one
// pending entry per missing slot, rotating slots across the tenant's connected
// platforms. Safe to call repeatedly: the deficit is re-read from current
// queue state and same-slot races collapse into the unique constraint.
func (s *fillerService) FillQueue(ctx context.Context, tenantID int64, horizonDays int) (int, error) {
	if horizonDays <= 0 {
		horizonDays = s.cfg.HorizonDays
	}

	tenant, err := s.t.GetByID(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	if tenant == nil || !tenant.PostingEnabled || !tenant.Active || !tenant.Published {
		return 0, nil
	}

	connections, err := s.sc.ListByTenant(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	var platforms []string
	for _, conn := range connections {
		if conn.IsConnected {
			platforms = append(platforms, conn.Platform)
		}
	}
	if len(platforms) == 0 {
		return 0, nil
	}

	now := time.Now()
	windowEnd := now.Add(time.Duration(horizonDays) * 24 * time.Hour)
	target := ceilDiv(s.cfg.WeeklyCadence*horizonDays, 7)

	existing, err := s.q.CountInWindow(ctx, tenantID, now, windowEnd)
	if err != nil {
		return 0, err
	}
	deficit := target - existing
	if deficit <= 0 {
		return 0, nil
	}

	occupied, err := s.q.ListScheduledTimes(ctx, tenantID, now, windowEnd)
	if err != nil {
		return 0, err
	}
	slots := s.planSlots(now, horizonDays, deficit, occupied)

	excludeWindow := time.Duration(s.cfg.ExcludeWindowDays) * 24 * time.Hour
	created := 0
	for i, slot := range slots {
		item, err := s.selector.SelectNext(ctx, tenantID, excludeWindow)
		if err != nil {
			return created, err
		}
		if item == nil {
			// Padding the queue with repeats would defeat the rotation;
			// wait for new content instead.
			slog.Info("fill stopped early, no eligible content", "tenant_id", tenantID, "created", created)
			break
		}

		entry := &models.QueueEntry{
			TenantID:     tenantID,
			ContentID:    item.ID,
			Platform:     platforms[i%len(platforms)],
			ScheduledFor: slot,
		}
		_, err = s.q.Create(ctx, entry)
		if err == repository.ErrDuplicateSlot {
			// A concurrent fill took this slot; the deficit is already met
			// for it, move on.
			continue
		}
		if err != nil {
			return created, err
		}
		created++
	}

	return created, nil
}

// planSlots spreads the deficit across the free days of the horizon at the
// configured posting hour, falling back to later same-day hours once every
// day is taken. Returned slots are strictly future and ascending.
func (s *fillerService) planSlots(now time.Time, horizonDays, needed int, occupied []time.Time) []time.Time {
	taken := make(map[time.Time]bool, len(occupied))
	for _, ts := range occupied {
		taken[ts.Truncate(time.Hour)] = true
	}

	var slots []time.Time
	for round := 0; round < slotRounds && len(slots) < needed; round++ {
		hour := s.cfg.PostingHour + round*4
		if hour > 23 {
			// A later round past midnight would roll into the next day and
			// collide with that day's first slot.
			break
		}
		for day := 0; day < horizonDays && len(slots) < needed; day++ {
			slot := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location()).
				AddDate(0, 0, day)
			if !slot.After(now) || taken[slot.Truncate(time.Hour)] {
				continue
			}
			slots = append(slots, slot)
			taken[slot.Truncate(time.Hour)] = true
		}
	}

	sort.Slice(slots, func(i, j int) bool { return slots[i].Before(slots[j]) })
	return slots
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
