package service

import (
	"context"
	"testing"
	"time"

	"github.com/craftline/postpilot/internal/models"
)

func contentItem(id, tenantID int64, title string) *models.ContentItem {
	return &models.ContentItem{
		ID:        id,
		TenantID:  tenantID,
		Title:     title,
		ImageKeys: []string{"img.jpg"},
	}
}

func TestSelectNextNoContent(t *testing.T) {
	selector := NewSelectorService(newFakeContentRepo(), newFakeQueueRepo())

	item, err := selector.SelectNext(context.Background(), 1, 14*24*time.Hour)
	if err != nil {
		t.Fatalf("SelectNext: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil item for empty library, got %d", item.ID)
	}
}

func TestSelectNextRotatesThroughLibrary(t *testing.T) {
	const tenantID = int64(1)
	content := newFakeContentRepo(
		contentItem(10, tenantID, "a"),
		contentItem(11, tenantID, "b"),
		contentItem(12, tenantID, "c"),
		contentItem(13, tenantID, "d"),
	)
	queue := newFakeQueueRepo()
	selector := NewSelectorService(content, queue)

	// Record each pick as a queued entry, the way the filler does, and make
	// sure no item repeats before the whole library has been used.
	seen := make(map[int64]bool)
	base := time.Now().Add(24 * time.Hour)
	for i := 0; i < 4; i++ {
		item, err := selector.SelectNext(context.Background(), tenantID, 14*24*time.Hour)
		if err != nil {
			t.Fatalf("SelectNext %d: %v", i, err)
		}
		if item == nil {
			t.Fatalf("SelectNext %d: no item", i)
		}
		if seen[item.ID] {
			t.Fatalf("item %d repeated before full rotation", item.ID)
		}
		seen[item.ID] = true
		queue.add(&models.QueueEntry{
			TenantID:     tenantID,
			ContentID:    item.ID,
			Platform:     models.PlatformInstagram,
			ScheduledFor: base.Add(time.Duration(i) * time.Hour),
		})
	}
	if len(seen) != 4 {
		t.Fatalf("expected 4 distinct items, got %d", len(seen))
	}
}

func TestSelectNextPrefersItemsOutsideExclusionWindow(t *testing.T) {
	const tenantID = int64(1)
	content := newFakeContentRepo(
		contentItem(10, tenantID, "recent"),
		contentItem(11, tenantID, "stale"),
	)
	queue := newFakeQueueRepo()

	// Both items used once, but item 11 outside the window and item 10 inside.
	queue.add(&models.QueueEntry{TenantID: tenantID, ContentID: 10, Platform: models.PlatformInstagram, ScheduledFor: time.Now().Add(-2 * 24 * time.Hour)})
	queue.add(&models.QueueEntry{TenantID: tenantID, ContentID: 11, Platform: models.PlatformInstagram, ScheduledFor: time.Now().Add(-30 * 24 * time.Hour)})

	selector := NewSelectorService(content, queue)
	item, err := selector.SelectNext(context.Background(), tenantID, 14*24*time.Hour)
	if err != nil {
		t.Fatalf("SelectNext: %v", err)
	}
	if item == nil || item.ID != 11 {
		t.Fatalf("expected item outside the exclusion window (11), got %+v", item)
	}
}

func TestSelectNextFallsBackInsideWindowWhenNoAlternative(t *testing.T) {
	const tenantID = int64(1)
	content := newFakeContentRepo(contentItem(10, tenantID, "only"))
	queue := newFakeQueueRepo()
	queue.add(&models.QueueEntry{TenantID: tenantID, ContentID: 10, Platform: models.PlatformInstagram, ScheduledFor: time.Now().Add(-time.Hour)})

	selector := NewSelectorService(content, queue)
	item, err := selector.SelectNext(context.Background(), tenantID, 14*24*time.Hour)
	if err != nil {
		t.Fatalf("SelectNext: %v", err)
	}
	if item == nil || item.ID != 10 {
		t.Fatalf("expected fallback to the only item, got %+v", item)
	}
}

func TestSelectNextIgnoresSkippedEntries(t *testing.T) {
	const tenantID = int64(1)
	content := newFakeContentRepo(
		contentItem(10, tenantID, "a"),
		contentItem(11, tenantID, "b"),
	)
	queue := newFakeQueueRepo()
	queue.add(&models.QueueEntry{TenantID: tenantID, ContentID: 10, Platform: models.PlatformInstagram, ScheduledFor: time.Now().Add(-30 * 24 * time.Hour)})
	queue.add(&models.QueueEntry{
		TenantID:     tenantID,
		ContentID:    11,
		Platform:     models.PlatformInstagram,
		ScheduledFor: time.Now().Add(-30 * 24 * time.Hour),
		Status:       models.EntryStatusSkipped,
	})

	selector := NewSelectorService(content, queue)
	item, err := selector.SelectNext(context.Background(), tenantID, 14*24*time.Hour)
	if err != nil {
		t.Fatalf("SelectNext: %v", err)
	}
	// The skipped entry never counted as a use, so item 11 is the least used.
	if item == nil || item.ID != 11 {
		t.Fatalf("expected item 11, got %+v", item)
	}
}
