package handlers

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/craftline/postpilot/internal/models"
	"github.com/craftline/postpilot/internal/repository"
)

const defaultListLimit = 50

type QueueHandler struct {
	q repository.QueueEntryRepository
}

func NewQueueHandler(q repository.QueueEntryRepository) *QueueHandler {
	return &QueueHandler{q: q}
}

func (h *QueueHandler) ListEntries(c *fiber.Ctx) error {
	tenantID := c.QueryInt("tenant_id", 0)
	if tenantID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "tenant_id is required",
		})
	}

	status := c.Query("status")
	if status != "" && !isValidStatus(status) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unknown status filter",
		})
	}

	limit := c.QueryInt("limit", defaultListLimit)

	entries, err := h.q.ListByTenant(c.Context(), int64(tenantID), status, limit)
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to list queue entries",
		})
	}

	return c.Status(fiber.StatusOK).JSON(entries)
}

type reorderRequest struct {
	EntryA int64 `json:"entry_a"`
	EntryB int64 `json:"entry_b"`
	// Target times after the swap. Optional; when present they must match the
	// other entry's current slot, so a caller working from a stale queue view
	// gets a conflict instead of a surprise.
	ScheduledA *time.Time `json:"scheduled_a"`
	ScheduledB *time.Time `json:"scheduled_b"`
}

// Reorder swaps the scheduled times of two pending entries. A conflict means
// the swap is not guaranteed and the caller must re-read the queue.
func (h *QueueHandler) Reorder(c *fiber.Ctx) error {
	var req reorderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse request body",
		})
	}
	if req.EntryA == 0 || req.EntryB == 0 || req.EntryA == req.EntryB {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "two distinct entry ids are required",
		})
	}

	if req.ScheduledA != nil && req.ScheduledB != nil {
		if conflict, err := h.targetsMoved(c, &req); err != nil {
			slog.Error(err.Error())
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Unable to load queue entries",
			})
		} else if conflict {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "queue changed since it was read, swap not applied",
			})
		}
	}

	err := h.q.SwapScheduledFor(c.Context(), req.EntryA, req.EntryB)
	if err != nil {
		if errors.Is(err, repository.ErrSwapConflict) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "entries are no longer pending, swap not applied",
			})
		}
		slog.Error(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Swap failed, ordering not guaranteed",
		})
	}

	return c.SendStatus(fiber.StatusOK)
}

// targetsMoved reports whether the requested post-swap times no longer line up
// with the entries' current slots.
func (h *QueueHandler) targetsMoved(c *fiber.Ctx, req *reorderRequest) (bool, error) {
	a, err := h.q.GetByID(c.Context(), req.EntryA)
	if err != nil {
		return false, err
	}
	b, err := h.q.GetByID(c.Context(), req.EntryB)
	if err != nil {
		return false, err
	}
	if a == nil || b == nil {
		return true, nil
	}
	return !req.ScheduledA.Equal(b.ScheduledFor) || !req.ScheduledB.Equal(a.ScheduledFor), nil
}

func isValidStatus(status string) bool {
	switch status {
	case models.EntryStatusPending, models.EntryStatusProcessing,
		models.EntryStatusPosted, models.EntryStatusFailed, models.EntryStatusSkipped:
		return true
	}
	return false
}
