package handlers

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"github.com/craftline/postpilot/internal/queue"
	"github.com/craftline/postpilot/internal/repository"
	"github.com/craftline/postpilot/internal/service"
)

// SchedulerHandler exposes the two periodic trigger endpoints the external
// scheduler calls: queue fill and due-post execution.
type SchedulerHandler struct {
	t           repository.TenantRepository
	filler      service.FillerService
	publisher   service.PublisherService
	AsynqClient *asynq.Client
}

func NewSchedulerHandler(
	t repository.TenantRepository,
	filler service.FillerService,
	publisher service.PublisherService,
	asynqClient *asynq.Client) *SchedulerHandler {
	return &SchedulerHandler{
		t:           t,
		filler:      filler,
		publisher:   publisher,
		AsynqClient: asynqClient,
	}
}

// FillQueues fills one tenant inline when tenant_id is given, otherwise fans
// out one fill task per eligible tenant through the worker.
func (h *SchedulerHandler) FillQueues(c *fiber.Ctx) error {
	tenantID := c.QueryInt("tenant_id", 0)
	horizonDays := c.QueryInt("horizon_days", 0)

	if tenantID != 0 {
		created, err := h.filler.FillQueue(c.Context(), int64(tenantID), horizonDays)
		if err != nil {
			slog.Error(err.Error())
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Unable to fill queue",
			})
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"created": created})
	}

	tenants, err := h.t.ListEligible(c.Context())
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Unable to list tenants",
		})
	}

	enqueued := 0
	for _, tenant := range tenants {
		payload := queue.FillQueuePayload{TenantID: tenant.ID, HorizonDays: horizonDays}
		if err := queue.EnqueueFill(h.AsynqClient, payload); err != nil {
			slog.Error(err.Error())
			continue
		}
		enqueued++
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"enqueued": enqueued})
}

func (h *SchedulerHandler) ProcessDue(c *fiber.Ctx) error {
	summary, err := h.publisher.ProcessDuePosts(c.Context())
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Publish sweep failed",
		})
	}

	return c.Status(fiber.StatusOK).JSON(summary)
}
