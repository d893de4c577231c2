package queue

import (
	"github.com/craftline/postpilot/internal/service"
)

// Queue holds the task handlers run by the asynq worker.
type Queue struct {
	filler service.FillerService
}

func NewQueue(filler service.FillerService) *Queue {
	return &Queue{filler: filler}
}

const TaskTypeFillQueue = "queue:fill"

// FillQueuePayload identifies one tenant's fill request. Delivery is
// at-least-once; the fill's deficit computation absorbs duplicates.
type FillQueuePayload struct {
	TenantID    int64 `json:"tenant_id"`
	HorizonDays int   `json:"horizon_days"`
}
