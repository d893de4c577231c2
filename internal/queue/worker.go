package queue

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

func (q *Queue) HandleFillQueueTask(ctx context.Context, task *asynq.Task) error {
	var payload FillQueuePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	created, err := q.filler.FillQueue(ctx, payload.TenantID, payload.HorizonDays)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	slog.Info("queue filled", "tenant_id", payload.TenantID, "created", created)
	return nil
}
