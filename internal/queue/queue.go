package queue

import (
	"encoding/json"
	"log"

	"github.com/hibiken/asynq"
)

func EnqueueFill(asynqClient *asynq.Client, payload FillQueuePayload) error {
	taskPayload, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	task := asynq.NewTask(TaskTypeFillQueue, taskPayload)

	_, err = asynqClient.Enqueue(task)
	if err != nil {
		return err
	}

	log.Printf("Fill task enqueued: %+v", payload)
	return nil
}
