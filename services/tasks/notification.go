package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"guidebook/models"

	"github.com/hibiken/asynq"
)

const TypeDeliverNotification = "notification:deliver"

// NotificationQueue is the asynq queue name for delivery tasks.
const NotificationQueue = "notifications"

// NewDeliverTask wraps an event for the worker. A zero fireAt delivers immediately.
func NewDeliverTask(event models.NotificationEvent, fireAt time.Time) (*asynq.Task, []asynq.Option, error) {
	b, err := json.Marshal(event)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal notification: %w", err)
	}
	task := asynq.NewTask(TypeDeliverNotification, b)
	opts := []asynq.Option{
		asynq.Queue(NotificationQueue),
		asynq.MaxRetry(5),
		asynq.Timeout(30 * time.Second),
	}
	if !fireAt.IsZero() {
		opts = append(opts, asynq.ProcessAt(fireAt))
	}
	return task, opts, nil
}

// ParseDeliverTask decodes a delivery task payload.
func ParseDeliverTask(task *asynq.Task) (models.NotificationEvent, error) {
	var event models.NotificationEvent
	if err := json.Unmarshal(task.Payload(), &event); err != nil {
		return event, fmt.Errorf("invalid notification payload: %w", err)
	}
	return event, nil
}
