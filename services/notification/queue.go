package notification

import (
	"context"
	"fmt"
	"time"

	"guidebook/models"
	"guidebook/services/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Enqueuer is the subset of *asynq.Client used by QueueDispatcher.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueDispatcher enqueues delivery tasks for the notification worker.
type QueueDispatcher struct {
	client Enqueuer
	logger *zap.Logger
}

func NewQueueDispatcher(client Enqueuer, logger *zap.Logger) *QueueDispatcher {
	return &QueueDispatcher{client: client, logger: logger}
}

func (d *QueueDispatcher) Notify(ctx context.Context, userID string, typ models.NotificationType, payload map[string]string) error {
	return d.enqueue(ctx, time.Time{}, userID, typ, payload)
}

func (d *QueueDispatcher) NotifyAt(ctx context.Context, at time.Time, userID string, typ models.NotificationType, payload map[string]string) error {
	return d.enqueue(ctx, at, userID, typ, payload)
}

func (d *QueueDispatcher) enqueue(ctx context.Context, at time.Time, userID string, typ models.NotificationType, payload map[string]string) error {
	if userID == "" {
		return fmt.Errorf("notification %s has no recipient", typ)
	}
	task, opts, err := tasks.NewDeliverTask(NewEvent(userID, typ, payload), at)
	if err != nil {
		return err
	}
	info, err := d.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return fmt.Errorf("enqueue %s for %s: %w", typ, userID, err)
	}
	d.logger.Debug("notification enqueued",
		zap.String("taskId", info.ID),
		zap.String("type", string(typ)),
		zap.String("userId", userID),
	)
	return nil
}
