package cron

import (
	"context"
	"fmt"
	"time"

	"guidebook/models"
	"guidebook/services/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Deliverer is what the worker hands each decoded event to, normally a
// notification.Fanout.
type Deliverer interface {
	Deliver(ctx context.Context, event models.NotificationEvent) error
}

// NotificationWorker consumes notification:deliver tasks and fans each event
// out to the delivery channels.
type NotificationWorker struct {
	srv       *asynq.Server
	mux       *asynq.ServeMux
	deliverer Deliverer
	logger    *zap.Logger
}

func NewNotificationWorker(redisOpt asynq.RedisClientOpt, deliverer Deliverer, logger *zap.Logger) *NotificationWorker {
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				tasks.NotificationQueue: 1,
			},
		},
	)
	w := &NotificationWorker{srv: srv, mux: asynq.NewServeMux(), deliverer: deliverer, logger: logger}
	w.mux.HandleFunc(tasks.TypeDeliverNotification, w.HandleDeliver)
	return w
}

// Start runs the worker in the background, retrying startup with backoff.
func (w *NotificationWorker) Start() {
	go func() {
		w.logger.Info("starting notification worker")
		const maxAttempts = 5

		for attempts := 1; attempts <= maxAttempts; attempts++ {
			if err := w.srv.Run(w.mux); err != nil {
				w.logger.Error("notification worker failed to start",
					zap.Int("attempt", attempts),
					zap.Int("maxAttempts", maxAttempts),
					zap.Error(err),
				)
				if attempts == maxAttempts {
					w.logger.Fatal("notification worker gave up after max retry attempts")
				}
				time.Sleep(time.Duration(attempts*2) * time.Second)
			} else {
				break
			}
		}
	}()
}

func (w *NotificationWorker) Shutdown() {
	w.srv.Shutdown()
}

// HandleDeliver decodes one task and delivers it. Malformed payloads are not
// retried; a delivery where every channel failed is.
func (w *NotificationWorker) HandleDeliver(ctx context.Context, task *asynq.Task) error {
	event, err := tasks.ParseDeliverTask(task)
	if err != nil {
		w.logger.Error("dropping malformed notification task", zap.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := w.deliverer.Deliver(ctx, event); err != nil {
		w.logger.Warn("notification delivery failed, will retry",
			zap.String("type", string(event.Type)),
			zap.String("userId", event.UserID),
			zap.Error(err),
		)
		return err
	}
	w.logger.Debug("notification delivered", zap.String("type", string(event.Type)), zap.String("userId", event.UserID))
	return nil
}
