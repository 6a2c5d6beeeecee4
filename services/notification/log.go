package notification

import (
	"context"
	"time"

	"guidebook/models"

	"go.uber.org/zap"
)

// LogDispatcher only records notifications. It is used when no queue is configured.
type LogDispatcher struct {
	Logger *zap.Logger
}

func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	return &LogDispatcher{Logger: logger}
}

func (d *LogDispatcher) Notify(ctx context.Context, userID string, typ models.NotificationType, payload map[string]string) error {
	d.Logger.Info("notification",
		zap.String("userId", userID),
		zap.String("type", string(typ)),
		zap.Any("payload", payload),
	)
	return nil
}

func (d *LogDispatcher) NotifyAt(ctx context.Context, at time.Time, userID string, typ models.NotificationType, payload map[string]string) error {
	d.Logger.Info("scheduled notification",
		zap.Time("at", at),
		zap.String("userId", userID),
		zap.String("type", string(typ)),
		zap.Any("payload", payload),
	)
	return nil
}

// Name lets LogDispatcher double as a delivery channel.
func (d *LogDispatcher) Name() string { return "log" }

func (d *LogDispatcher) Deliver(ctx context.Context, event models.NotificationEvent) error {
	title, body := Render(event)
	d.Logger.Debug("deliver",
		zap.String("userId", event.UserID),
		zap.String("type", string(event.Type)),
		zap.String("title", title),
		zap.String("body", body),
	)
	return nil
}
