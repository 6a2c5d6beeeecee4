package notification

import (
	"context"
	"time"

	"guidebook/models"
)

// Dispatcher hands a notification to the delivery pipeline. Callers treat it
// as fire-and-forget: an error is logged and never undoes a committed change.
type Dispatcher interface {
	Notify(ctx context.Context, userID string, typ models.NotificationType, payload map[string]string) error
	NotifyAt(ctx context.Context, at time.Time, userID string, typ models.NotificationType, payload map[string]string) error
}

// Channel delivers one event over a single medium (realtime, push, event bus).
type Channel interface {
	Name() string
	Deliver(ctx context.Context, event models.NotificationEvent) error
}

// NewEvent stamps an event with the current time.
func NewEvent(userID string, typ models.NotificationType, payload map[string]string) models.NotificationEvent {
	if payload == nil {
		payload = map[string]string{}
	}
	return models.NotificationEvent{
		UserID:    userID,
		Type:      typ,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}
