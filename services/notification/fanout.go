package notification

import (
	"context"
	"errors"
	"fmt"

	"guidebook/models"

	"go.uber.org/zap"
)

// Fanout delivers an event to every channel. A failing channel is logged and
// does not stop the others; Deliver only errors when every delivery channel
// failed. Audit channels see every event but never count towards the result.
type Fanout struct {
	Channels []Channel
	Audit    []Channel
	Logger   *zap.Logger
}

func NewFanout(logger *zap.Logger, channels ...Channel) *Fanout {
	return &Fanout{Channels: channels, Logger: logger}
}

func (f *Fanout) Deliver(ctx context.Context, event models.NotificationEvent) error {
	for _, ch := range f.Audit {
		if err := ch.Deliver(ctx, event); err != nil {
			f.logFailure(ch, event, err)
		}
	}
	var errs []error
	for _, ch := range f.Channels {
		if err := ch.Deliver(ctx, event); err != nil {
			f.logFailure(ch, event, err)
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	if len(errs) > 0 && len(errs) == len(f.Channels) {
		return errors.Join(errs...)
	}
	return nil
}

func (f *Fanout) logFailure(ch Channel, event models.NotificationEvent, err error) {
	f.Logger.Warn("notification channel failed",
		zap.String("channel", ch.Name()),
		zap.String("type", string(event.Type)),
		zap.String("userId", event.UserID),
		zap.Error(err),
	)
}
