package notification

import (
	"context"
	"errors"
	"fmt"

	"guidebook/models"
	"guidebook/utils"

	"firebase.google.com/go/v4/messaging"
	"github.com/go-redis/redis/v8"
)

// FCMSender is the subset of *messaging.Client used for push.
type FCMSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Push sends FCM notifications to the device token registered for a user.
type Push struct {
	rdb    *redis.Client
	sender FCMSender
}

func NewPush(rdb *redis.Client, sender FCMSender) *Push {
	return &Push{rdb: rdb, sender: sender}
}

func (p *Push) Name() string { return "push" }

// RegisterToken stores the FCM registration token for a user.
func (p *Push) RegisterToken(ctx context.Context, userID, token string) error {
	return p.rdb.Set(ctx, utils.DeviceTokenPrefix+userID, token, 0).Err()
}

func (p *Push) Deliver(ctx context.Context, event models.NotificationEvent) error {
	token, err := p.rdb.Get(ctx, utils.DeviceTokenPrefix+event.UserID).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("device token lookup: %w", err)
	}
	if token == "" {
		return nil
	}

	title, body := Render(event)
	data := make(map[string]string, len(event.Payload)+1)
	for k, v := range event.Payload {
		data[k] = v
	}
	data["type"] = string(event.Type)

	msg := &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: "bookings",
				Sound:     "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority":  "10",
				"apns-push-type": "alert",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default"},
			},
		},
	}
	if _, err := p.sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send FCM message: %w", err)
	}
	return nil
}
