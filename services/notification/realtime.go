package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"guidebook/models"
	"guidebook/utils"

	"github.com/go-redis/redis/v8"
)

// Realtime tracks which users hold an open socket and publishes events to
// them over Redis pub/sub. The socket gateway subscribes to user:<id>.
type Realtime struct {
	rdb *redis.Client
}

func NewRealtime(rdb *redis.Client) *Realtime {
	return &Realtime{rdb: rdb}
}

func (r *Realtime) Name() string { return "realtime" }

// MarkOnline refreshes the user's presence heartbeat.
func (r *Realtime) MarkOnline(ctx context.Context, userID string) error {
	return r.rdb.Set(ctx, utils.PresenceKeyPrefix+userID, "1", utils.PresenceTTL).Err()
}

func (r *Realtime) MarkOffline(ctx context.Context, userID string) error {
	return r.rdb.Del(ctx, utils.PresenceKeyPrefix+userID).Err()
}

func (r *Realtime) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := r.rdb.Exists(ctx, utils.PresenceKeyPrefix+userID).Result()
	if err != nil {
		return false, fmt.Errorf("presence lookup: %w", err)
	}
	return n > 0, nil
}

// Send publishes the event on the user's channel.
func (r *Realtime) Send(ctx context.Context, userID string, event models.NotificationEvent) error {
	b, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal realtime event: %w", err)
	}
	return r.rdb.Publish(ctx, utils.UserChannelPrefix+userID, b).Err()
}

// Deliver sends only to connected users; offline users rely on push.
func (r *Realtime) Deliver(ctx context.Context, event models.NotificationEvent) error {
	online, err := r.IsOnline(ctx, event.UserID)
	if err != nil {
		return err
	}
	if !online {
		return nil
	}
	return r.Send(ctx, event.UserID, event)
}
