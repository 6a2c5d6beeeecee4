package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"guidebook/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EventBus publishes every notification to a topic exchange keyed by event
// type. E-mail and SMS senders live behind it as separate consumers.
type EventBus struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func NewEventBus(url, exchange string) (*EventBus, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &EventBus{conn: conn, ch: ch, exchange: exchange}, nil
}

func (b *EventBus) Name() string { return "eventbus" }

func (b *EventBus) Deliver(ctx context.Context, event models.NotificationEvent) error {
	title, body := Render(event)
	msg := struct {
		models.NotificationEvent
		Title string `json:"title"`
		Body  string `json:"body"`
	}{event, title, body}

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch.PublishWithContext(ctx, b.exchange, string(event.Type), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.CreatedAt,
		Body:         raw,
	})
}

func (b *EventBus) Close() error {
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
