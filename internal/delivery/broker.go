package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher sends a message to the outbound exchange.
type Publisher interface {
	Publish(ctx context.Context, body []byte, contentType string, headers amqp.Table) error
}

// Broker hands replies to the transport bridge over RabbitMQ.
type Broker struct {
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewBroker(publisher Publisher, logger *slog.Logger) *Broker {
	return &Broker{publisher: publisher, logger: logger, now: time.Now}
}

func (b *Broker) SendNotice(ctx context.Context, identity, text string) error {
	return b.publish(ctx, noticeMessage(identity, text, b.now()))
}

func (b *Broker) SendSticker(ctx context.Context, identity string, data []byte) error {
	return b.publish(ctx, stickerMessage(identity, data, b.now()))
}

func (b *Broker) publish(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", msg.Type, err)
	}

	if err := b.publisher.Publish(ctx, body, "application/json", amqp.Table{"type": msg.Type}); err != nil {
		return fmt.Errorf("failed to publish %s message: %w", msg.Type, err)
	}

	b.logger.Debug("Outbound message published",
		slog.String("type", msg.Type),
		slog.String("identity", msg.Identity),
		slog.Int("body_size", len(body)),
	)
	return nil
}
