package delivery

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const defaultOutboxCapacity = 100

// Outbox buffers replies per identity until the transport bridge drains
// them over HTTP. When an identity's queue is full the oldest message is
// dropped.
type Outbox struct {
	mu       sync.Mutex
	queues   map[string][]Message
	capacity int
	logger   *slog.Logger
	now      func() time.Time
}

func NewOutbox(capacity int, logger *slog.Logger) *Outbox {
	if capacity <= 0 {
		capacity = defaultOutboxCapacity
	}
	return &Outbox{
		queues:   make(map[string][]Message),
		capacity: capacity,
		logger:   logger,
		now:      time.Now,
	}
}

func (o *Outbox) SendNotice(_ context.Context, identity, text string) error {
	o.push(noticeMessage(identity, text, o.now()))
	return nil
}

func (o *Outbox) SendSticker(_ context.Context, identity string, data []byte) error {
	o.push(stickerMessage(identity, data, o.now()))
	return nil
}

func (o *Outbox) push(msg Message) {
	o.mu.Lock()
	defer o.mu.Unlock()

	q := append(o.queues[msg.Identity], msg)
	if len(q) > o.capacity {
		o.logger.Warn("Outbox full, dropping oldest message",
			slog.String("identity", msg.Identity),
			slog.String("dropped_type", q[0].Type),
		)
		q = q[len(q)-o.capacity:]
	}
	o.queues[msg.Identity] = q
}

// Drain returns and removes all pending messages for identity, oldest first.
func (o *Outbox) Drain(identity string) []Message {
	o.mu.Lock()
	defer o.mu.Unlock()

	q := o.queues[identity]
	delete(o.queues, identity)
	return q
}
