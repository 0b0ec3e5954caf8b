package handler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/limitrofe/stickers/internal/admission"
	"github.com/limitrofe/stickers/internal/delivery"
	"github.com/limitrofe/stickers/internal/intake"
)

// EventIntake admits one inbound event.
type EventIntake interface {
	Handle(ctx context.Context, ev intake.Event) admission.Outcome
}

// OutboxReader hands pending replies to the transport bridge.
type OutboxReader interface {
	Drain(identity string) []delivery.Message
}

// UsageReader reports an identity's quota usage for today.
type UsageReader interface {
	Usage(ctx context.Context, identity string) (admission.UsageRecord, error)
}

const defaultMaxInflight = 64

// Dependencies holds all dependencies needed by handlers. Outbox is nil
// when replies go out through the broker. MaxInflight bounds events
// accepted but not yet through intake.
type Dependencies struct {
	Logger      *slog.Logger
	Intake      EventIntake
	Outbox      OutboxReader
	Usage       UsageReader
	DailyLimit  int
	MaxInflight int
}

// EventHandler handles inbound events and the reply side of the bridge API.
type EventHandler struct {
	logger     *slog.Logger
	intake     EventIntake
	outbox     OutboxReader
	usage      UsageReader
	dailyLimit int

	slots    chan struct{}
	inflight sync.WaitGroup
}

// NewEventHandler creates a new EventHandler instance
func NewEventHandler(deps *Dependencies) *EventHandler {
	maxInflight := deps.MaxInflight
	if maxInflight <= 0 {
		maxInflight = defaultMaxInflight
	}
	return &EventHandler{
		slots:      make(chan struct{}, maxInflight),
		logger:     deps.Logger,
		intake:     deps.Intake,
		outbox:     deps.Outbox,
		usage:      deps.Usage,
		dailyLimit: deps.DailyLimit,
	}
}

// Wait blocks until every accepted event finished intake.
func (h *EventHandler) Wait() {
	h.inflight.Wait()
}
