package admission

import (
	"context"
	"log/slog"
	"time"

	"github.com/limitrofe/stickers/internal/clock"
)

// RateLimiter enforces a per-identity daily quota. Days roll over at
// midnight in the configured location.
type RateLimiter struct {
	store  UsageStore
	clock  clock.Clock
	loc    *time.Location
	logger *slog.Logger
}

func NewRateLimiter(store UsageStore, clk clock.Clock, loc *time.Location, logger *slog.Logger) *RateLimiter {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &RateLimiter{store: store, clock: clk, loc: loc, logger: logger}
}

// Today returns the current calendar day as YYYY-MM-DD.
func (r *RateLimiter) Today() string {
	return r.clock.Now().In(r.loc).Format(time.DateOnly)
}

// CheckAndConsume admits the identity and counts the admission, or denies
// it without mutation once today's count reached limit. Store failures
// admit: an unavailable counter must not lock every user out.
func (r *RateLimiter) CheckAndConsume(ctx context.Context, identity string, limit int) bool {
	if limit <= 0 {
		return false
	}

	allowed, err := r.store.Consume(ctx, identity, r.Today(), limit)
	if err != nil {
		r.logger.Error("Usage store unavailable, admitting",
			slog.String("identity", identity),
			slog.Any("error", err),
		)
		return true
	}
	return allowed
}

// Usage returns today's record for identity; a stale record reads as zero.
func (r *RateLimiter) Usage(ctx context.Context, identity string) (UsageRecord, error) {
	today := r.Today()
	rec, ok, err := r.store.Get(ctx, identity)
	if err != nil {
		return UsageRecord{}, err
	}
	if !ok || rec.Date != today {
		return UsageRecord{Identity: identity, Date: today}, nil
	}
	return rec, nil
}

// IsAcceptable reports whether an input of byteLength fits maxBytes.
// Exactly maxBytes is accepted.
func IsAcceptable(byteLength, maxBytes int64) bool {
	return byteLength <= maxBytes
}
