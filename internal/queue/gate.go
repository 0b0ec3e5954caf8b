package queue

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gate grants the single processing slot. Acquire blocks until the slot is
// free and at least the minimum interval has passed since the previous
// grant. The returned release func is idempotent.
type Gate interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// LocalGate serializes jobs inside one process.
type LocalGate struct {
	slot    chan struct{}
	limiter *rate.Limiter
}

func NewLocalGate(minInterval time.Duration) *LocalGate {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &LocalGate{
		slot:    make(chan struct{}, 1),
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (g *LocalGate) Acquire(ctx context.Context) (func(), error) {
	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := g.limiter.Wait(ctx); err != nil {
		<-g.slot
		return nil, err
	}

	var once sync.Once
	return func() { once.Do(func() { <-g.slot }) }, nil
}
