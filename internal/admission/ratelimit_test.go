package admission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limitrofe/stickers/shared/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type failingStore struct{}

func (failingStore) Consume(context.Context, string, string, int) (bool, error) {
	return false, errors.New("connection refused")
}

func (failingStore) Get(context.Context, string) (UsageRecord, bool, error) {
	return UsageRecord{}, false, errors.New("connection refused")
}

func newTestLimiter(store UsageStore, clk *fakeClock) *RateLimiter {
	return NewRateLimiter(store, clk, time.UTC, logger.NewNop())
}

func TestRateLimiter_QuotaExhaustion(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{now: time.Date(2024, 5, 10, 9, 0, 0, 0, time.UTC)}
	limiter := newTestLimiter(NewMemoryUsageStore(), clk)

	for i := 0; i < 25; i++ {
		assert.True(t, limiter.CheckAndConsume(ctx, "a@c.us", 25), "admission %d", i+1)
	}
	assert.False(t, limiter.CheckAndConsume(ctx, "a@c.us", 25))

	rec, err := limiter.Usage(ctx, "a@c.us")
	require.NoError(t, err)
	assert.Equal(t, 25, rec.Count, "denials must not mutate the count")
	assert.Equal(t, "2024-05-10", rec.Date)

	assert.True(t, limiter.CheckAndConsume(ctx, "b@c.us", 25), "identities are independent")
}

func TestRateLimiter_ResetsOnNewDay(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{now: time.Date(2024, 5, 10, 23, 59, 0, 0, time.UTC)}
	limiter := newTestLimiter(NewMemoryUsageStore(), clk)

	for i := 0; i < 25; i++ {
		require.True(t, limiter.CheckAndConsume(ctx, "a@c.us", 25))
	}
	require.False(t, limiter.CheckAndConsume(ctx, "a@c.us", 25))

	clk.Set(time.Date(2024, 5, 11, 0, 0, 1, 0, time.UTC))
	assert.True(t, limiter.CheckAndConsume(ctx, "a@c.us", 25))

	rec, err := limiter.Usage(ctx, "a@c.us")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count)
	assert.Equal(t, "2024-05-11", rec.Date)
}

func TestRateLimiter_DayFollowsLocation(t *testing.T) {
	saoPaulo, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	// 02:00 UTC is still the previous day in Sao Paulo.
	clk := &fakeClock{now: time.Date(2024, 5, 11, 2, 0, 0, 0, time.UTC)}
	limiter := NewRateLimiter(NewMemoryUsageStore(), clk, saoPaulo, logger.NewNop())

	assert.Equal(t, "2024-05-10", limiter.Today())
}

func TestRateLimiter_NonPositiveLimitDenies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryUsageStore()
	limiter := newTestLimiter(store, &fakeClock{now: time.Now()})

	assert.False(t, limiter.CheckAndConsume(ctx, "a@c.us", 0))
	assert.False(t, limiter.CheckAndConsume(ctx, "a@c.us", -1))

	_, ok, err := store.Get(ctx, "a@c.us")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRateLimiter_StoreFailureAdmits(t *testing.T) {
	limiter := newTestLimiter(failingStore{}, &fakeClock{now: time.Now()})

	assert.True(t, limiter.CheckAndConsume(context.Background(), "a@c.us", 25))
}

func TestRateLimiter_ConcurrentSameIdentity(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(NewMemoryUsageStore(), &fakeClock{now: time.Now()})

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.CheckAndConsume(ctx, "a@c.us", 25) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(25), admitted.Load())
}

func TestIsAcceptable(t *testing.T) {
	tests := []struct {
		name string
		n    int64
		max  int64
		want bool
	}{
		{"under limit", 204799, 204800, true},
		{"exactly at limit", 204800, 204800, true},
		{"one byte over", 204801, 204800, false},
		{"empty", 0, 204800, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAcceptable(tt.n, tt.max))
		})
	}
}
