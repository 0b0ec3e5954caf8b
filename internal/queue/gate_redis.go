package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Deletes the lock only if this holder still owns it.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Extends the lock only if this holder still owns it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisGate extends a LocalGate across processes: a SET NX lock keeps a
// single job running cluster-wide and a shared last-start key spaces starts.
// The holder renews the lock every lockTTL/3 until release, so a job may
// outlive lockTTL; the TTL only bounds how long a crashed holder blocks.
type RedisGate struct {
	local       *LocalGate
	rdb         *redis.Client
	lockKey     string
	startKey    string
	lockTTL     time.Duration
	pollEvery   time.Duration
	minInterval time.Duration
	now         func() time.Time
}

type RedisGateOption func(*RedisGate)

func WithGatePrefix(prefix string) RedisGateOption {
	return func(g *RedisGate) {
		prefix = strings.Trim(prefix, ":")
		g.lockKey = prefix + ":gate:lock"
		g.startKey = prefix + ":gate:last_start"
	}
}

// WithLockTTL bounds how long a crashed holder can block the cluster.
func WithLockTTL(d time.Duration) RedisGateOption {
	return func(g *RedisGate) { g.lockTTL = d }
}

func WithPollEvery(d time.Duration) RedisGateOption {
	return func(g *RedisGate) { g.pollEvery = d }
}

func NewRedisGate(rdb *redis.Client, minInterval time.Duration, opts ...RedisGateOption) *RedisGate {
	g := &RedisGate{
		local:       NewLocalGate(minInterval),
		rdb:         rdb,
		lockTTL:     5 * time.Minute,
		pollEvery:   200 * time.Millisecond,
		minInterval: minInterval,
		now:         time.Now,
	}
	WithGatePrefix("stickers")(g)
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *RedisGate) Acquire(ctx context.Context) (func(), error) {
	releaseLocal, err := g.local.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	token := uuid.NewString()
	if err := g.lock(ctx, token); err != nil {
		releaseLocal()
		return nil, err
	}

	if err := g.space(ctx); err != nil {
		g.unlock(token)
		releaseLocal()
		return nil, err
	}

	stop := make(chan struct{})
	renewed := make(chan struct{})
	go g.renew(token, stop, renewed)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-renewed
			g.unlock(token)
			releaseLocal()
		})
	}, nil
}

// renew keeps the lease alive while the job runs. It stops on release or
// once the lock is no longer ours.
func (g *RedisGate) renew(token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	every := g.lockTTL / 3
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), every)
			n, err := renewScript.Run(ctx, g.rdb, []string{g.lockKey}, token, g.lockTTL.Milliseconds()).Int64()
			cancel()
			if err == nil && n == 0 {
				return
			}
			// A failed call is retried on the next tick, within the TTL.
		}
	}
}

func (g *RedisGate) lock(ctx context.Context, token string) error {
	for {
		ok, err := g.rdb.SetNX(ctx, g.lockKey, token, g.lockTTL).Result()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrGateUnavailable, err)
		}
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(g.pollEvery):
		}
	}
}

// space waits until minInterval passed since the last recorded start, then
// records this start. Callers hold the lock, so read-then-write is safe.
func (g *RedisGate) space(ctx context.Context) error {
	last, err := g.rdb.Get(ctx, g.startKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %w", ErrGateUnavailable, err)
	}

	if last > 0 {
		wait := time.UnixMilli(last).Add(g.minInterval).Sub(g.now())
		if wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	ttl := 2 * g.minInterval
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := g.rdb.Set(ctx, g.startKey, g.now().UnixMilli(), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrGateUnavailable, err)
	}
	return nil
}

func (g *RedisGate) unlock(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// On failure the lock expires after lockTTL.
	_ = unlockScript.Run(ctx, g.rdb, []string{g.lockKey}, token).Err()
}
