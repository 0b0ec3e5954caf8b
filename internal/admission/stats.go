package admission

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Outcome is the admission decision for one inbound event.
type Outcome string

const (
	OutcomeAccepted      Outcome = "accepted"
	OutcomeIgnored       Outcome = "ignored"
	OutcomeRateLimited   Outcome = "rate_limited"
	OutcomeTooLarge      Outcome = "too_large"
	OutcomeRejectedMedia Outcome = "rejected_media"
	OutcomeFailed        Outcome = "failed"
)

// StatsRecorder counts admission outcomes. Recording is best effort.
type StatsRecorder interface {
	Record(ctx context.Context, outcome Outcome, at time.Time) error
}

// RedisStats keeps a cumulative hash of outcomes plus one hash per day.
// Only the daily buckets expire.
type RedisStats struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

type RedisStatsOption func(*RedisStats)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStats) { s.prefix = strings.Trim(prefix, ":") }
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStats) { s.ttl = d }
}

func NewRedisStats(rdb *redis.Client, opts ...RedisStatsOption) *RedisStats {
	s := &RedisStats{
		rdb:    rdb,
		prefix: "stickers:admission",
		ttl:    7 * 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStats) Record(ctx context.Context, outcome Outcome, at time.Time) error {
	if s == nil || s.rdb == nil {
		return nil
	}
	if at.IsZero() {
		at = time.Now()
	}

	field := string(outcome)
	dayKey := s.prefix + ":day:" + at.UTC().Format("20060102")

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)
	pipe.HIncrBy(ctx, dayKey, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, dayKey, s.ttl)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// Totals returns the cumulative outcome counters.
func (s *RedisStats) Totals(ctx context.Context) (map[string]int64, error) {
	raw, err := s.rdb.HGetAll(ctx, s.prefix+":total").Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid counter %s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}
