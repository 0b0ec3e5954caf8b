package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/limitrofe/stickers/internal/metrics"
)

// EmbeddedConfig holds in-process queue settings
type EmbeddedConfig struct {
	Handler Handler
	Gate    Gate
	Delay   time.Duration
	Buffer  int
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Embedded is the in-process queue: each submitted job waits Delay, then
// joins a FIFO drained by a single worker goroutine. Jobs do not survive a
// restart.
type Embedded struct {
	handler Handler
	gate    Gate
	delay   time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics

	jobs chan JobDescriptor
	done chan struct{}

	mu       sync.Mutex
	closed   bool
	seq      uint64
	delayed  map[uint64]delayedJob
	inflight sync.WaitGroup
}

type delayedJob struct {
	timer *time.Timer
	job   JobDescriptor
}

func NewEmbedded(cfg *EmbeddedConfig) *Embedded {
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	gate := cfg.Gate
	if gate == nil {
		gate = NewLocalGate(0)
	}
	return &Embedded{
		handler: cfg.Handler,
		gate:    gate,
		delay:   cfg.Delay,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		jobs:    make(chan JobDescriptor, buffer),
		done:    make(chan struct{}),
		delayed: make(map[uint64]delayedJob),
	}
}

// Submit never blocks. It fails only after shutdown began.
func (q *Embedded) Submit(_ context.Context, job JobDescriptor) error {
	if err := job.Validate(); err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	q.seq++
	id := q.seq
	q.inflight.Add(1)
	q.delayed[id] = delayedJob{
		timer: time.AfterFunc(q.delay, func() { q.enqueue(id) }),
		job:   job,
	}

	q.logger.Info("Job submitted",
		slog.String("state", StateSubmitted),
		slog.String("correlation_id", job.CorrelationID),
		slog.String("identity", job.Identity),
		slog.Duration("delay", q.delay),
	)
	q.metrics.JobTransition(StateSubmitted)
	return nil
}

func (q *Embedded) enqueue(id uint64) {
	defer q.inflight.Done()

	q.mu.Lock()
	d, ok := q.delayed[id]
	delete(q.delayed, id)
	q.mu.Unlock()
	if !ok {
		return
	}

	select {
	case q.jobs <- d.job:
	case <-q.done:
		q.handler.Abandon(context.Background(), d.job)
	}
}

// Run drains the queue until ctx is canceled. The job in progress at that
// moment runs to completion; queued and delayed jobs are abandoned.
func (q *Embedded) Run(ctx context.Context) error {
	q.logger.Info("Embedded queue worker started", slog.Duration("delay", q.delay))

	for {
		select {
		case <-ctx.Done():
			q.shutdown()
			q.logger.Info("Embedded queue worker stopped")
			return nil
		case job := <-q.jobs:
			q.runOne(ctx, job)
		}
	}
}

func (q *Embedded) runOne(ctx context.Context, job JobDescriptor) {
	q.logger.Info("Job dequeued",
		slog.String("state", StateDequeued),
		slog.String("correlation_id", job.CorrelationID),
	)
	q.metrics.JobTransition(StateDequeued)

	release, err := q.gate.Acquire(ctx)
	if err != nil {
		q.handler.Abandon(context.Background(), job)
		return
	}
	defer release()

	// Errors are logged by the handler; there is no retry.
	_ = q.handler.Process(context.WithoutCancel(ctx), job)
}

func (q *Embedded) shutdown() {
	q.mu.Lock()
	q.closed = true
	close(q.done)
	var pending []JobDescriptor
	for id, d := range q.delayed {
		// A timer that already fired is finished by its own enqueue call.
		if d.timer.Stop() {
			pending = append(pending, d.job)
			delete(q.delayed, id)
			q.inflight.Done()
		}
	}
	q.mu.Unlock()

	q.inflight.Wait()

	for {
		select {
		case job := <-q.jobs:
			pending = append(pending, job)
		default:
			if len(pending) > 0 {
				q.logger.Warn("Abandoning queued jobs on shutdown", slog.Int("count", len(pending)))
			}
			for _, job := range pending {
				q.handler.Abandon(context.Background(), job)
			}
			return
		}
	}
}
