package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/limitrofe/stickers/internal/metrics"
)

// Publisher sends a message to the job exchange.
type Publisher interface {
	Publish(ctx context.Context, body []byte, contentType string, headers amqp.Table) error
}

// Consumer opens a manual-ack delivery stream on the job queue.
// NotifyClosed yields when the broker drops the channel; nil never fires.
type Consumer interface {
	Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
	NotifyClosed() <-chan *amqp.Error
}

// DistributedConfig holds broker-backed queue settings
type DistributedConfig struct {
	Publisher Publisher
	Consumer  Consumer
	Handler   Handler
	Gate      Gate
	WorkerID  string
	Prefetch  int
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

// Distributed publishes jobs to RabbitMQ and, when Run is called, consumes
// them one at a time. Every delivery is acked once processing ends, success
// or failure; there is no automatic retry.
type Distributed struct {
	publisher Publisher
	consumer  Consumer
	handler   Handler
	gate      Gate
	workerID  string
	prefetch  int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewDistributed(cfg *DistributedConfig) *Distributed {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	gate := cfg.Gate
	if gate == nil {
		gate = NewLocalGate(0)
	}
	return &Distributed{
		publisher: cfg.Publisher,
		consumer:  cfg.Consumer,
		handler:   cfg.Handler,
		gate:      gate,
		workerID:  cfg.WorkerID,
		prefetch:  prefetch,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

func (q *Distributed) Submit(ctx context.Context, job JobDescriptor) error {
	if err := job.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	headers := amqp.Table{"correlation_id": job.CorrelationID}
	if err := q.publisher.Publish(ctx, body, "application/json", headers); err != nil {
		return fmt.Errorf("failed to submit job: %w", err)
	}

	q.logger.Info("Job submitted",
		slog.String("state", StateSubmitted),
		slog.String("correlation_id", job.CorrelationID),
		slog.String("identity", job.Identity),
	)
	q.metrics.JobTransition(StateSubmitted)
	return nil
}

// Run consumes until ctx is canceled or the broker closes the stream or
// the channel under it.
func (q *Distributed) Run(ctx context.Context) error {
	deliveries, err := q.consumer.Consume(q.workerID, q.prefetch)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	closed := q.consumer.NotifyClosed()

	q.logger.Info("Job consumer started",
		slog.String("worker_id", q.workerID),
		slog.Int("prefetch_count", q.prefetch),
	)

	for {
		select {
		case <-ctx.Done():
			q.logger.Info("Job consumer stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				q.logger.Warn("RabbitMQ delivery channel closed")
				return ErrConsumerClosed
			}
			q.handleDelivery(ctx, delivery)

		case amqpErr, ok := <-closed:
			if !ok || amqpErr == nil {
				closed = nil
				continue
			}
			q.logger.Error("RabbitMQ channel closed",
				slog.Int("code", amqpErr.Code),
				slog.String("reason", amqpErr.Reason),
			)
			return fmt.Errorf("%w: %v", ErrConsumerClosed, amqpErr)
		}
	}
}

func (q *Distributed) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var job JobDescriptor
	if err := json.Unmarshal(delivery.Body, &job); err != nil {
		q.reject(delivery, "Failed to parse job message", err)
		return
	}
	if err := job.Validate(); err != nil {
		q.reject(delivery, "Invalid job message", err)
		return
	}

	q.logger.Info("Job dequeued",
		slog.String("state", StateDequeued),
		slog.String("correlation_id", job.CorrelationID),
		slog.Uint64("delivery_tag", delivery.DeliveryTag),
	)
	q.metrics.JobTransition(StateDequeued)

	release, err := q.gate.Acquire(ctx)
	if err != nil {
		// Shutdown or gate backend failure: hand the job back to the broker.
		q.logger.Warn("Job gate not acquired, requeueing",
			slog.String("correlation_id", job.CorrelationID),
			slog.Any("error", err),
		)
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			q.logger.Error("Failed to NACK message",
				slog.Any("error", nackErr),
			)
		}
		return
	}

	// Errors are logged by the handler; failed jobs are not retried.
	_ = q.handler.Process(context.WithoutCancel(ctx), job)
	release()

	if ackErr := delivery.Ack(false); ackErr != nil {
		q.logger.Error("Failed to ACK message",
			slog.String("correlation_id", job.CorrelationID),
			slog.Any("error", ackErr),
		)
	}
}

// reject drops a malformed message; requeueing would loop forever.
func (q *Distributed) reject(delivery amqp.Delivery, msg string, err error) {
	q.logger.Error(msg,
		slog.Any("error", err),
		slog.String("body", string(delivery.Body)),
	)
	if nackErr := delivery.Nack(false, false); nackErr != nil {
		q.logger.Error("Failed to NACK malformed message",
			slog.Any("error", nackErr),
		)
	}
}
