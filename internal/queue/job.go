package queue

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// JobDescriptor is the unit of work handed from intake to a worker. It is
// built once and consumed exactly once.
type JobDescriptor struct {
	Identity      string    `json:"identity"`
	StagingRef    string    `json:"staging_ref"`
	CorrelationID string    `json:"correlation_id"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

func (j JobDescriptor) Validate() error {
	if strings.TrimSpace(j.Identity) == "" {
		return fmt.Errorf("%w: identity is required", ErrInvalidDescriptor)
	}
	if strings.TrimSpace(j.StagingRef) == "" {
		return fmt.Errorf("%w: staging_ref is required", ErrInvalidDescriptor)
	}
	return nil
}

// Job states
const (
	StateSubmitted  = "submitted"
	StateDequeued   = "dequeued"
	StateProcessing = "processing"
	StateSucceeded  = "succeeded"
	StateFailed     = "failed"
)

// Queue accepts jobs for asynchronous processing. An error means the job was
// not accepted; processing outcomes are never reported back.
type Queue interface {
	Submit(ctx context.Context, job JobDescriptor) error
}

// Handler runs dequeued jobs. Abandon releases the resources of a job that
// will never be processed.
type Handler interface {
	Process(ctx context.Context, job JobDescriptor) error
	Abandon(ctx context.Context, job JobDescriptor)
}
