package queue

import "errors"

var (
	// ErrStagingMissing is returned when a job's staging artifact is gone
	ErrStagingMissing = errors.New("staging artifact missing")

	// ErrDeliveryFailed is returned when the finished sticker cannot be sent
	ErrDeliveryFailed = errors.New("sticker delivery failed")

	// ErrConversionFailed is returned when the pipeline produced no sticker
	ErrConversionFailed = errors.New("sticker conversion failed")

	// ErrInvalidDescriptor is returned for descriptors missing required fields
	ErrInvalidDescriptor = errors.New("invalid job descriptor")

	// ErrQueueClosed is returned by Submit after shutdown began
	ErrQueueClosed = errors.New("queue closed")

	// ErrConsumerClosed is returned by Run when the broker stops delivering
	ErrConsumerClosed = errors.New("delivery channel closed")

	// ErrGateUnavailable is returned when the shared gate backend fails
	ErrGateUnavailable = errors.New("job gate unavailable")
)
