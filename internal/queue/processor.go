package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/limitrofe/stickers/internal/metrics"
	"github.com/limitrofe/stickers/internal/pipeline"
	"github.com/limitrofe/stickers/internal/staging"
)

const cleanupTimeout = 10 * time.Second

// Converter turns raw image bytes into a sticker.
type Converter interface {
	Process(ctx context.Context, raw []byte) pipeline.Result
}

// StickerSender delivers a finished sticker to its requester.
type StickerSender interface {
	SendSticker(ctx context.Context, identity string, data []byte) error
}

// ProcessorConfig holds processor dependencies
type ProcessorConfig struct {
	Store      staging.Store
	Converter  Converter
	Sender     StickerSender
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	JobTimeout time.Duration
}

// Processor executes one job: read staging, convert, deliver, and always
// delete the staging artifact.
type Processor struct {
	store      staging.Store
	converter  Converter
	sender     StickerSender
	logger     *slog.Logger
	metrics    *metrics.Metrics
	jobTimeout time.Duration
}

func NewProcessor(cfg *ProcessorConfig) *Processor {
	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Processor{
		store:      cfg.Store,
		converter:  cfg.Converter,
		sender:     cfg.Sender,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		jobTimeout: timeout,
	}
}

func (p *Processor) Process(ctx context.Context, job JobDescriptor) error {
	start := time.Now()
	logger := p.jobLogger(job)

	logger.Info("Processing job", slog.String("state", StateProcessing))
	p.metrics.JobTransition(StateProcessing)

	jobCtx, cancel := context.WithTimeout(ctx, p.jobTimeout)
	defer cancel()

	res, err := p.execute(jobCtx, job)
	p.cleanup(logger, job)

	elapsed := time.Since(start)
	if err != nil {
		logger.Error("Job failed",
			slog.String("state", StateFailed),
			slog.Duration("elapsed", elapsed),
			slog.Any("error", err),
		)
		p.metrics.JobTransition(StateFailed)
		p.metrics.JobFinished(StateFailed, elapsed)
		return err
	}

	logger.Info("Job succeeded",
		slog.String("state", StateSucceeded),
		slog.Duration("elapsed", elapsed),
		slog.Int("sticker_bytes", len(res.Data)),
		slog.Any("degraded", res.Degraded),
	)
	p.metrics.JobTransition(StateSucceeded)
	p.metrics.JobFinished(StateSucceeded, elapsed)
	return nil
}

func (p *Processor) execute(ctx context.Context, job JobDescriptor) (pipeline.Result, error) {
	raw, err := p.store.Get(ctx, job.StagingRef)
	if errors.Is(err, staging.ErrNotFound) {
		return pipeline.Result{}, fmt.Errorf("%w: %s", ErrStagingMissing, job.StagingRef)
	}
	if err != nil {
		return pipeline.Result{}, fmt.Errorf("failed to read staging artifact: %w", err)
	}

	res := p.converter.Process(ctx, raw)
	if !res.Success() {
		cause := res.Err
		if cause == nil {
			cause = pipeline.ErrEmptyOutput
		}
		return res, fmt.Errorf("%w at %s: %w", ErrConversionFailed, res.FailureStage(), cause)
	}

	if err := p.sender.SendSticker(ctx, job.Identity, res.Data); err != nil {
		return res, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return res, nil
}

// Abandon deletes the artifact of a job dropped before processing.
func (p *Processor) Abandon(_ context.Context, job JobDescriptor) {
	logger := p.jobLogger(job)
	logger.Warn("Job dropped before processing", slog.String("state", StateFailed))
	p.metrics.JobTransition(StateFailed)
	p.cleanup(logger, job)
}

// cleanup runs on a fresh context so an expired job deadline still removes
// the artifact.
func (p *Processor) cleanup(logger *slog.Logger, job JobDescriptor) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := p.store.Delete(ctx, job.StagingRef); err != nil {
		logger.Warn("Failed to delete staging artifact", slog.Any("error", err))
		return
	}
	logger.Debug("Staging artifact deleted")
}

func (p *Processor) jobLogger(job JobDescriptor) *slog.Logger {
	return p.logger.With(
		slog.String("correlation_id", job.CorrelationID),
		slog.String("identity", job.Identity),
		slog.String("staging_ref", job.StagingRef),
	)
}
