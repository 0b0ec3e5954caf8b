package intake

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/limitrofe/stickers/internal/admission"
	"github.com/limitrofe/stickers/internal/metrics"
	"github.com/limitrofe/stickers/internal/queue"
	"github.com/limitrofe/stickers/internal/staging"
)

// Event is one inbound message from the transport bridge. Data takes
// precedence over DataBase64 when both are set.
type Event struct {
	Identity   string `json:"identity"`
	HasMedia   bool   `json:"has_media"`
	MediaType  string `json:"media_type"`
	MimeType   string `json:"mimetype"`
	DataBase64 string `json:"data"`
	Data       []byte `json:"-"`
	EventID    string `json:"event_id"`
}

// Limiter consumes one unit of an identity's daily quota.
type Limiter interface {
	CheckAndConsume(ctx context.Context, identity string, limit int) bool
}

// Notifier sends user-visible notices.
type Notifier interface {
	SendNotice(ctx context.Context, identity, text string) error
}

// Config holds controller dependencies and admission settings
type Config struct {
	Limiter           Limiter
	Store             staging.Store
	Queue             queue.Queue
	Notifier          Notifier
	Stats             admission.StatsRecorder
	Metrics           *metrics.Metrics
	Logger            *slog.Logger
	DailyLimit        int
	MaxFileBytes      int64
	IgnoredSuffixes   []string
	IgnoredIdentities []string
	LimitNotice       string
	SizeNotice        string
}

// Controller admits inbound images and submits accepted ones for
// conversion. Gates run in order: source, media type, daily quota, size,
// content type.
type Controller struct {
	cfg Config
	now func() time.Time
}

func NewController(cfg Config) *Controller {
	return &Controller{cfg: cfg, now: time.Now}
}

func (c *Controller) Handle(ctx context.Context, ev Event) admission.Outcome {
	outcome := c.handle(ctx, ev)
	c.cfg.Metrics.Admission(string(outcome))
	if c.cfg.Stats != nil {
		if err := c.cfg.Stats.Record(ctx, outcome, c.now()); err != nil {
			c.cfg.Logger.Warn("Failed to record admission stats", slog.Any("error", err))
		}
	}
	return outcome
}

func (c *Controller) handle(ctx context.Context, ev Event) admission.Outcome {
	logger := c.cfg.Logger.With(
		slog.String("identity", ev.Identity),
		slog.String("event_id", ev.EventID),
	)

	if c.ignored(ev.Identity) {
		logger.Debug("Event from ignored source")
		return admission.OutcomeIgnored
	}
	if !ev.HasMedia || ev.MediaType != "image" {
		logger.Debug("Event without image media", slog.String("media_type", ev.MediaType))
		return admission.OutcomeIgnored
	}

	logger.Info("Image received")

	if !c.cfg.Limiter.CheckAndConsume(ctx, ev.Identity, c.cfg.DailyLimit) {
		logger.Info("Daily limit reached", slog.Int("limit", c.cfg.DailyLimit))
		c.notify(ctx, logger, ev.Identity, fmt.Sprintf(c.cfg.LimitNotice, c.cfg.DailyLimit))
		return admission.OutcomeRateLimited
	}

	data, err := eventBytes(ev)
	if err != nil {
		logger.Warn("Failed to decode media", slog.Any("error", err))
		return admission.OutcomeRejectedMedia
	}

	size := int64(len(data))
	if !admission.IsAcceptable(size, c.cfg.MaxFileBytes) {
		logger.Info("File too large",
			slog.Int64("bytes", size),
			slog.Int64("max_bytes", c.cfg.MaxFileBytes),
		)
		c.notify(ctx, logger, ev.Identity, fmt.Sprintf(c.cfg.SizeNotice, toKB(size), toKB(c.cfg.MaxFileBytes)))
		return admission.OutcomeTooLarge
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		logger.Info("Media is not an image",
			slog.String("detected", mt.String()),
			slog.String("declared", ev.MimeType),
		)
		return admission.OutcomeRejectedMedia
	}

	return c.submit(ctx, logger, ev, data, mt.Extension())
}

func (c *Controller) submit(ctx context.Context, logger *slog.Logger, ev Event, data []byte, ext string) admission.Outcome {
	ref, err := c.cfg.Store.Put(ctx, staging.ArtifactName(ev.EventID, ext), data)
	if err != nil {
		logger.Error("Failed to stage image", slog.Any("error", err))
		return admission.OutcomeFailed
	}

	job := queue.JobDescriptor{
		Identity:      ev.Identity,
		StagingRef:    ref,
		CorrelationID: uuid.NewString(),
		SubmittedAt:   c.now().UTC(),
	}

	if err := c.cfg.Queue.Submit(ctx, job); err != nil {
		logger.Error("Failed to submit job",
			slog.String("correlation_id", job.CorrelationID),
			slog.Any("error", err),
		)
		if delErr := c.cfg.Store.Delete(context.WithoutCancel(ctx), ref); delErr != nil {
			logger.Warn("Failed to delete staging artifact", slog.Any("error", delErr))
		}
		return admission.OutcomeFailed
	}

	logger.Info("Image queued",
		slog.String("correlation_id", job.CorrelationID),
		slog.String("staging_ref", ref),
		slog.Int("bytes", len(data)),
	)
	return admission.OutcomeAccepted
}

func (c *Controller) ignored(identity string) bool {
	for _, id := range c.cfg.IgnoredIdentities {
		if identity == id {
			return true
		}
	}
	for _, suffix := range c.cfg.IgnoredSuffixes {
		if strings.HasSuffix(identity, suffix) {
			return true
		}
	}
	return false
}

// notify failures are logged only; the admission decision stands.
func (c *Controller) notify(ctx context.Context, logger *slog.Logger, identity, text string) {
	if err := c.cfg.Notifier.SendNotice(ctx, identity, text); err != nil {
		logger.Error("Failed to send notice", slog.Any("error", err))
	}
}

func eventBytes(ev Event) ([]byte, error) {
	if ev.Data != nil {
		return ev.Data, nil
	}
	data, err := base64.StdEncoding.DecodeString(ev.DataBase64)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 payload: %w", err)
	}
	return data, nil
}

func toKB(n int64) int64 {
	return int64(math.Round(float64(n) / 1024))
}
