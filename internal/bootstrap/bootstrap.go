// Package bootstrap assembles the service components from configuration.
// Both binaries share it so that the queue, staging and delivery wiring
// cannot drift between them.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/limitrofe/stickers/internal/admission"
	"github.com/limitrofe/stickers/internal/clock"
	"github.com/limitrofe/stickers/internal/config"
	"github.com/limitrofe/stickers/internal/delivery"
	"github.com/limitrofe/stickers/internal/intake"
	"github.com/limitrofe/stickers/internal/metrics"
	"github.com/limitrofe/stickers/internal/pipeline"
	"github.com/limitrofe/stickers/internal/queue"
	"github.com/limitrofe/stickers/internal/staging"
	"github.com/limitrofe/stickers/shared/logger"
	"github.com/limitrofe/stickers/shared/minio"
	"github.com/limitrofe/stickers/shared/postgresql"
	"github.com/limitrofe/stickers/shared/rabbitmq"
	"github.com/limitrofe/stickers/shared/redis"
)

// ErrBrokerRequired is returned when a role needs the distributed queue but
// no broker is configured.
var ErrBrokerRequired = errors.New("rabbitmq host is required")

// Runner drains a queue until its context is canceled.
type Runner interface {
	Run(ctx context.Context) error
}

// App holds the assembled components. Optional backends are nil when not
// configured.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Limiter  *admission.RateLimiter
	Stats    *admission.RedisStats
	Store    staging.Store
	Delivery delivery.Delivery
	Outbox   *delivery.Outbox
	Queue    queue.Queue
	Worker   Runner

	// Checks ping each configured backend for the readiness endpoint.
	Checks map[string]func(context.Context) error

	closers []func() error
}

// InitLogger builds the application logger from config.
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:          cfg.Level,
		Format:         cfg.Format,
		Output:         cfg.Output,
		EnableSource:   cfg.EnableCaller,
		TimeFormat:     time.RFC3339,
		MaskIdentities: cfg.MaskIdentities,
	})
}

// New connects every configured backend and wires the job path. Any
// backend that is configured but unreachable fails startup.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *App, err error) {
	app := &App{
		Config:   cfg,
		Logger:   log,
		Registry: prometheus.NewRegistry(),
		Checks:   make(map[string]func(context.Context) error),
	}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	app.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.Metrics = metrics.New(app.Registry, metrics.Config{
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
	})

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	usage, err := app.initUsageStore(ctx)
	if err != nil {
		return nil, err
	}
	app.Limiter = admission.NewRateLimiter(usage, clock.SystemClock{}, loc, log)

	var rdb *goredis.Client
	if cfg.Redis.Host != "" {
		rdb, err = redis.NewClient(&redis.Config{
			Host:        cfg.Redis.Host,
			Port:        cfg.Redis.Port,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.DialTimeout,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}
		app.closers = append(app.closers, rdb.Close)
		app.Checks["redis"] = func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}
		app.Stats = admission.NewRedisStats(rdb,
			admission.WithStatsPrefix(cfg.Redis.KeyPrefix+":admission"),
			admission.WithStatsTTL(cfg.Redis.StatsTTL),
		)
	}

	if app.Store, err = app.initStaging(ctx); err != nil {
		return nil, err
	}

	conv, err := BuildPipeline(cfg, log, app.Metrics)
	if err != nil {
		return nil, err
	}

	gate := BuildGate(cfg, rdb)

	switch cfg.QueueMode() {
	case config.ModeDistributed:
		err = app.initDistributed(conv, gate)
	default:
		app.initEmbedded(conv, gate)
	}
	if err != nil {
		return nil, err
	}

	log.Info("Components initialized",
		slog.String("queue_mode", cfg.QueueMode()),
		slog.String("staging", cfg.Staging.Driver),
		slog.Bool("redis", rdb != nil),
		slog.Bool("postgres", cfg.Database.Host != ""),
		slog.Bool("background_removal", cfg.Pipeline.Remover.Command != ""),
	)

	return app, nil
}

// NewController builds the intake controller over the app's components.
func (a *App) NewController() *intake.Controller {
	cfg := a.Config
	ctrl := intake.Config{
		Limiter:           a.Limiter,
		Store:             a.Store,
		Queue:             a.Queue,
		Notifier:          a.Delivery,
		Metrics:           a.Metrics,
		Logger:            a.Logger,
		DailyLimit:        cfg.Limits.DailyLimit,
		MaxFileBytes:      cfg.Limits.MaxFileBytes,
		IgnoredSuffixes:   cfg.Intake.IgnoredSuffixes,
		IgnoredIdentities: cfg.Intake.IgnoredIdentities,
		LimitNotice:       cfg.Intake.LimitNotice,
		SizeNotice:        cfg.Intake.SizeNotice,
	}
	if a.Stats != nil {
		ctrl.Stats = a.Stats
	}
	return intake.NewController(ctrl)
}

// Close releases backends in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Error("Failed to close resource", slog.Any("error", err))
		}
	}
	a.closers = nil
}

// BuildPipeline assembles the conversion stages. An empty remover command
// skips background removal.
func BuildPipeline(cfg *config.Config, log *slog.Logger, m *metrics.Metrics) (*pipeline.Pipeline, error) {
	bg, err := pipeline.ParseBackground(cfg.Sticker.Background)
	if err != nil {
		return nil, err
	}

	enc, err := pipeline.NewStickerEncoder(pipeline.EncoderOptions{
		Size:       cfg.Sticker.Size,
		Crop:       cfg.Sticker.Crop,
		Quality:    cfg.Sticker.Quality,
		Background: bg,
		PackName:   cfg.Sticker.Pack,
		Publisher:  cfg.Sticker.Author,
		Emojis:     cfg.Sticker.Emojis,
	})
	if err != nil {
		return nil, err
	}

	var remover pipeline.BackgroundRemover
	if rc := cfg.Pipeline.Remover; rc.Command != "" {
		remover = pipeline.NewCommandRemover(rc.Command, rc.Args, rc.Timeout)
	}

	o := cfg.Pipeline.Outline
	outliner := pipeline.NewOutliner(pipeline.OutlineOptions{
		CanvasSize: o.CanvasSize,
		InnerSize:  o.InnerSize,
		BlurSigma:  o.BlurSigma,
		Threshold:  o.Threshold,
	})

	return pipeline.New(remover, outliner, enc, log, m), nil
}

// BuildGate returns a Redis-backed gate when rdb is set, so every worker
// process shares one slot; otherwise a process-local one.
func BuildGate(cfg *config.Config, rdb *goredis.Client) queue.Gate {
	if rdb == nil {
		return queue.NewLocalGate(cfg.Queue.MinInterval)
	}
	return queue.NewRedisGate(rdb, cfg.Queue.MinInterval,
		queue.WithGatePrefix(cfg.Redis.KeyPrefix),
		queue.WithLockTTL(cfg.Redis.LockTTL),
		queue.WithPollEvery(cfg.Redis.PollEvery),
	)
}

func (a *App) initUsageStore(ctx context.Context) (admission.UsageStore, error) {
	dc := a.Config.Database
	if dc.Host == "" {
		return admission.NewMemoryUsageStore(), nil
	}

	client, err := postgresql.NewClient(&postgresql.Config{
		Host:            dc.Host,
		Port:            dc.Port,
		User:            dc.User,
		Password:        dc.Password,
		Database:        dc.Database,
		SSLMode:         dc.SSLMode,
		MaxOpenConns:    dc.MaxOpenConns,
		MaxIdleConns:    dc.MaxIdleConns,
		ConnMaxLifetime: dc.ConnMaxLifetime,
		ConnMaxIdleTime: dc.ConnMaxIdleTime,
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	a.Checks["postgres"] = client.HealthCheck

	store := admission.NewPostgresUsageStore(client.GetDB())
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (a *App) initStaging(ctx context.Context) (staging.Store, error) {
	sc := a.Config.Staging
	if sc.Driver != config.StagingDriverMinio {
		store, err := staging.NewDirStore(sc.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize staging dir: %w", err)
		}
		return store, nil
	}

	client, err := minio.NewClient(ctx, &minio.Config{
		Endpoint:  sc.Minio.Endpoint,
		AccessKey: sc.Minio.AccessKey,
		SecretKey: sc.Minio.SecretKey,
		UseSSL:    sc.Minio.UseSSL,
		Bucket:    sc.Minio.Bucket,
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO: %w", err)
	}
	bucket := sc.Minio.Bucket
	a.Checks["minio"] = func(ctx context.Context) error {
		exists, err := client.BucketExists(ctx, bucket)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("bucket %q not found", bucket)
		}
		return nil
	}
	return staging.NewMinioStore(client, sc.Minio.Bucket, sc.Minio.Prefix), nil
}

func (a *App) newProcessor(conv queue.Converter) *queue.Processor {
	return queue.NewProcessor(&queue.ProcessorConfig{
		Store:      a.Store,
		Converter:  conv,
		Sender:     a.Delivery,
		Logger:     a.Logger,
		Metrics:    a.Metrics,
		JobTimeout: a.Config.Worker.JobTimeout,
	})
}

func (a *App) initEmbedded(conv queue.Converter, gate queue.Gate) {
	a.Logger.Warn("No broker configured, using the embedded queue; jobs are lost on restart. Configure RABBITMQ_HOST for production")

	a.Outbox = delivery.NewOutbox(0, a.Logger)
	a.Delivery = a.Outbox

	q := queue.NewEmbedded(&queue.EmbeddedConfig{
		Handler: a.newProcessor(conv),
		Gate:    gate,
		Delay:   a.Config.Queue.EmbeddedDelay,
		Buffer:  a.Config.Queue.Buffer,
		Logger:  a.Logger,
		Metrics: a.Metrics,
	})
	a.Queue = q
	a.Worker = q
}

func (a *App) initDistributed(conv queue.Converter, gate queue.Gate) error {
	rc := a.Config.RabbitMQ

	jobs, err := rabbitmq.NewClient(rabbitConfig(&rc, rc.Exchange, rc.Queue, rc.RoutingKey), a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	a.closers = append(a.closers, jobs.Close)

	out := rc.Outbound
	outbound, err := rabbitmq.NewClient(rabbitConfig(&rc, out.Exchange, out.Queue, out.RoutingKey), a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize outbound RabbitMQ: %w", err)
	}
	a.closers = append(a.closers, outbound.Close)
	a.Checks["rabbitmq"] = func(context.Context) error {
		if !jobs.IsConnected() || !outbound.IsConnected() {
			return errors.New("not connected")
		}
		return nil
	}

	a.Delivery = delivery.NewBroker(outbound, a.Logger)

	q := queue.NewDistributed(&queue.DistributedConfig{
		Publisher: jobs,
		Consumer:  jobs,
		Handler:   a.newProcessor(conv),
		Gate:      gate,
		WorkerID:  workerID(),
		Prefetch:  rc.Consumer.PrefetchCount,
		Logger:    a.Logger,
		Metrics:   a.Metrics,
	})
	a.Queue = q
	a.Worker = q
	return nil
}

func rabbitConfig(rc *config.RabbitMQConfig, ex config.ExchangeConfig, qc config.QueueConfig, routingKey string) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               rc.Host,
		Port:               rc.Port,
		User:               rc.User,
		Password:           rc.Password,
		VHost:              rc.VHost,
		ExchangeName:       ex.Name,
		ExchangeType:       ex.Type,
		ExchangeDurable:    ex.Durable,
		ExchangeAutoDelete: ex.AutoDelete,
		QueueName:          qc.Name,
		QueueDurable:       qc.Durable,
		QueueAutoDelete:    qc.AutoDelete,
		QueueExclusive:     qc.Exclusive,
		RoutingKey:         routingKey,
		RetryAttempts:      rc.Connection.RetryAttempts,
		RetryInterval:      rc.Connection.RetryInterval,
		Heartbeat:          rc.Connection.Heartbeat,
		ConnectionTimeout:  rc.Connection.ConnectionTimeout,
		PublishRetries:     rc.Publish.RetryAttempts,
		PublishRetryDelay:  rc.Publish.RetryInterval,
		PublishBackoffMult: rc.Publish.BackoffMultiplier,
	}
}

func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
