package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/limitrofe/stickers/internal/api/handler"
	"github.com/limitrofe/stickers/internal/api/router"
	"github.com/limitrofe/stickers/internal/bootstrap"
	"github.com/limitrofe/stickers/internal/config"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("STICKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/sticker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting sticker API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("queue_mode", cfg.QueueMode()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer app.Close()

	// The queue worker runs until shutdown so the HTTP server drains first.
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	// nil when disabled, so the select below never picks it.
	var workerDone chan error
	if cfg.WorkerEnabled() {
		workerDone = make(chan error, 1)
		go func() {
			workerDone <- app.Worker.Run(workerCtx)
		}()
	} else {
		appLogger.Info("Queue worker disabled in this process")
	}

	events := handler.NewEventHandler(&handler.Dependencies{
		Logger:      appLogger.Logger,
		Intake:      app.NewController(),
		Outbox:      outboxReader(app),
		Usage:       app.Limiter,
		DailyLimit:  cfg.Limits.DailyLimit,
		MaxInflight: cfg.Server.MaxInflightEvents,
	})

	r := initRouter(cfg, app, events)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	var runErr error
	select {
	case <-ctx.Done():
		appLogger.Info("Received signal, shutting down gracefully")
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		runErr = err
	case err := <-workerDone:
		appLogger.Error("Queue worker stopped unexpectedly", slog.Any("error", err))
		runErr = err
		workerDone = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
	}

	// Events already accepted finish intake before the queue stops.
	events.Wait()

	stopWorker()
	if workerDone != nil {
		select {
		case <-workerDone:
			appLogger.Info("Queue worker stopped")
		case <-time.After(cfg.Worker.ShutdownTimeout):
			appLogger.Warn("Queue worker shutdown timeout exceeded, forcing exit")
		}
	}

	appLogger.Info("API service shutdown complete")
	return runErr
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// outboxReader returns nil in distributed mode, where replies go out over
// the broker.
func outboxReader(app *bootstrap.App) handler.OutboxReader {
	if app.Outbox == nil {
		return nil
	}
	return app.Outbox
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, app *bootstrap.App, events *handler.EventHandler) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(events, &router.Options{
		Logger:        app.Logger,
		Metrics:       app.Metrics,
		Gatherer:      app.Registry,
		StaticDir:     cfg.Server.StaticDir,
		MaxEventBytes: router.EventBodyLimit(cfg.Limits.MaxFileBytes),
		Checks:        app.Checks,
	})
}
