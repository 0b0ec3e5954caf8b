package router

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/limitrofe/stickers/internal/api/handler"
	"github.com/limitrofe/stickers/internal/metrics"
)

// Options holds what the router serves besides the event handler.
type Options struct {
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	StaticDir string
	// MaxEventBytes caps POST /api/v1/events bodies; 0 disables the cap.
	MaxEventBytes int64
	// Checks back GET /ready, keyed by backend name.
	Checks map[string]func(context.Context) error
}

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(events *handler.EventHandler, opts *Options) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(opts.Logger, "/health", "/ready", "/metrics"))
	r.Use(CORSMiddleware())
	r.Use(metrics.GinMiddleware(opts.Metrics))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	r.GET("/ready", readinessHandler(opts.Checks))

	if opts.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	{
		// POST /api/v1/events - Submit an inbound message
		v1.POST("/events", BodyLimitMiddleware(opts.MaxEventBytes), events.ReceiveEvent)

		// GET /api/v1/outbox/:identity - Drain pending replies
		v1.GET("/outbox/:identity", events.DrainOutbox)

		// GET /api/v1/usage/:identity - Today's quota usage
		v1.GET("/usage/:identity", events.GetUsage)
	}

	if opts.StaticDir != "" {
		files := http.FileServer(gin.Dir(opts.StaticDir, false))
		r.NoRoute(func(c *gin.Context) {
			if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			files.ServeHTTP(c.Writer, c.Request)
		})
	}

	return r
}

const readinessTimeout = 2 * time.Second

// readinessHandler runs every check and answers 503 when any fails.
func readinessHandler(checks map[string]func(context.Context) error) gin.HandlerFunc {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
		defer cancel()

		status := http.StatusOK
		results := make(gin.H, len(names))
		for _, name := range names {
			if err := checks[name](ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = err.Error()
				continue
			}
			results[name] = "ok"
		}

		state := "ready"
		if status != http.StatusOK {
			state = "unavailable"
		}
		c.JSON(status, gin.H{"status": state, "checks": results})
	}
}
