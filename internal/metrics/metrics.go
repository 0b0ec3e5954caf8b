package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Config labels every series with the emitting service.
type Config struct {
	ServiceName string
	Environment string
}

// Metrics holds the service's Prometheus collectors. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	jobs            *prometheus.CounterVec
	jobDuration     prometheus.Histogram
	degradations    *prometheus.CounterVec
	admissions      *prometheus.CounterVec
	jobTransitions  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func New(registerer prometheus.Registerer, cfg Config) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "sticker-service"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}

	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "stickers_jobs_total",
			Help:        "Sticker jobs that reached a terminal state.",
			ConstLabels: constLabels,
		},
		[]string{"result"}, // succeeded | failed
	)

	jobDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:        "stickers_job_duration_seconds",
			Help:        "Time from dequeue to terminal state.",
			Buckets:     []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
			ConstLabels: constLabels,
		},
	)

	degradations := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "stickers_stage_degradations_total",
			Help:        "Pipeline stages that failed and forwarded their input.",
			ConstLabels: constLabels,
		},
		[]string{"stage"},
	)

	admissions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "stickers_admissions_total",
			Help:        "Inbound events by admission outcome.",
			ConstLabels: constLabels,
		},
		[]string{"outcome"},
	)

	jobTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "stickers_job_transitions_total",
			Help:        "Job state machine transitions.",
			ConstLabels: constLabels,
		},
		[]string{"state"}, // submitted | dequeued | processing | succeeded | failed
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:        "stickers_http_request_duration_seconds",
			Help:        "HTTP request latency by route and status.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: constLabels,
		},
		[]string{"endpoint", "status_code"},
	)

	registerer.MustRegister(
		jobs,
		jobDuration,
		degradations,
		admissions,
		jobTransitions,
		requestDuration,
	)

	return &Metrics{
		jobs:            jobs,
		jobDuration:     jobDuration,
		degradations:    degradations,
		admissions:      admissions,
		jobTransitions:  jobTransitions,
		requestDuration: requestDuration,
	}
}

func (m *Metrics) JobFinished(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(result).Inc()
	m.jobDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) JobTransition(state string) {
	if m == nil {
		return
	}
	m.jobTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) StageDegraded(stage string) {
	if m == nil {
		return
	}
	m.degradations.WithLabelValues(stage).Inc()
}

func (m *Metrics) Admission(outcome string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(outcome).Inc()
}

// GinMiddleware records request latency labelled by route template.
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		m.requestDuration.
			WithLabelValues(endpoint, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
