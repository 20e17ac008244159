package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for an optimization run.
// A Metrics built with metrics disabled ignores every call.
type Metrics struct {
	config MetricsConfig

	// Query metrics
	queries       *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec
	cacheHits     *prometheus.CounterVec

	// Stage metrics
	stageRuns     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec

	// Design metrics
	designsCreated prometheus.Counter
	currentDesign  prometheus.Gauge

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.StageBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_total",
				Help:      "Total number of optimizer queries",
			},
			[]string{"query", "status"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "Duration of optimizer queries in seconds, including solver runs",
				Buckets:   buckets,
			},
			[]string{"query"},
		),
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "query_cache_hits_total",
				Help:      "Total number of queries answered from the current design",
			},
			[]string{"query"},
		),

		stageRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_runs_total",
				Help:      "Total number of solver stage runs",
			},
			[]string{"stage", "status"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of solver stage runs in seconds",
				Buckets:   buckets,
			},
			[]string{"stage"},
		),

		designsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "designs_created_total",
				Help:      "Total number of distinct designs evaluated",
			},
		),
		currentDesign: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "current_design",
				Help:      "Index of the current design",
			},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.queries,
		m.queryDuration,
		m.cacheHits,
		m.stageRuns,
		m.stageDuration,
		m.designsCreated,
		m.currentDesign,
		m.errorsByClass,
		m.errorsByCode,
	)

	return m, nil
}

// Query Metrics

// RecordQuery records a finished optimizer query.
func (m *Metrics) RecordQuery(query, status string, duration time.Duration) {
	if m.queries == nil {
		return
	}
	m.queries.WithLabelValues(query, status).Inc()
	m.queryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// RecordCacheHit records a query answered without running a stage.
func (m *Metrics) RecordCacheHit(query string) {
	if m.cacheHits == nil {
		return
	}
	m.cacheHits.WithLabelValues(query).Inc()
}

// Stage Metrics

// RecordStageRun records a finished solver stage.
func (m *Metrics) RecordStageRun(stage, status string, duration time.Duration) {
	if m.stageRuns == nil {
		return
	}
	m.stageRuns.WithLabelValues(stage, status).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// Design Metrics

// RecordDesignCreated records a new current design.
func (m *Metrics) RecordDesignCreated(index int) {
	if m.designsCreated == nil {
		return
	}
	m.designsCreated.Inc()
	m.currentDesign.Set(float64(index))
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Registry returns the private registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server exposing metrics. It returns
// nil without listening when metrics are disabled or no address is set.
// Serve errors are passed to onError.
func (m *Metrics) StartMetricsServer(onError func(error)) *http.Server {
	if !m.config.Enabled || m.config.ListenAddress == "" {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) && onError != nil {
			onError(err)
		}
	}()

	return server
}
