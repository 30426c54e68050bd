package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight *prometheus.GaugeVec
	apiErrorsTotal       *prometheus.CounterVec

	backtestRuns       *prometheus.CounterVec
	backtestDuration   prometheus.Histogram
	queueDepth         prometheus.Gauge
	leaseConflicts     prometheus.Counter
	barsProcessedTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
			[]string{"method", "endpoint"},
		),
		apiErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"endpoint", "error_type"},
		),
		backtestRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_runs_total",
				Help: "Total number of finished backtest runs by final status",
			},
			[]string{"status"},
		),
		backtestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "backtest_run_duration_seconds",
				Help:    "Wall-clock duration of backtest runs",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "backtest_queue_depth",
				Help: "Number of backtest tasks waiting or running",
			},
		),
		leaseConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "backtest_lease_conflicts_total",
				Help: "Submissions rejected because the execution lease was held",
			},
		),
		barsProcessedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "backtest_bars_processed_total",
				Help: "Total number of bars stepped across all runs",
			},
		),
	}

	prometheus.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpRequestsInFlight,
		m.apiErrorsTotal,
		m.backtestRuns,
		m.backtestDuration,
		m.queueDepth,
		m.leaseConflicts,
		m.barsProcessedTotal,
	)

	return m
}

// MetricsMiddleware creates a Prometheus metrics middleware
func (m *Metrics) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		m.httpRequestsInFlight.WithLabelValues(c.Request.Method, path).Inc()
		defer m.httpRequestsInFlight.WithLabelValues(c.Request.Method, path).Dec()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)

		if c.Writer.Status() >= 400 {
			errorType := "client_error"
			if c.Writer.Status() >= 500 {
				errorType = "server_error"
			}
			m.apiErrorsTotal.WithLabelValues(path, errorType).Inc()
		}
	}
}

// PrometheusHandler returns the Prometheus metrics handler
func PrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// RecordRun records one finished run with its final status
func (m *Metrics) RecordRun(status string, duration time.Duration) {
	m.backtestRuns.WithLabelValues(status).Inc()
	m.backtestDuration.Observe(duration.Seconds())
}

// RecordLeaseConflict records a submission refused by a held lease
func (m *Metrics) RecordLeaseConflict() {
	m.leaseConflicts.Inc()
}

// SetQueueDepth sets the number of outstanding tasks
func (m *Metrics) SetQueueDepth(n float64) {
	m.queueDepth.Set(n)
}

// AddBarsProcessed adds to the global bar counter
func (m *Metrics) AddBarsProcessed(n int) {
	m.barsProcessedTotal.Add(float64(n))
}
