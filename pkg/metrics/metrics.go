// Package metrics exposes Prometheus collectors for the HTTP API and the live-session engine.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	MessagesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_messages_delivered_total",
			Help: "Real-time messages handed to a connection send buffer",
		},
		[]string{"kind", "scope"},
	)

	MessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_messages_dropped_total",
			Help: "Real-time messages dropped (no recipients or full buffer)",
		},
		[]string{"kind", "reason"},
	)

	Connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connections",
			Help: "Open real-time connections on this instance",
		},
	)

	AlertsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proctoring_alerts_ingested_total",
			Help: "Integrity alerts appended to sessions",
		},
		[]string{"alert_type", "severity"},
	)

	DetectorFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "proctoring_detector_failures_total",
			Help: "Frame checks that produced no alert because the detector was unavailable",
		},
	)

	QuizAnswers = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quiz_answers_total",
			Help: "Quiz responses stored",
		},
		[]string{"correct"},
	)

	QuizzesStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quiz_started_total",
			Help: "Quiz questions sent",
		},
	)
)

var initOnce sync.Once

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			RequestCounter, RequestDuration,
			MessagesDelivered, MessagesDropped, Connections,
			AlertsIngested, DetectorFailures,
			QuizAnswers, QuizzesStarted,
		)
	})
}

// Middleware records request count and latency per route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		RequestCounter.WithLabelValues(c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		RequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the Prometheus scrape endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
