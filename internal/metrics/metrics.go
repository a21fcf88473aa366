// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "messaging_gateway",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "messaging_gateway",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "messaging_gateway",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	groupOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "messaging_gateway",
			Subsystem: "whatsapp",
			Name:      "group_operations_total",
			Help:      "Total number of WhatsApp group operations.",
		},
		[]string{"operation", "status"},
	)

	connectionReady = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "messaging_gateway",
			Subsystem: "whatsapp",
			Name:      "connection_ready",
			Help:      "Whether the WhatsApp session is ready (1) or not (0).",
		},
	)

	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "messaging_gateway",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of requests denied by an admission window.",
		},
		[]string{"limiter"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		groupOperations,
		connectionReady,
		rateLimited,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler serves the registry over HTTP.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// IncrementInFlight bumps the in-flight request gauge.
func IncrementInFlight() { httpInFlight.Inc() }

// DecrementInFlight drops the in-flight request gauge.
func DecrementInFlight() { httpInFlight.Dec() }

// RecordHTTPRequest records one completed request.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequests.WithLabelValues(method, path, status).Inc()
	httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordGroupOperation records a group operation outcome. Status is
// normalized to lower case.
func RecordGroupOperation(operation, status string) {
	groupOperations.WithLabelValues(operation, strings.ToLower(status)).Inc()
}

// SetConnectionReady publishes the session readiness flag.
func SetConnectionReady(ready bool) {
	if ready {
		connectionReady.Set(1)
	} else {
		connectionReady.Set(0)
	}
}

// RecordRateLimited counts one denied admission for the named limiter.
func RecordRateLimited(limiter string) {
	rateLimited.WithLabelValues(limiter).Inc()
}
