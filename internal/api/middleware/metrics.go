// Package middleware provides the Gin middleware of the memory proxy: Prometheus
// metrics, connection tracking and request-body decompression.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// httpRequestsTotal counts the total number of HTTP requests processed.
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memproxy_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDurationSeconds tracks the duration of HTTP requests.
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memproxy_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpRequestSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memproxy_http_request_size_bytes",
			Help:    "Size of HTTP request bodies in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8), // 100B to 10GB
		},
		[]string{"method", "path"},
	)

	httpResponseSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memproxy_http_response_size_bytes",
			Help:    "Size of HTTP response bodies in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// activeConnections tracks the number of in-flight requests.
	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "memproxy_active_connections",
			Help: "Number of currently active HTTP connections",
		},
	)

	// requestErrors counts error responses by class (client_error, server_error).
	requestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memproxy_request_errors_total",
			Help: "Total number of requests answered with an error status",
		},
		[]string{"error_type", "path"},
	)

	// memorySearchesTotal counts memory lookups by backend and outcome.
	memorySearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memproxy_memory_searches_total",
			Help: "Total number of memory searches by backend and outcome",
		},
		[]string{"backend", "outcome"},
	)

	memorySearchDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memproxy_memory_search_duration_seconds",
			Help:    "Duration of memory searches in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"backend"},
	)

	// memoryInjectedTokens tracks the estimated size of injected memory blocks.
	memoryInjectedTokens = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "memproxy_memory_injected_tokens",
			Help:    "Estimated tokens of memory text injected into chat requests",
			Buckets: prometheus.ExponentialBuckets(16, 2, 10),
		},
	)

	metricsRegistered atomic.Bool
	metricsEnabled    atomic.Bool
)

// SetMetricsEnabled toggles Prometheus metrics collection.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// IsMetricsEnabled reports whether metrics are enabled.
func IsMetricsEnabled() bool {
	return metricsEnabled.Load()
}

// RegisterMetrics registers all Prometheus metrics.
// It is safe to call multiple times; metrics will only be registered once.
func RegisterMetrics() {
	if !metricsRegistered.CompareAndSwap(false, true) {
		return
	}

	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		httpRequestSizeBytes,
		httpResponseSizeBytes,
		activeConnections,
		requestErrors,
		memorySearchesTotal,
		memorySearchDurationSeconds,
		memoryInjectedTokens,
	)
}

// PrometheusMiddleware returns a Gin middleware that collects Prometheus metrics
// for HTTP requests including request count, duration, and active connections.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsMetricsEnabled() {
			c.Next()
			return
		}
		RegisterMetrics()

		// Skip metrics endpoint to avoid self-referential metrics
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		activeConnections.Inc()
		defer activeConnections.Dec()

		path := normalizePath(c.Request.URL.Path)
		method := c.Request.Method

		if c.Request.ContentLength > 0 {
			httpRequestSizeBytes.WithLabelValues(method, path).Observe(float64(c.Request.ContentLength))
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()

		status := c.Writer.Status()
		httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
		httpRequestDurationSeconds.WithLabelValues(method, path).Observe(duration)

		if responseSize := c.Writer.Size(); responseSize > 0 {
			httpResponseSizeBytes.WithLabelValues(method, path).Observe(float64(responseSize))
		}

		if status >= http.StatusBadRequest {
			errorType := "client_error"
			if status >= http.StatusInternalServerError {
				errorType = "server_error"
			}
			requestErrors.WithLabelValues(errorType, path).Inc()
		}
	}
}

// passthroughPathLabel is the label for every path outside the known provider resources.
const passthroughPathLabel = "/passthrough"

// providerResources are the top-level OpenAI-compatible resources given their own label.
var providerResources = map[string]struct{}{
	"chat":        {},
	"completions": {},
	"models":      {},
	"embeddings":  {},
	"files":       {},
	"audio":       {},
	"images":      {},
	"moderations": {},
	"batches":     {},
	"fine_tuning": {},
	"responses":   {},
	"generation":  {},
	"credits":     {},
}

// normalizePath maps URL paths onto a fixed label set so caller-chosen paths
// cannot grow the number of series.
func normalizePath(path string) string {
	switch path {
	case "/", "/healthz", "/metrics":
		return path
	}

	trimmed := strings.Trim(path, "/")
	if trimmed == "v1" {
		return "/v1"
	}
	trimmed = strings.TrimPrefix(trimmed, "v1/")
	if trimmed == "chat/completions" {
		return "/v1/chat/completions"
	}

	resource, rest, nested := strings.Cut(trimmed, "/")
	if _, ok := providerResources[resource]; !ok {
		return passthroughPathLabel
	}
	if nested && rest != "" {
		return "/v1/" + resource + "/*"
	}
	return "/v1/" + resource
}

// MetricsHandler returns the Prometheus HTTP handler for the /metrics endpoint.
func MetricsHandler() gin.HandlerFunc {
	handler := promhttp.Handler()
	return func(c *gin.Context) {
		if !IsMetricsEnabled() {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		RegisterMetrics()
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordMemorySearch records one memory lookup against backend.
func RecordMemorySearch(backend, outcome string, elapsed time.Duration) {
	if !IsMetricsEnabled() {
		return
	}
	RegisterMetrics()
	memorySearchesTotal.WithLabelValues(backend, outcome).Inc()
	memorySearchDurationSeconds.WithLabelValues(backend).Observe(elapsed.Seconds())
}

// RecordInjectedTokens records the estimated token size of an injected memory block.
func RecordInjectedTokens(tokens int) {
	if !IsMetricsEnabled() || tokens <= 0 {
		return
	}
	RegisterMetrics()
	memoryInjectedTokens.Observe(float64(tokens))
}
