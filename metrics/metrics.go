// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BackendRequestDuration tracks backend API call duration.
	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "studio_backend_request_duration_seconds",
			Help:    "Backend API request duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
		},
		[]string{"endpoint", "status"},
	)

	// BackendRequestsTotal tracks total backend API calls.
	BackendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_backend_requests_total",
			Help: "Total backend API requests",
		},
		[]string{"endpoint", "status"},
	)

	// RewritesTotal tracks rewrite outcomes.
	RewritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_rewrites_total",
			Help: "Rewrite instructions by scope and outcome",
		},
		[]string{"scope", "outcome"},
	)

	// ExportsTotal tracks exports by format.
	ExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_exports_total",
			Help: "Document exports by format and outcome",
		},
		[]string{"format", "outcome"},
	)

	// HistoryCacheLookups tracks history cache hits and misses.
	HistoryCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_history_cache_lookups_total",
			Help: "History cache lookups by result",
		},
		[]string{"result"},
	)

	// ServerRequestsTotal tracks requests served by the local backend stand-in.
	ServerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_server_requests_total",
			Help: "Requests served by the local backend",
		},
		[]string{"method", "route", "status"},
	)
)

// RecordBackendCall records metrics for one backend API call. status 0 means
// the request never produced a response.
func RecordBackendCall(endpoint string, status int, seconds float64) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	BackendRequestDuration.WithLabelValues(endpoint, label).Observe(seconds)
	BackendRequestsTotal.WithLabelValues(endpoint, label).Inc()
}

// RecordRewrite records a rewrite outcome.
func RecordRewrite(scope, outcome string) {
	RewritesTotal.WithLabelValues(scope, outcome).Inc()
}

// RecordExport records an export.
func RecordExport(format, outcome string) {
	ExportsTotal.WithLabelValues(format, outcome).Inc()
}

// RecordCacheLookup records a history cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		HistoryCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	HistoryCacheLookups.WithLabelValues("miss").Inc()
}

// RecordServerRequest records one request served by the local backend.
func RecordServerRequest(method, route string, status int) {
	ServerRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
