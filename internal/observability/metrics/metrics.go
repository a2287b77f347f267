// Package metrics provides Prometheus instrumentation for contraverify.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	enabled     bool
	serviceName string

	// HTTP metrics
	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec

	// Verification metrics
	verificationTotal    *prometheus.CounterVec
	verificationDuration *prometheus.HistogramVec
	compileDuration      *prometheus.HistogramVec

	// Chain access metrics
	rpcProviderFailures *prometheus.CounterVec
)

// Init initializes the metrics system.
func Init(enabledFlag bool, svcName string) {
	enabled = enabledFlag
	serviceName = svcName

	if !enabled {
		return
	}

	// HTTP request counter
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTP request duration histogram
	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Verification outcome counter
	verificationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_total",
			Help: "Total number of verifications by runtime and creation match status",
		},
		[]string{"chain_id", "runtime_match", "creation_match", "error"},
	)

	// Verification duration histogram
	verificationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "verification_duration_seconds",
			Help:    "End-to-end verification latency in seconds",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"language"},
	)

	// Compiler invocation histogram
	compileDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compiler_duration_seconds",
			Help:    "Compiler invocation latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"language", "status"},
	)

	// RPC provider failure counter
	rpcProviderFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpc_provider_failures_total",
			Help: "Total number of failed RPC provider attempts",
		},
		[]string{"chain_id", "method"},
	)

	// Note: Go runtime metrics (goroutines, memory, GC) are automatically
	// collected by prometheus/client_golang - no custom collector needed
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	if !enabled {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
	}
	return promhttp.Handler()
}

// Enabled returns whether metrics are enabled.
func Enabled() bool {
	return enabled
}

// ServiceName returns the configured service name for metric labels.
func ServiceName() string {
	return serviceName
}
