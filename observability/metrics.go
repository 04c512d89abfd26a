package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

type forwarderMetrics struct {
	executions *prometheus.CounterVec
	gasUsed    prometheus.Histogram
	latency    prometheus.Histogram
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	forwarderMetricsOnce sync.Once
	forwarderRegistry    *forwarderMetrics
)

// ModuleMetrics returns the lazily-initialised module metrics registry used to
// record RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "metatx",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "metatx",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method, and error kind.",
			}, []string{"module", "method", "kind"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "metatx",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "metatx",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected due to throttling policies.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of an RPC request. kind is empty on success.
func (m *moduleMetrics) Observe(method, kind string, duration time.Duration) {
	if m == nil {
		return
	}
	module, name := splitMethod(method)
	outcome := "success"
	if kind != "" {
		outcome = "error"
		m.errors.WithLabelValues(module, name, kind).Inc()
	}
	m.requests.WithLabelValues(module, name, outcome).Inc()
	m.latency.WithLabelValues(module, name).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter.
func (m *moduleMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

func splitMethod(method string) (string, string) {
	module, name, found := strings.Cut(strings.TrimSpace(method), "_")
	if !found {
		return "unknown", method
	}
	return module, name
}

// Forwarder returns the metrics registry tracking envelope execution.
func Forwarder() *forwarderMetrics {
	forwarderMetricsOnce.Do(func() {
		forwarderRegistry = &forwarderMetrics{
			executions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "metatx",
				Subsystem: "forwarder",
				Name:      "executions_total",
				Help:      "Envelope submissions segmented by outcome and whether the nonce was consumed.",
			}, []string{"outcome", "nonce_consumed"}),
			gasUsed: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "metatx",
				Subsystem: "forwarder",
				Name:      "gas_used",
				Help:      "Gas used by envelope submissions.",
				Buckets:   prometheus.ExponentialBuckets(1_000, 4, 8),
			}),
			latency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "metatx",
				Subsystem: "forwarder",
				Name:      "execution_duration_seconds",
				Help:      "Wall time spent executing envelope submissions.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			forwarderRegistry.executions,
			forwarderRegistry.gasUsed,
			forwarderRegistry.latency,
		)
	})
	return forwarderRegistry
}

// RecordExecution records one envelope submission. outcome is "success" or
// the error kind that rejected it.
func (m *forwarderMetrics) RecordExecution(outcome string, nonceConsumed bool, gasUsed uint64, duration time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.executions.WithLabelValues(outcome, strconv.FormatBool(nonceConsumed)).Inc()
	m.gasUsed.Observe(float64(gasUsed))
	m.latency.Observe(duration.Seconds())
}
