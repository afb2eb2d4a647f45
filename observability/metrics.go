package observability

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"occrlend/core/events"
)

type lendingMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	events     *prometheus.CounterVec
	requests   *prometheus.CounterVec
	throttles  *prometheus.CounterVec
}

var (
	lendingMetricsOnce sync.Once
	lendingRegistry    *lendingMetrics
)

// Lending returns the lazily-initialised metrics registry for node operations,
// committed events and the HTTP API.
func Lending() *lendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &lendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "occr",
				Subsystem: "node",
				Name:      "operations_total",
				Help:      "Node operations segmented by operation and outcome kind.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "occr",
				Subsystem: "node",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for node operations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			events: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "occr",
				Subsystem: "events",
				Name:      "committed_total",
				Help:      "Committed engine events segmented by type.",
			}, []string{"type"}),
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "occr",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "HTTP API requests segmented by route and status code.",
			}, []string{"route", "status"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "occr",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "HTTP API requests rejected by the rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.latency,
			lendingRegistry.events,
			lendingRegistry.requests,
			lendingRegistry.throttles,
		)
	})
	return lendingRegistry
}

// ObserveOperation records a completed node operation. kind is empty on
// success.
func (m *lendingMetrics) ObserveOperation(op, kind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	op = normalizeLabel(op)
	outcome := "ok"
	if kind != "" {
		outcome = kind
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Emit counts a committed event. It lets the registry subscribe to the node
// directly.
func (m *lendingMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	m.events.WithLabelValues(normalizeLabel(evt.EventType())).Inc()
}

// ObserveRequest records the status code written for an API route.
func (m *lendingMetrics) ObserveRequest(route string, status int) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(normalizeLabel(route), strconv.Itoa(status)).Inc()
}

// RecordThrottle increments the rate limiter rejection counter.
func (m *lendingMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(normalizeLabel(route)).Inc()
}

func normalizeLabel(v string) string {
	trimmed := strings.TrimSpace(v)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
