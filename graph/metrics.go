package graph

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics provides Prometheus-compatible metrics for graph execution.
//
// Metrics exposed (all namespaced with "storyflow_graph_"):
//
//  1. inflight_runs (gauge): Number of Engine.Run calls currently executing.
//     Use: Observe request concurrency across independent workflows.
//
//  2. step_latency_ms (histogram): Node execution duration in milliseconds.
//     Labels: node_id, status (success/error/timeout/panic).
//     Use: P50/P95/P99 latency analysis per stage.
//
//  3. node_errors_total (counter): Node executions that halted a run.
//     Labels: node_id, reason.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine := graph.New(reducer, st, emitter, graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// Thread-safe: Prometheus collectors are safe for concurrent use.
type PrometheusMetrics struct {
	inflightRuns prometheus.Gauge
	stepLatency  *prometheus.HistogramVec
	nodeErrors   *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// NewPrometheusMetrics creates and registers all graph execution metrics with
// the provided registry. A nil registry uses prometheus.DefaultRegisterer.
//
// Registering twice against the same registry panics, so create one
// PrometheusMetrics per registry and share it across engines.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &PrometheusMetrics{
		enabled: true,
		inflightRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "storyflow",
			Subsystem: "graph",
			Name:      "inflight_runs",
			Help:      "Number of workflow runs currently executing",
		}),
		stepLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "storyflow",
			Subsystem: "graph",
			Name:      "step_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000, 60000},
		}, []string{"node_id", "status"}),
		nodeErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storyflow",
			Subsystem: "graph",
			Name:      "node_errors_total",
			Help:      "Node executions that halted a workflow run",
		}, []string{"node_id", "reason"}),
	}
}

// RecordStepLatency records the execution duration of a node.
//
// Parameters:
//   - nodeID: Node that was executed
//   - latency: Execution duration
//   - status: Execution outcome ("success", "error", "timeout", "panic")
func (pm *PrometheusMetrics) RecordStepLatency(nodeID string, latency time.Duration, status string) {
	if !pm.isEnabled() {
		return
	}
	pm.stepLatency.WithLabelValues(nodeID, status).Observe(float64(latency.Milliseconds()))
}

// IncrementNodeErrors counts a node execution that halted its run.
func (pm *PrometheusMetrics) IncrementNodeErrors(nodeID, reason string) {
	if !pm.isEnabled() {
		return
	}
	pm.nodeErrors.WithLabelValues(nodeID, reason).Inc()
}

func (pm *PrometheusMetrics) runStarted() {
	if pm.isEnabled() {
		pm.inflightRuns.Inc()
	}
}

func (pm *PrometheusMetrics) runFinished() {
	if pm.isEnabled() {
		pm.inflightRuns.Dec()
	}
}

// Disable temporarily disables metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = false
}

// Enable re-enables metric recording after Disable().
func (pm *PrometheusMetrics) Enable() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.enabled = true
}

func (pm *PrometheusMetrics) isEnabled() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.enabled
}
