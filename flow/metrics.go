package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides Prometheus-compatible collection for execution
// monitoring. All metrics are namespaced with "fluxline".
//
// Metrics exposed:
//
//   - executions_total (counter): completed runs by terminal status.
//     Labels: status (success/error/cancelled).
//   - node_latency_ms (histogram): node execution duration from dispatch to
//     completion. Labels: node_type, status (success/error/timeout).
//   - retries_total (counter): retry attempts. Labels: node_type, reason
//     (error/timeout).
//   - error_branches_total (counter): error-port activations after exhausted
//     retries. Labels: node_type.
//   - inflight_nodes (gauge): nodes currently executing.
//
// Thread-safe; cheap no-ops when the collector is nil on the engine.
type Metrics struct {
	executions    *prometheus.CounterVec
	nodeLatency   *prometheus.HistogramVec
	retries       *prometheus.CounterVec
	errorBranches *prometheus.CounterVec
	inflightNodes prometheus.Gauge
}

// NewMetrics creates and registers all execution metrics with the provided
// registry. Pass prometheus.DefaultRegisterer for the global registry, or a
// dedicated prometheus.NewRegistry() for isolation (recommended in tests).
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluxline",
			Name:      "executions_total",
			Help:      "Completed workflow executions by terminal status",
		}, []string{"status"}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fluxline",
			Name:      "node_latency_ms",
			Help:      "Node execution duration in milliseconds (dispatch to completion)",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000},
		}, []string{"node_type", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluxline",
			Name:      "retries_total",
			Help:      "Node retry attempts by failure reason",
		}, []string{"node_type", "reason"}),
		errorBranches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluxline",
			Name:      "error_branches_total",
			Help:      "Error-port activations after a node exhausted its retries",
		}, []string{"node_type"}),
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fluxline",
			Name:      "inflight_nodes",
			Help:      "Nodes currently executing",
		}),
	}
}

// RecordExecution counts one completed run.
func (m *Metrics) RecordExecution(status Status) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(string(status)).Inc()
}

// RecordNodeLatency records one node attempt's duration. Status is one of
// "success", "error", "timeout".
func (m *Metrics) RecordNodeLatency(nodeType string, latency time.Duration, status string) {
	if m == nil {
		return
	}
	m.nodeLatency.WithLabelValues(nodeType, status).Observe(float64(latency.Milliseconds()))
}

// IncrementRetries counts one retry with its reason ("error" or "timeout").
func (m *Metrics) IncrementRetries(nodeType, reason string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(nodeType, reason).Inc()
}

// IncrementErrorBranches counts one error-port activation.
func (m *Metrics) IncrementErrorBranches(nodeType string) {
	if m == nil {
		return
	}
	m.errorBranches.WithLabelValues(nodeType).Inc()
}

// NodeStarted and NodeFinished bracket a node execution for the inflight
// gauge.
func (m *Metrics) NodeStarted() {
	if m == nil {
		return
	}
	m.inflightNodes.Inc()
}

func (m *Metrics) NodeFinished() {
	if m == nil {
		return
	}
	m.inflightNodes.Dec()
}
