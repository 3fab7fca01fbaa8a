// Package metrics exposes Prometheus collectors for the agent pool and the
// workflow engine. Collectors are constructed against an explicit
// prometheus.Registerer so the composition root decides what is exported;
// nothing registers itself against the global registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PoolMetrics instruments agent pool occupancy and task outcomes.
type PoolMetrics struct {
	ActiveSessions prometheus.Gauge
	TasksTotal     *prometheus.CounterVec
	TaskDuration   prometheus.Histogram
}

// NewPoolMetrics registers and returns the pool collectors.
func NewPoolMetrics(reg prometheus.Registerer) *PoolMetrics {
	return &PoolMetrics{
		ActiveSessions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "agentrelay",
			Subsystem: "pool",
			Name:      "active_sessions",
			Help:      "Sessions currently held by the agent pool.",
		}),
		TasksTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentrelay",
			Subsystem: "pool",
			Name:      "tasks_total",
			Help:      "Task executions by terminal status.",
		}, []string{"status"}),
		TaskDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentrelay",
			Subsystem: "pool",
			Name:      "task_duration_seconds",
			Help:      "Wall-clock task execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}
}

// ObserveTask records one settled task.
func (m *PoolMetrics) ObserveTask(status string, seconds float64) {
	if m == nil {
		return
	}
	m.TasksTotal.WithLabelValues(status).Inc()
	m.TaskDuration.Observe(seconds)
}

// StreamingMetrics instruments streaming buffer flushes.
type StreamingMetrics struct {
	FlushesTotal     prometheus.Counter
	TruncationsTotal prometheus.Counter
}

// NewStreamingMetrics registers and returns the streaming collectors.
func NewStreamingMetrics(reg prometheus.Registerer) *StreamingMetrics {
	return &StreamingMetrics{
		FlushesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "agentrelay",
			Subsystem: "streaming",
			Name:      "flushes_total",
			Help:      "Streaming buffer flushes delivered to a transport.",
		}),
		TruncationsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "agentrelay",
			Subsystem: "streaming",
			Name:      "truncations_total",
			Help:      "Flushes whose transport-visible text was truncated.",
		}),
	}
}

// ObserveFlush records one delivered flush.
func (m *StreamingMetrics) ObserveFlush(truncated bool) {
	if m == nil {
		return
	}
	m.FlushesTotal.Inc()
	if truncated {
		m.TruncationsTotal.Inc()
	}
}

// WorkflowMetrics instruments workflow executions.
type WorkflowMetrics struct {
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration prometheus.Histogram
	RunningExecutions prometheus.Gauge
}

// NewWorkflowMetrics registers and returns the workflow collectors.
func NewWorkflowMetrics(reg prometheus.Registerer) *WorkflowMetrics {
	return &WorkflowMetrics{
		ExecutionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentrelay",
			Subsystem: "workflow",
			Name:      "executions_total",
			Help:      "Workflow executions by terminal status.",
		}, []string{"status"}),
		ExecutionDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentrelay",
			Subsystem: "workflow",
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock workflow execution time.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		RunningExecutions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "agentrelay",
			Subsystem: "workflow",
			Name:      "running_executions",
			Help:      "Workflow executions currently running.",
		}),
	}
}

// ObserveExecution records one finished execution.
func (m *WorkflowMetrics) ObserveExecution(status string, seconds float64) {
	if m == nil {
		return
	}
	m.ExecutionsTotal.WithLabelValues(status).Inc()
	m.ExecutionDuration.Observe(seconds)
}
