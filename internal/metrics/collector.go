// Package metrics provides internal Prometheus metrics collection for the
// orchestrator and pipeline. This package is internal and should not be
// imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector owns every metric the engine exports.
type Collector struct {
	executionsTotal   *prometheus.CounterVec
	executionDuration prometheus.Histogram
	activeExecutions  prometheus.Gauge

	stepDuration *prometheus.HistogramVec
	stepsTotal   *prometheus.CounterVec

	tasksEnqueued *prometheus.CounterVec
	queueDepth    *prometheus.GaugeVec
	queueTime     prometheus.Histogram
	activeAgents  prometheus.Gauge

	recoveryAttempts *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the engine metrics on the given registerer.
// Passing prometheus.DefaultRegisterer wires the process-wide registry;
// tests pass a fresh registry to stay isolated.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	return &Collector{
		executionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_executions_total",
			Help:      "Workflow executions by terminal status",
		}, []string{"status"}),
		executionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_execution_duration_seconds",
			Help:      "End-to-end workflow execution duration",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		activeExecutions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflow_active_executions",
			Help:      "Currently in-flight workflow executions",
		}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_step_duration_seconds",
			Help:      "Per-step execution duration by step type",
			Buckets:   prometheus.DefBuckets,
		}, []string{"step_type"}),
		stepsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_steps_total",
			Help:      "Step outcomes by terminal status",
		}, []string{"status"}),
		tasksEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_tasks_enqueued_total",
			Help:      "Tasks enqueued by priority band",
		}, []string{"priority"}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_queue_depth",
			Help:      "Queued tasks per priority band",
		}, []string{"priority"}),
		queueTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_queue_time_seconds",
			Help:      "Time tasks spend queued before dispatch",
			Buckets:   prometheus.DefBuckets,
		}),
		activeAgents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_active_agents",
			Help:      "Agent calls currently in flight",
		}),
		recoveryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recovery_attempts_total",
			Help:      "Recovery strategy attempts by strategy and outcome",
		}, []string{"strategy", "outcome"}),
		logger: logger.With(zap.String("component", "metrics")),
	}
}

// ExecutionStarted marks one execution in flight.
func (c *Collector) ExecutionStarted() {
	c.activeExecutions.Inc()
}

// ExecutionFinished records a terminal execution.
func (c *Collector) ExecutionFinished(status string, duration time.Duration) {
	c.activeExecutions.Dec()
	c.executionsTotal.WithLabelValues(status).Inc()
	c.executionDuration.Observe(duration.Seconds())
}

// StepFinished records one terminal step outcome.
func (c *Collector) StepFinished(stepType, status string, duration time.Duration) {
	c.stepsTotal.WithLabelValues(status).Inc()
	c.stepDuration.WithLabelValues(stepType).Observe(duration.Seconds())
}

// TaskEnqueued records a task entering a priority band.
func (c *Collector) TaskEnqueued(priority string, depth int) {
	c.tasksEnqueued.WithLabelValues(priority).Inc()
	c.queueDepth.WithLabelValues(priority).Set(float64(depth))
}

// TaskDispatched records a task leaving the queue.
func (c *Collector) TaskDispatched(priority string, depth int, queueTime time.Duration) {
	c.queueDepth.WithLabelValues(priority).Set(float64(depth))
	c.queueTime.Observe(queueTime.Seconds())
	c.activeAgents.Inc()
}

// TaskCompleted records an agent call finishing.
func (c *Collector) TaskCompleted() {
	c.activeAgents.Dec()
}

// RecoveryAttempt records one strategy attempt.
func (c *Collector) RecoveryAttempt(strategy string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.recoveryAttempts.WithLabelValues(strategy, outcome).Inc()
}
