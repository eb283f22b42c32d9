package metrics

import (
	"time"

	"fleetguard/warden/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// ExecutionMetrics tracks executions, actions and scheduling.
type ExecutionMetrics struct {
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	actionsTotal      *prometheus.CounterVec
	actionRetries     *prometheus.CounterVec
	leaseContention   prometheus.Counter
	duePolicies       prometheus.Gauge
	recovered         *prometheus.CounterVec
}

// NewExecutionMetrics creates and registers execution metrics.
func NewExecutionMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ExecutionMetrics {
	em := &ExecutionMetrics{
		executionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "executions_total",
				Help:      "Total number of finalized policy executions",
			},
			[]string{"policy_code", "trigger", "status"},
		),

		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "execution_duration_seconds",
				Help:      "Duration of policy executions in seconds",
				Buckets:   cfg.ExecutionDurationBuckets,
			},
			[]string{"policy_code"},
		),

		actionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "actions_total",
				Help:      "Total number of actions by type and outcome",
			},
			[]string{"type", "status"},
		),

		actionRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "action_retries_total",
				Help:      "Total number of action retries after transient failures",
			},
			[]string{"type"},
		),

		leaseContention: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "lease_contention_total",
				Help:      "Total number of (policy, entity) pairs skipped because their lease was held",
			},
		),

		duePolicies: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "due_policies",
				Help:      "Number of policies in the latest due set",
			},
		),

		recovered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "recovered_executions_total",
				Help:      "Total number of stale pending executions recovered at startup",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		em.executionsTotal,
		em.executionDuration,
		em.actionsTotal,
		em.actionRetries,
		em.leaseContention,
		em.duePolicies,
		em.recovered,
	)

	return em
}

// RecordExecution records a finalized execution.
func (em *ExecutionMetrics) RecordExecution(policyCode, trigger, status string, duration time.Duration) {
	em.executionsTotal.WithLabelValues(policyCode, trigger, status).Inc()
	em.executionDuration.WithLabelValues(policyCode).Observe(duration.Seconds())
}

// RecordAction records one action outcome.
func (em *ExecutionMetrics) RecordAction(actionType, status string, retries int) {
	em.actionsTotal.WithLabelValues(actionType, status).Inc()
	if retries > 0 {
		em.actionRetries.WithLabelValues(actionType).Add(float64(retries))
	}
}
