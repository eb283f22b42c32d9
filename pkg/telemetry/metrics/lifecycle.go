package metrics

import (
	"fleetguard/warden/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// LifecycleMetrics tracks violations and compliance audits.
type LifecycleMetrics struct {
	transitions *prometheus.CounterVec
	audits      *prometheus.CounterVec
	score       *prometheus.GaugeVec
}

// NewLifecycleMetrics creates and registers violation and audit metrics.
func NewLifecycleMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *LifecycleMetrics {
	lm := &LifecycleMetrics{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "violation_transitions_total",
				Help:      "Total number of violation state transitions by target state",
			},
			[]string{"to_state"},
		),

		audits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "compliance_audits_total",
				Help:      "Total number of compliance audit runs",
			},
			[]string{"status"},
		),

		score: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "compliance_score",
				Help:      "Latest compliance score per policy (0.0-1.0)",
			},
			[]string{"policy_code"},
		),
	}

	registry.MustRegister(lm.transitions, lm.audits, lm.score)
	return lm
}
