package metrics

import (
	"fmt"
	"sync"
	"time"

	"fleetguard/warden/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns the registry and every engine metric.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	executionMetrics *ExecutionMetrics
	lifecycleMetrics *LifecycleMetrics

	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a collector. If registry is nil a new registry is
// created.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if cfg == nil {
		cfg = &config.MetricsConfig{Enabled: true}
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "warden"
	}
	if len(cfg.ExecutionDurationBuckets) == 0 {
		// Executions range from a pure evaluation (ms) to several
		// retried collaborator calls (tens of seconds).
		cfg.ExecutionDurationBuckets = []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 15, 30, 60}
	}

	c := &Collector{
		config:             cfg,
		registry:           registry,
		cardinalityLimiter: NewCardinalityLimiter(10000),
	}
	c.executionMetrics = NewExecutionMetrics(cfg, registry)
	c.lifecycleMetrics = NewLifecycleMetrics(cfg, registry)
	return c
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.Enabled
}

// policyLabel folds policy codes beyond the cardinality limit into "other".
func (c *Collector) policyLabel(metric, policyCode string) string {
	if !c.cardinalityLimiter.Allow(fmt.Sprintf("%s:%s", metric, policyCode)) {
		return "other"
	}
	return policyCode
}

// RecordExecution records a finalized execution.
func (c *Collector) RecordExecution(policyCode, trigger, status string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	code := c.policyLabel("execution", policyCode)
	c.executionMetrics.RecordExecution(code, trigger, status, duration)
}

// RecordAction records the outcome of one action.
func (c *Collector) RecordAction(actionType, status string, retries int) {
	if !c.enabled() {
		return
	}
	c.executionMetrics.RecordAction(actionType, status, retries)
}

// RecordLeaseContention records a (policy, entity) pair skipped because
// another worker held its lease.
func (c *Collector) RecordLeaseContention() {
	if !c.enabled() {
		return
	}
	c.executionMetrics.leaseContention.Inc()
}

// SetDuePolicies records the size of the latest due set.
func (c *Collector) SetDuePolicies(n int) {
	if !c.enabled() {
		return
	}
	c.executionMetrics.duePolicies.Set(float64(n))
}

// RecordRecovery records the outcome of recovering a stale pending
// execution ("resumed" or "failed").
func (c *Collector) RecordRecovery(outcome string) {
	if !c.enabled() {
		return
	}
	c.executionMetrics.recovered.WithLabelValues(outcome).Inc()
}

// RecordViolationTransition records a violation state change.
func (c *Collector) RecordViolationTransition(toState string) {
	if !c.enabled() {
		return
	}
	c.lifecycleMetrics.transitions.WithLabelValues(toState).Inc()
}

// RecordComplianceAudit records an audit run and its score.
func (c *Collector) RecordComplianceAudit(policyCode, status string, score float64) {
	if !c.enabled() {
		return
	}
	c.lifecycleMetrics.audits.WithLabelValues(status).Inc()
	if status == "success" {
		c.lifecycleMetrics.score.WithLabelValues(c.policyLabel("compliance", policyCode)).Set(score)
	}
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter bounds the number of distinct label sets.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter with the given maximum.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether a label set may be used.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[labelSet]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
