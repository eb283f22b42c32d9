package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fleetguard/warden/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testConfig() *config.MetricsConfig {
	return &config.MetricsConfig{
		Enabled:   true,
		Namespace: "test",
		Subsystem: "warden",
	}
}

func TestCollector_NewCollector(t *testing.T) {
	cfg := testConfig()
	registry := prometheus.NewRegistry()

	collector := NewCollector(cfg, registry)
	if collector == nil {
		t.Fatal("Expected non-nil collector")
	}
	if collector.Registry() != registry {
		t.Error("Collector registry not set correctly")
	}
	if len(cfg.ExecutionDurationBuckets) == 0 {
		t.Error("Expected default duration buckets")
	}
}

func TestCollector_RecordExecution(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.RecordExecution("PM-5000", "scheduled", "completed", 120*time.Millisecond)
	collector.RecordExecution("PM-5000", "scheduled", "completed", 80*time.Millisecond)
	collector.RecordExecution("PM-5000", "manual", "failed", time.Second)

	got := testutil.ToFloat64(collector.executionMetrics.executionsTotal.WithLabelValues("PM-5000", "scheduled", "completed"))
	if got != 2 {
		t.Errorf("executions_total = %v, want 2", got)
	}
}

func TestCollector_RecordAction(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.RecordAction("notify", "failed", 2)
	collector.RecordAction("notify", "succeeded", 0)

	if got := testutil.ToFloat64(collector.executionMetrics.actionRetries.WithLabelValues("notify")); got != 2 {
		t.Errorf("action_retries_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.executionMetrics.actionsTotal.WithLabelValues("notify", "succeeded")); got != 1 {
		t.Errorf("actions_total = %v, want 1", got)
	}
}

func TestCollector_Lifecycle(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	collector.RecordViolationTransition("investigation")
	collector.RecordComplianceAudit("PM-5000", "success", 0.8)
	collector.RecordLeaseContention()
	collector.SetDuePolicies(4)

	if got := testutil.ToFloat64(collector.lifecycleMetrics.score.WithLabelValues("PM-5000")); got != 0.8 {
		t.Errorf("compliance_score = %v, want 0.8", got)
	}
	if got := testutil.ToFloat64(collector.executionMetrics.duePolicies); got != 4 {
		t.Errorf("due_policies = %v, want 4", got)
	}
	if got := testutil.ToFloat64(collector.executionMetrics.leaseContention); got != 1 {
		t.Errorf("lease_contention_total = %v, want 1", got)
	}
}

func TestCollector_NilSafe(t *testing.T) {
	var collector *Collector
	collector.RecordExecution("x", "manual", "completed", time.Second)
	collector.RecordAction("notify", "succeeded", 0)
	collector.RecordLeaseContention()
	collector.SetDuePolicies(1)
	collector.RecordRecovery("failed")
	collector.RecordViolationTransition("case_closed")
	collector.RecordComplianceAudit("x", "success", 1)
}

func TestCollector_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	collector := NewCollector(cfg, nil)

	collector.RecordLeaseContention()
	if got := testutil.ToFloat64(collector.executionMetrics.leaseContention); got != 0 {
		t.Errorf("lease_contention_total = %v, want 0 when disabled", got)
	}
}

func TestCollector_Handler(t *testing.T) {
	collector := NewCollector(testConfig(), nil)
	collector.RecordRecovery("resumed")

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "test_warden_recovered_executions_total") {
		t.Error("metrics output missing recovered_executions_total")
	}

	// A second handler on the same registry reuses the scrape counter.
	rec = httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "promhttp_metric_handler_requests_total") {
		t.Error("metrics output missing promhttp_metric_handler_requests_total")
	}
}

func TestCardinalityLimiter(t *testing.T) {
	cl := NewCardinalityLimiter(2)
	if !cl.Allow("a") || !cl.Allow("b") {
		t.Fatal("Allow() rejected label sets under the limit")
	}
	if cl.Allow("c") {
		t.Error("Allow() accepted a label set over the limit")
	}
	if !cl.Allow("a") {
		t.Error("Allow() rejected an existing label set")
	}
	if cl.Count() != 2 {
		t.Errorf("Count() = %d, want 2", cl.Count())
	}
}
