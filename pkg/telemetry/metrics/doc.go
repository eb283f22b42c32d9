// Package metrics provides Prometheus metrics for the policy automation
// engine.
//
// # Metrics
//
//   - executions_total{policy_code,trigger,status}
//   - execution_duration_seconds{policy_code}
//   - actions_total{type,status}
//   - action_retries_total{type}
//   - lease_contention_total
//   - due_policies
//   - recovered_executions_total{outcome}
//   - violation_transitions_total{to_state}
//   - compliance_score{policy_code}
//   - compliance_audits_total{status}
//
// All metrics live under the configured namespace and subsystem.
//
// # Usage
//
//	collector := metrics.NewCollector(cfg, nil)
//	scheduler.SetMetrics(collector)
//	mux.Handle("/metrics", collector.Handler())
//
// Every Record method is safe to call on a nil *Collector, so components can
// be built without metrics in tests.
package metrics
