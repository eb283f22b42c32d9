// Package telemetry groups the observability packages of warden.
//
// # Components
//
//   - logging: slog setup with context correlation and redaction
//   - metrics: Prometheus collectors for executions, actions and audits
//   - tracing: OpenTelemetry spans exported over OTLP/gRPC
//   - health: liveness and readiness endpoints
//
// # Usage
//
//	logger, err := logging.Setup(&cfg.Telemetry.Logging, os.Stderr)
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	defer tracer.Shutdown(ctx)
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, registry)
//	checker := health.New(cfg.Telemetry.Health.CheckTimeout)
//
// Each package is configured from its own section of telemetry in the
// process configuration and can be used on its own.
package telemetry
