// Package tracing sets up OpenTelemetry tracing for warden.
//
// New installs a global TracerProvider exporting over OTLP/gRPC, so
// components create spans with otel.Tracer(name) without holding a
// reference to this package:
//
//	scheduler   policy.execution  one span per execution
//	action      policy.action     one span per action dispatch
//	compliance  compliance.audit  one span per audit
//	fleet       fleet.request     one span per fleet API call
//
// Trace context crosses process boundaries as W3C traceparent headers.
// HTTPMiddleware extracts it on the API server and Inject adds it to
// outgoing fleet API requests.
//
// When telemetry.tracing.enabled is false New returns a Tracer backed by a
// noop provider and leaves the global provider untouched.
package tracing
