// Package server exposes the warden HTTP API.
//
// Routes:
//
//	GET  /v1/executions                       query the execution ledger
//	GET  /v1/executions/{id}                  one execution
//	POST /v1/executions/{id}/approve          dispatch an awaiting_approval execution
//	POST /v1/executions/{id}/reject           reject it
//	POST /v1/policies/{id}/run                manual run, optionally for one entity
//	POST /v1/events                           inbound domain event
//	GET  /v1/violations                       open violations of a subject
//	GET  /v1/violations/{id}                  one violation
//	POST /v1/violations/{id}/transitions      workflow command
//	GET  /v1/policies/{id}/audits/latest      latest compliance audit
//	POST /v1/policies/{id}/audits             run a compliance audit
//
// Health probes, /version and the Prometheus endpoint are mounted on the
// same listener. Every request passes through recovery, request id,
// tracing and access-log middleware.
//
// Errors are JSON bodies of the form {"error": {"code": ..., "message": ...}}.
package server
