package tracing

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by warden spans.
const (
	AttrPolicyID         = "policy.id"
	AttrPolicyCode       = "policy.code"
	AttrTenantID         = "tenant.id"
	AttrEntityType       = "entity.type"
	AttrEntityID         = "entity.id"
	AttrExecutionID      = "execution.id"
	AttrExecutionTrigger = "execution.trigger"
	AttrExecutionMatched = "execution.matched"
	AttrExecutionStatus  = "execution.status"
	AttrActionType       = "action.type"
	AttrActionIndex      = "action.index"
	AttrActionRequired   = "action.required"
	AttrActionAttempts   = "action.attempts"
	AttrAuditType        = "audit.type"
	AttrAuditEvaluated   = "audit.evaluated"
	AttrAuditScore       = "audit.score"
	AttrHTTPMethod       = "http.method"
	AttrHTTPRoute        = "http.route"
)

// PolicyAttributes identifies a policy version.
func PolicyAttributes(id, code string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrPolicyID, id),
		attribute.String(AttrPolicyCode, code),
	}
}

// ExecutionAttributes identifies an execution and what it evaluates.
func ExecutionAttributes(id, trigger, entityType, entityID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrExecutionID, id),
		attribute.String(AttrExecutionTrigger, trigger),
		attribute.String(AttrEntityType, entityType),
		attribute.String(AttrEntityID, entityID),
	}
}

// HTTPAttributes describes an API request.
func HTTPAttributes(method, route string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrHTTPRoute, route),
	}
}
