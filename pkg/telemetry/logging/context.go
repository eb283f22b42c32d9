package logging

import (
	"context"
	"log/slog"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	executionIDKey
	policyCodeKey
	tenantIDKey
	entityKey
)

// WithRequestID adds an API request id to the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request id carried by ctx.
func RequestID(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithExecution adds an execution id and the policy code it runs.
func WithExecution(ctx context.Context, executionID, policyCode string) context.Context {
	ctx = context.WithValue(ctx, executionIDKey, executionID)
	return context.WithValue(ctx, policyCodeKey, policyCode)
}

// ExecutionID returns the execution id carried by ctx.
func ExecutionID(ctx context.Context) string {
	return stringValue(ctx, executionIDKey)
}

// WithTenant adds a tenant id.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

// WithEntity adds the entity being evaluated, as "type/id".
func WithEntity(ctx context.Context, entity string) context.Context {
	return context.WithValue(ctx, entityKey, entity)
}

// Fields returns the correlation attributes carried by ctx in a fixed
// order.
func Fields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	var attrs []slog.Attr
	for _, f := range []struct {
		key  contextKey
		name string
	}{
		{requestIDKey, "request_id"},
		{tenantIDKey, "tenant_id"},
		{executionIDKey, "execution_id"},
		{policyCodeKey, "policy_code"},
		{entityKey, "entity"},
	} {
		if v := stringValue(ctx, f.key); v != "" {
			attrs = append(attrs, slog.String(f.name, v))
		}
	}
	return attrs
}

func stringValue(ctx context.Context, key contextKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}
