package observability

import (
	"context"
)

// Context keys for observability data.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	tenantIDKey  contextKey = "tenant_id"
	actorIDKey   contextKey = "actor_id"
	traceIDKey   contextKey = "trace_id"
	spanIDKey    contextKey = "span_id"
)

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID from context.
// Returns empty string if not present.
func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// WithTenantActor adds the tenant and acting user to the context.
func WithTenantActor(ctx context.Context, tenantID, actorID string) context.Context {
	ctx = context.WithValue(ctx, tenantIDKey, tenantID)
	ctx = context.WithValue(ctx, actorIDKey, actorID)
	return ctx
}

// TenantActorFromContext retrieves the tenant and acting user from context.
// Returns empty strings if not present.
func TenantActorFromContext(ctx context.Context) (tenantID, actorID string) {
	return stringValue(ctx, tenantIDKey), stringValue(ctx, actorIDKey)
}

// WithTraceSpan adds trace and span IDs to the context.
func WithTraceSpan(ctx context.Context, traceID, spanID string) context.Context {
	ctx = context.WithValue(ctx, traceIDKey, traceID)
	ctx = context.WithValue(ctx, spanIDKey, spanID)
	return ctx
}

// TraceSpanFromContext retrieves trace and span IDs from context.
// Returns empty strings if not present.
func TraceSpanFromContext(ctx context.Context) (traceID, spanID string) {
	return stringValue(ctx, traceIDKey), stringValue(ctx, spanIDKey)
}

// RequestContext contains the observability data of one request.
type RequestContext struct {
	RequestID string
	TenantID  string
	ActorID   string
	TraceID   string
	SpanID    string
}

// WithRequestContextFull adds all request context to the context.
func WithRequestContextFull(ctx context.Context, rc RequestContext) context.Context {
	if rc.RequestID != "" {
		ctx = WithRequestID(ctx, rc.RequestID)
	}
	if rc.TenantID != "" || rc.ActorID != "" {
		ctx = WithTenantActor(ctx, rc.TenantID, rc.ActorID)
	}
	if rc.TraceID != "" || rc.SpanID != "" {
		ctx = WithTraceSpan(ctx, rc.TraceID, rc.SpanID)
	}
	return ctx
}

// RequestContextFromContext extracts all request context from the context.
func RequestContextFromContext(ctx context.Context) RequestContext {
	tenantID, actorID := TenantActorFromContext(ctx)
	traceID, spanID := TraceSpanFromContext(ctx)
	return RequestContext{
		RequestID: RequestIDFromContext(ctx),
		TenantID:  tenantID,
		ActorID:   actorID,
		TraceID:   traceID,
		SpanID:    spanID,
	}
}

func stringValue(ctx context.Context, key contextKey) string {
	if v := ctx.Value(key); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
