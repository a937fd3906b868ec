package context

import (
	stdcontext "context"
	"strings"
)

type ctxKey string

const (
	requestIDKey     ctxKey = "request_id"
	tenantIDKey      ctxKey = "tenant_id"
	correlationIDKey ctxKey = "correlation_id"
	connectionIDKey  ctxKey = "connection_id"
)

func WithRequestID(ctx stdcontext.Context, requestID string) stdcontext.Context {
	return withString(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx stdcontext.Context) string {
	return stringFrom(ctx, requestIDKey)
}

func WithTenantID(ctx stdcontext.Context, tenantID string) stdcontext.Context {
	return withString(ctx, tenantIDKey, tenantID)
}

func TenantIDFromContext(ctx stdcontext.Context) string {
	return stringFrom(ctx, tenantIDKey)
}

func WithCorrelationID(ctx stdcontext.Context, correlationID string) stdcontext.Context {
	return withString(ctx, correlationIDKey, correlationID)
}

func CorrelationIDFromContext(ctx stdcontext.Context) string {
	return stringFrom(ctx, correlationIDKey)
}

func WithConnectionID(ctx stdcontext.Context, connectionID string) stdcontext.Context {
	return withString(ctx, connectionIDKey, connectionID)
}

func ConnectionIDFromContext(ctx stdcontext.Context) string {
	return stringFrom(ctx, connectionIDKey)
}

func withString(ctx stdcontext.Context, key ctxKey, value string) stdcontext.Context {
	value = strings.TrimSpace(value)
	if value == "" {
		return ctx
	}
	return stdcontext.WithValue(ctx, key, value)
}

func stringFrom(ctx stdcontext.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}
