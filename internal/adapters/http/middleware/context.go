// Package middleware provides HTTP middleware for the Gin framework.
package middleware

import "context"

// transportID names an inbound label carried on context.Context for code
// that runs outside gin handlers, such as probe branches.
type transportID uint8

const (
	requestIDKey transportID = iota + 1
	correlationIDKey
)

func withTransportID(ctx context.Context, key transportID, id string) context.Context {
	return context.WithValue(ctx, key, id)
}

func transportIDFrom(ctx context.Context, key transportID) string {
	if ctx == nil {
		return ""
	}

	id, _ := ctx.Value(key).(string)

	return id
}

// RequestIDFromContext returns the X-Request-ID label, or "" when unset.
// It never identifies the request's diagnostic context.
func RequestIDFromContext(ctx context.Context) string {
	return transportIDFrom(ctx, requestIDKey)
}

// CorrelationIDFromContext returns the X-Correlation-ID label, or "".
func CorrelationIDFromContext(ctx context.Context) string {
	return transportIDFrom(ctx, correlationIDKey)
}

// ContextWithRequestID stores the request ID label.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return withTransportID(ctx, requestIDKey, id)
}

// ContextWithCorrelationID stores the correlation ID label.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return withTransportID(ctx, correlationIDKey, id)
}
