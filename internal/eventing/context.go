package eventing

import "context"

type contextKey string

const contextKeyCorr contextKey = "eventing.correlation_id"

// WithCorrelationID sets correlation id in context.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, contextKeyCorr, correlationID)
}

// CorrelationIDFromContext returns the correlation id if present.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(contextKeyCorr).(string); ok {
		return value
	}
	return ""
}

// MetaFromContext builds metadata from context.
func MetaFromContext(ctx context.Context) Meta {
	return Meta{CorrelationID: CorrelationIDFromContext(ctx)}
}
