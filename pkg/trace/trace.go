package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
)

type contextKey struct{}

// GenerateCorrelationID generates a new correlation ID.
func GenerateCorrelationID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// FromContext returns the correlation ID carried by ctx, or "".
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(contextKey{}).(string); ok {
		return id
	}
	return ""
}

// WithContext attaches a correlation ID to ctx.
func WithContext(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, contextKey{}, correlationID)
}

// HeaderName returns the HTTP header used to propagate correlation IDs.
func HeaderName() string {
	return "X-Correlation-ID"
}
