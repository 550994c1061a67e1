package logger

import (
	"context"

	"go.uber.org/zap"

	"todoflow/pkg/trace"
)

func NewLogger() *zap.Logger {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return l
}

// WithTrace returns a logger carrying the correlation ID found in ctx, if any.
func WithTrace(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if id := trace.FromContext(ctx); id != "" {
		return logger.With(zap.String("correlation_id", id))
	}
	return logger
}
