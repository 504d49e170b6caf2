package logging

import (
	"context"
)

type contextKey string

const loggerKey contextKey = "logger"

// FromContext retrieves the logger stored in ctx, or the default logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext returns ctx carrying l.
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// HedgeContext scopes the default logger to hedge work against a primary.
func HedgeContext(pair, primaryID string) *Logger {
	return Default().
		WithField("primary_id", primaryID).
		WithComponent("hedge").
		WithPair(pair)
}

// SignalContext scopes the default logger to one trading signal.
func SignalContext(pair, signalType, side string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"signal_type": signalType,
		"side":        side,
	}).WithComponent("signal").WithPair(pair)
}
