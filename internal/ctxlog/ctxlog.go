// Package ctxlog carries a slog.Logger through context.Context so every
// component logs with the attributes accumulated by its caller.
package ctxlog

import (
	"context"
	"log/slog"
)

// key is unexported to keep this package's context entries private.
type key struct{}

var loggerKey = key{}

// WithLogger returns a child context carrying the given logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the logger stored in ctx, or the process default
// logger when none was attached. Background goroutines spawned without a
// prepared context still get usable output that way.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// With attaches additional attributes to the context's logger and returns a
// context carrying the derived logger.
func With(ctx context.Context, args ...any) context.Context {
	return WithLogger(ctx, FromContext(ctx).With(args...))
}
