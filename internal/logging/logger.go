// Package logging defines the structured-logging interface used across
// FileVault. The server wires it to log/slog; tests use Nop.
package logging

import "context"

// Logger is a context-aware, structured logger.
//
// The variadic args are key-value pairs, e.g.:
//
//	log.Info(ctx, "session created", "session", name)
type Logger interface {
	// Debug logs high-volume diagnostics such as per-chunk upload progress.
	Debug(ctx context.Context, msg string, args ...any)

	// Info logs an informational message.
	Info(ctx context.Context, msg string, args ...any)

	// Warn logs an unusual but recoverable condition.
	Warn(ctx context.Context, msg string, args ...any)

	// Error logs a failure. Background job failures end up here and nowhere else.
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key-value pairs.
	With(args ...any) Logger
}
