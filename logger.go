package vecvault

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with vecvault-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithOwner adds an owner field to the logger.
func (l *Logger) WithOwner(ownerID string) *Logger {
	return &Logger{
		Logger: l.Logger.With("owner", ownerID),
	}
}

// LogAdd logs a vector submission.
func (l *Logger) LogAdd(ctx context.Context, ownerID string, localID uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "add failed",
			"owner", ownerID,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "add accepted",
			"owner", ownerID,
			"local_id", localID,
		)
	}
}

// LogQuery logs a query operation.
func (l *Logger) LogQuery(ctx context.Context, ownerID, requesterID string, k, resultsFound int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"owner", ownerID,
			"requester", requesterID,
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "query completed",
			"owner", ownerID,
			"requester", requesterID,
			"k", k,
			"results", resultsFound,
		)
	}
}

// LogFlush logs a flush operation.
func (l *Logger) LogFlush(ctx context.Context, ownerID string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"owner", ownerID,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "flush completed",
			"owner", ownerID,
		)
	}
}
