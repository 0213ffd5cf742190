// ABOUTME: Structured logging with slog for the capture server and CLI
// ABOUTME: JSON or text handlers, terminal detection, and trace ID injection

package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// LoggingConfig holds configuration for structured logging.
type LoggingConfig struct {
	// Log level: debug, info, warn, error.
	Level string

	// Output format: json, text, or auto (text on a terminal, json otherwise).
	Format string

	// Service name to include in logs.
	ServiceName string

	// Service version to include in logs.
	Version string

	// Include source location in logs.
	AddSource bool
}

// NewLogger creates a structured logger writing to w (stderr when nil).
func NewLogger(cfg LoggingConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     ParseLogLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if useTextFormat(cfg.Format, w) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	var attrs []slog.Attr
	if cfg.ServiceName != "" {
		attrs = append(attrs, slog.String("service", cfg.ServiceName))
	}
	if cfg.Version != "" {
		attrs = append(attrs, slog.String("version", cfg.Version))
	}
	if len(attrs) > 0 {
		handler = handler.WithAttrs(attrs)
	}

	return slog.New(handler)
}

func useTextFormat(format string, w io.Writer) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text":
		return true
	case "auto", "":
		return IsTerminal(w)
	default:
		return false
	}
}

// IsTerminal reports whether w is a file attached to a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// ParseLogLevel parses a log level string into a slog.Level.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogWithContext logs a message with the trace, span and correlation ids found in ctx.
func LogWithContext(ctx context.Context, logger *slog.Logger, level slog.Level, msg string, args ...any) {
	if traceID := ExtractTraceID(ctx); traceID != "" {
		args = append(args, slog.String("trace_id", traceID))
	}
	if spanID := ExtractSpanID(ctx); spanID != "" {
		args = append(args, slog.String("span_id", spanID))
	}
	if id := FromContext(ctx); id != "" {
		args = append(args, slog.String("correlation_id", id.String()))
	}

	logger.Log(ctx, level, msg, args...)
}

// ContextLogger is a debug/info/warn/error logger that adds the trace, span
// and correlation ids of the request context to every record.
type ContextLogger struct {
	logger *slog.Logger
}

// NewContextLogger creates a new context-aware logger.
func NewContextLogger(logger *slog.Logger) *ContextLogger {
	if logger == nil {
		logger = DiscardLogger()
	}
	return &ContextLogger{logger: logger}
}

// Debug logs a debug message with trace context.
func (cl *ContextLogger) Debug(ctx context.Context, msg string, args ...any) {
	LogWithContext(ctx, cl.logger, slog.LevelDebug, msg, args...)
}

// Info logs an info message with trace context.
func (cl *ContextLogger) Info(ctx context.Context, msg string, args ...any) {
	LogWithContext(ctx, cl.logger, slog.LevelInfo, msg, args...)
}

// Warn logs a warning message with trace context.
func (cl *ContextLogger) Warn(ctx context.Context, msg string, args ...any) {
	LogWithContext(ctx, cl.logger, slog.LevelWarn, msg, args...)
}

// Error logs an error message with trace context.
func (cl *ContextLogger) Error(ctx context.Context, msg string, args ...any) {
	LogWithContext(ctx, cl.logger, slog.LevelError, msg, args...)
}

// With returns a new logger with the given attributes.
func (cl *ContextLogger) With(args ...any) *ContextLogger {
	return &ContextLogger{logger: cl.logger.With(args...)}
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
