// ABOUTME: Audit logging for destructive and bulk operations on the error store
// ABOUTME: Records clears, imports and exports with the request correlation id

package observability

import (
	"context"
	"log/slog"
	"time"
)

// Audit event type constants.
const (
	EventTypeStore  = "STORE"
	EventTypeExport = "EXPORT"
)

// Audit action constants.
const (
	ActionCreate = "CREATE"
	ActionRead   = "READ"
	ActionDelete = "DELETE"
)

// Audit result constants.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// AuditLogger records audit_event lines.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = DiscardLogger()
	}
	return &AuditLogger{
		logger: logger,
	}
}

// LogClear logs removal of every stored error.
func (a *AuditLogger) LogClear(ctx context.Context, remoteAddr string, cleared int) {
	a.logger.InfoContext(ctx, "audit_event",
		slog.String("event_type", EventTypeStore),
		slog.String("action", ActionDelete),
		slog.String("actor", remoteAddr),
		slog.Int("cleared_count", cleared),
		slog.String("result", ResultSuccess),
		slog.String("correlation_id", FromContext(ctx).String()),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// LogImport logs a bulk import into the store.
func (a *AuditLogger) LogImport(ctx context.Context, source string, attempted int, err error) {
	attrs := []any{
		slog.String("event_type", EventTypeStore),
		slog.String("action", ActionCreate),
		slog.String("resource", source),
		slog.Int("attempted", attempted),
		slog.String("correlation_id", FromContext(ctx).String()),
		slog.Time("timestamp", time.Now().UTC()),
	}
	if err != nil {
		attrs = append(attrs, slog.String("result", ResultFailure), slog.String("error", err.Error()))
		a.logger.WarnContext(ctx, "audit_event", attrs...)
		return
	}
	attrs = append(attrs, slog.String("result", ResultSuccess))
	a.logger.InfoContext(ctx, "audit_event", attrs...)
}

// LogExport logs an export written to a file, archive or bucket.
func (a *AuditLogger) LogExport(ctx context.Context, destination string, errors int) {
	a.logger.InfoContext(ctx, "audit_event",
		slog.String("event_type", EventTypeExport),
		slog.String("action", ActionRead),
		slog.String("resource", destination),
		slog.Int("error_count", errors),
		slog.String("result", ResultSuccess),
		slog.String("correlation_id", FromContext(ctx).String()),
		slog.Time("timestamp", time.Now().UTC()),
	)
}
