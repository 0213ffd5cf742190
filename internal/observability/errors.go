// ABOUTME: Structured error context for capture pipeline failures
// ABOUTME: Error codes and categories with slog integration

package observability

import (
	"fmt"
	"log/slog"
)

// Error category constants.
const (
	CategoryTransient = "transient"  // Retryable (broker down, timeout).
	CategoryPermanent = "permanent"  // Not retryable (internal bug).
	CategoryUserError = "user_error" // Caused by client input.
)

// Error code constants.
const (
	CodeInvalidPayload = "INVALID_PAYLOAD"
	CodeCaptureFailed  = "CAPTURE_FAILED"
	CodeSinkPublish    = "SINK_PUBLISH_FAILED"
	CodeListen         = "LISTEN_FAILED"
)

// ErrorContext provides structured context for errors.
type ErrorContext struct {
	Code      string `json:"code"`
	Category  string `json:"category"`
	Operation string `json:"operation"`

	// StackTrace holds a goroutine stack, typically from a recovered panic.
	StackTrace string `json:"stack_trace,omitempty"`

	Details any `json:"details,omitempty"`

	Err error `json:"-"`
}

// NewErrorContext creates a new error context.
func NewErrorContext(code, category, operation string) *ErrorContext {
	return &ErrorContext{
		Code:      code,
		Category:  category,
		Operation: operation,
	}
}

// WithStack attaches a captured stack trace.
func (e *ErrorContext) WithStack(stack []byte) *ErrorContext {
	e.StackTrace = string(stack)
	return e
}

// WithDetails adds additional context details.
func (e *ErrorContext) WithDetails(details any) *ErrorContext {
	e.Details = details
	return e
}

// WithError attaches the underlying error.
func (e *ErrorContext) WithError(err error) *ErrorContext {
	e.Err = err
	return e
}

// IsRetryable returns true if the error is retryable.
func (e *ErrorContext) IsRetryable() bool {
	return e.Category == CategoryTransient
}

// Error implements the error interface.
func (e *ErrorContext) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Operation, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Operation)
}

// Unwrap returns the underlying error.
func (e *ErrorContext) Unwrap() error {
	return e.Err
}

// LogValue implements slog.LogValuer.
func (e *ErrorContext) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("code", e.Code),
		slog.String("category", e.Category),
		slog.String("operation", e.Operation),
		slog.Bool("is_retryable", e.IsRetryable()),
	}
	if e.StackTrace != "" {
		attrs = append(attrs, slog.String("stack_trace", e.StackTrace))
	}
	if e.Details != nil {
		attrs = append(attrs, slog.Any("details", e.Details))
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("error", e.Err.Error()))
	}
	return slog.GroupValue(attrs...)
}
