// ABOUTME: Correlation IDs tying capture requests to their log lines
// ABOUTME: Reads X-Correlation-ID or mints a UUID and echoes it on the response

package observability

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// CorrelationIDHeader is the HTTP header carrying correlation IDs.
const CorrelationIDHeader = "X-Correlation-ID"

type correlationIDKey struct{}

// CorrelationID identifies one request across log lines.
type CorrelationID string

// String returns the string representation of the correlation ID.
func (c CorrelationID) String() string {
	return string(c)
}

// NewCorrelationID generates a new correlation ID.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.New().String())
}

// WithCorrelationID attaches a correlation ID to ctx.
func WithCorrelationID(ctx context.Context, id CorrelationID) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// FromContext returns the correlation ID in ctx, or "".
func FromContext(ctx context.Context) CorrelationID {
	id, _ := ctx.Value(correlationIDKey{}).(CorrelationID)
	return id
}

// EnsureCorrelationID takes the request's correlation ID (or mints one),
// echoes it on the response, and returns a context carrying it.
func EnsureCorrelationID(w http.ResponseWriter, r *http.Request) context.Context {
	id := CorrelationID(r.Header.Get(CorrelationIDHeader))
	if id == "" {
		id = NewCorrelationID()
	}
	w.Header().Set(CorrelationIDHeader, id.String())
	return WithCorrelationID(r.Context(), id)
}
