// ABOUTME: Dispatches capture events received from NATS to a callback
// ABOUTME: Decodes, traces and logs each message before handing it on

package queue

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hikmaai-io/devcapture/internal/observability"
	"github.com/hikmaai-io/devcapture/internal/types"
)

// EventFunc receives decoded capture events.
type EventFunc func(ctx context.Context, ev types.CaptureEvent)

// Handler decodes raw messages and passes events to an EventFunc.
type Handler struct {
	fn     EventFunc
	logger *slog.Logger
}

// NewHandler creates a new message handler.
func NewHandler(fn EventFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Handler{fn: fn, logger: logger}
}

// HandleMessage decodes one message and dispatches it.
// Malformed messages are logged and returned as errors without dispatch.
func (h *Handler) HandleMessage(ctx context.Context, subject string, data []byte) error {
	ctx, span := observability.StartSpan(ctx, "nats.handle_event",
		attribute.String("messaging.destination", subject),
	)
	defer span.End()

	ev, err := DecodeEvent(data)
	if err != nil {
		h.logger.Warn("dropping malformed capture event",
			slog.String("subject", subject),
			slog.Any("error", err),
		)
		return err
	}

	h.logger.Debug("received capture event",
		slog.String("subject", subject),
		slog.String("error_id", ev.ErrorID),
		slog.String("outcome", ev.Outcome),
	)
	h.fn(ctx, ev)
	return nil
}
