// ABOUTME: HTTP handlers for capturing, listing, clearing and summarizing errors
// ABOUTME: Capture enriches payloads from their stack before storing them

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"

	"github.com/hikmaai-io/devcapture/internal/format"
	"github.com/hikmaai-io/devcapture/internal/observability"
	"github.com/hikmaai-io/devcapture/internal/stacktrace"
	"github.com/hikmaai-io/devcapture/internal/store"
	"github.com/hikmaai-io/devcapture/internal/types"
)

// Error titles used in error responses.
const (
	errInvalidPayload = "Invalid error payload"
	errInternal       = "Internal server error"
)

// ErrorResponse is the body of every 4xx/5xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CaptureResponse is the body of a successful capture.
type CaptureResponse struct {
	Success bool   `json:"success"`
	ErrorID string `json:"errorId"`
	Message string `json:"message"`
}

// QueryResponse is the body of GET /_dev/errors.
type QueryResponse struct {
	Success bool                  `json:"success"`
	Count   int                   `json:"count"`
	Errors  []*types.ErrorPayload `json:"errors"`
}

// ClearResponse is the body of DELETE /_dev/errors.
type ClearResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	ClearedCount int    `json:"clearedCount"`
}

// StatsResponse is the body of GET /_dev/errors/stats.
type StatsResponse struct {
	Success    bool             `json:"success"`
	Statistics store.Statistics `json:"statistics"`
}

// HandleCapture handles POST /_dev/errors.
func (s *Service) HandleCapture(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), observability.SpanCapture)
	defer span.End()

	defer s.recoverInternal(w, r, "capture")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.metrics.RecordRejected(observability.ReasonTooLarge)
			observability.RecordRejected(span, observability.ReasonTooLarge, err)
			writeError(w, http.StatusBadRequest, errInvalidPayload,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		s.metrics.RecordRejected(observability.ReasonInvalidJSON)
		observability.RecordRejected(span, observability.ReasonInvalidJSON, err)
		writeError(w, http.StatusBadRequest, errInvalidPayload, "reading request body: "+err.Error())
		return
	}

	if !json.Valid(body) {
		s.metrics.RecordRejected(observability.ReasonInvalidJSON)
		observability.RecordRejected(span, observability.ReasonInvalidJSON, nil)
		writeError(w, http.StatusBadRequest, errInvalidPayload, "request body is not valid JSON")
		return
	}

	payload, err := types.DecodePayload(body)
	if err != nil {
		s.metrics.RecordRejected(observability.ReasonInvalidPayload)
		observability.RecordRejected(span, observability.ReasonInvalidPayload, err)
		s.log.Debug(ctx, "errcap rejected payload",
			slog.String("reason", err.Error()),
		)
		writeError(w, http.StatusBadRequest, errInvalidPayload, err.Error())
		return
	}

	s.enrich(payload)
	res := s.store.AddError(payload)

	observability.RecordCaptured(span, res.ErrorID, res.Outcome.String(), res.OccurrenceCount, res.EvictedID)

	s.metrics.RecordCapture(payload.Metadata.Severity.String(), res.Outcome == store.OutcomeMerged, res.EvictedID != "")
	s.metrics.SetStoreEntries(s.store.GetErrorCount())

	if s.sink != nil {
		ev := types.NewCaptureEvent(payload, res.Outcome.String(), res.OccurrenceCount, res.EvictedID, s.now())
		ev.ErrorID = res.ErrorID
		ev.CorrelationID = observability.FromContext(ctx).String()
		s.sink.Enqueue(ev)
	}

	if s.logToConsole {
		shown := payload.Clone()
		shown.Metadata.OccurrenceCount = res.OccurrenceCount
		fmt.Fprintln(s.console, format.FormatErrorForCLI(shown, s.format))
	}
	s.log.Debug(ctx, "errcap captured",
		slog.String("error_id", res.ErrorID),
		slog.String("signature", res.Signature),
		slog.String("severity", payload.Metadata.Severity.String()),
		slog.String("component", payload.ComponentName()),
		slog.Int("occurrences", res.OccurrenceCount),
	)

	writeJSON(w, http.StatusCreated, CaptureResponse{
		Success: true,
		ErrorID: payload.ErrorID,
		Message: "Error captured successfully",
	})
}

// enrich fills fields the client left empty from the raw stack and
// bounds the captured state.
func (s *Service) enrich(p *types.ErrorPayload) {
	p.Normalize()
	p.State = observability.RedactState(p.State, observability.DefaultStateDepth)

	if len(p.Error.SanitizedStack) == 0 && p.Error.Stack != "" {
		p.Error.SanitizedStack = stacktrace.ParseStackTrace(p.Error.Stack, s.projectRoot)
	}
	frames := p.Error.SanitizedStack

	if p.Source.FileName == "" {
		if top := stacktrace.TopLocalFrame(frames); top != nil {
			p.Source.FileName = top.FileName
			p.Source.LineNumber = top.LineNumber
			p.Source.ColumnNumber = top.ColumnNumber
		}
	}
	if p.Component.Name == "" {
		p.Component.Name = stacktrace.ExtractComponentNameFromStack(frames)
	}
	if p.Component.Lifecycle == "" {
		p.Component.Lifecycle = stacktrace.ExtractLifecycleHookFromStack(frames)
	}
}

// HandleQuery handles GET /_dev/errors.
func (s *Service) HandleQuery(w http.ResponseWriter, r *http.Request) {
	_, span := s.tracer.Start(r.Context(), observability.SpanQuery)
	defer span.End()

	defer s.recoverInternal(w, r, "query")

	q := r.URL.Query()
	filter := store.Filter{
		Component: q.Get("component"),
		Limit:     DefaultQueryLimit,
	}
	// An unknown severity leaves the filter off.
	if sev, ok := types.ParseSeverity(q.Get("severity")); ok {
		filter.Severity = sev
	}
	if raw := q.Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	errs := s.store.Query(filter)
	if errs == nil {
		errs = []*types.ErrorPayload{}
	}
	span.SetAttributes(observability.AttrCount.Int(len(errs)))

	writeJSON(w, http.StatusOK, QueryResponse{
		Success: true,
		Count:   len(errs),
		Errors:  errs,
	})
}

// HandleClear handles DELETE /_dev/errors.
func (s *Service) HandleClear(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), observability.SpanClear)
	defer span.End()

	defer s.recoverInternal(w, r, "clear")

	cleared := s.store.ClearErrors()
	s.metrics.SetStoreEntries(0)
	s.audit.LogClear(ctx, r.RemoteAddr, cleared)
	span.SetAttributes(observability.AttrCleared.Int(cleared))

	writeJSON(w, http.StatusOK, ClearResponse{
		Success:      true,
		Message:      fmt.Sprintf("Cleared %d errors", cleared),
		ClearedCount: cleared,
	})
}

// HandleStats handles GET /_dev/errors/stats.
func (s *Service) HandleStats(w http.ResponseWriter, r *http.Request) {
	_, span := s.tracer.Start(r.Context(), observability.SpanStats)
	defer span.End()

	defer s.recoverInternal(w, r, "stats")

	writeJSON(w, http.StatusOK, StatsResponse{
		Success:    true,
		Statistics: s.store.GetStatistics(),
	})
}

// recoverInternal turns a panic in a handler into a 500 for that request only.
func (s *Service) recoverInternal(w http.ResponseWriter, r *http.Request, op string) {
	v := recover()
	if v == nil {
		return
	}
	if v == http.ErrAbortHandler {
		panic(v)
	}

	errCtx := observability.NewErrorContext(observability.CodeCaptureFailed, observability.CategoryPermanent, op).
		WithError(fmt.Errorf("panic: %v", v)).
		WithStack(debug.Stack())
	s.log.Error(r.Context(), "errcap request failed",
		slog.Any("error", errCtx),
	)
	s.metrics.RecordRejected(observability.ReasonInternal)

	writeError(w, http.StatusInternalServerError, errInternal, fmt.Sprint(v))
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, title, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   title,
		Message: message,
	})
}
