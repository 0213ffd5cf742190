// ABOUTME: Tests for the capture server HTTP client
// ABOUTME: Runs against the real route tree behind httptest

package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hikmaai-io/devcapture/internal/api"
	"github.com/hikmaai-io/devcapture/internal/observability"
	"github.com/hikmaai-io/devcapture/internal/server"
	"github.com/hikmaai-io/devcapture/internal/store"
	"github.com/hikmaai-io/devcapture/internal/types"
)

func newTestClient(t *testing.T) (*Client, *store.Store) {
	t.Helper()

	st := store.New(store.Config{MaxSize: 50})
	srv := server.New(server.Config{Service: api.New(api.Config{Store: st})})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return New(Config{BaseURL: ts.URL}), st
}

func testPayload(id, message, component string, line int, severity types.Severity) *types.ErrorPayload {
	return &types.ErrorPayload{
		ErrorID:   id,
		Timestamp: "2026-10-18T10:00:00Z",
		Error: types.ErrorInfo{
			Message:        message,
			Name:           "Error",
			SanitizedStack: []types.StackFrame{},
		},
		Component: types.ComponentInfo{Name: component},
		Source:    types.SourceLocation{FileName: "a.js", LineNumber: line},
		Metadata:  types.Metadata{Severity: severity},
	}
}

func TestClient_CaptureListStatsClear(t *testing.T) {
	t.Parallel()

	c, st := newTestClient(t)
	ctx := context.Background()

	for i, p := range []*types.ErrorPayload{
		testPayload("e1", "boom", "c-one", 1, types.SeverityError),
		testPayload("e2", "boom", "c-one", 1, types.SeverityError),
		testPayload("e3", "slow", "c-two", 2, types.SeverityWarning),
	} {
		id, err := c.Capture(ctx, p)
		if err != nil {
			t.Fatalf("Capture(%d) error: %v", i, err)
		}
		if id != p.ErrorID {
			t.Errorf("Capture(%d) id = %q, want %q", i, id, p.ErrorID)
		}
	}
	if st.GetErrorCount() != 2 {
		t.Errorf("GetErrorCount() = %d, want 2", st.GetErrorCount())
	}

	errs, err := c.List(ctx, Query{Severity: "warning"})
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(errs) != 1 || errs[0].ErrorID != "e3" {
		t.Errorf("List(warning) = %d errors, want only e3", len(errs))
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.TotalErrors != 2 || stats.TotalOccurrences != 3 {
		t.Errorf("Stats() = %+v, want 2 errors 3 occurrences", stats)
	}

	health, err := c.Health(ctx)
	if err != nil {
		t.Fatalf("Health() error: %v", err)
	}
	if health.Errors != 2 {
		t.Errorf("Health().Errors = %d, want 2", health.Errors)
	}

	cleared, err := c.Clear(ctx)
	if err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if cleared != 2 {
		t.Errorf("Clear() = %d, want 2", cleared)
	}
}

func TestClient_CaptureInvalid(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t)

	_, err := c.Capture(context.Background(), &types.ErrorPayload{ErrorID: "x"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("Capture() error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Title != "Invalid error payload" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestClient_ExportImport(t *testing.T) {
	t.Parallel()

	src, _ := newTestClient(t)
	dst, dstStore := newTestClient(t)
	ctx := context.Background()

	for _, p := range []*types.ErrorPayload{
		testPayload("e1", "one", "c-one", 1, types.SeverityError),
		testPayload("e2", "two", "c-one", 2, types.SeverityFatal),
	} {
		if _, err := src.Capture(ctx, p); err != nil {
			t.Fatalf("Capture() error: %v", err)
		}
	}

	data, err := src.Export(ctx)
	if err != nil {
		t.Fatalf("Export() error: %v", err)
	}
	var exported []json.RawMessage
	if err := json.Unmarshal(data, &exported); err != nil || len(exported) != 2 {
		t.Fatalf("Export() = %s, want array of 2", data)
	}

	// Append a null and an invalid entry.
	exported = append(exported, json.RawMessage(`null`), json.RawMessage(`{"errorId":"bad"}`))
	data, _ = json.Marshal(exported)

	res, err := dst.Import(ctx, data)
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	if res.Sent != 2 || res.Skipped != 2 {
		t.Errorf("Import() = %+v, want 2 sent 2 skipped", res)
	}
	if got := dstStore.GetErrorCount(); got != 2 {
		t.Errorf("destination count = %d, want 2", got)
	}
	if _, ok := dstStore.GetError("e2"); !ok {
		t.Error("destination is missing e2")
	}
}

func TestClient_ImportRejectsNonArray(t *testing.T) {
	t.Parallel()

	c, _ := newTestClient(t)
	if _, err := c.Import(context.Background(), []byte(`{"a":1}`)); err == nil {
		t.Error("Import() expected error, got nil")
	}
}

func TestClient_SendsCorrelationID(t *testing.T) {
	t.Parallel()

	got := make(chan string, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get(observability.CorrelationIDHeader)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"statistics":{"totalErrors":0}}`))
	}))
	defer ts.Close()

	ctx := observability.WithCorrelationID(context.Background(), "cli-1")
	if _, err := New(Config{BaseURL: ts.URL}).Stats(ctx); err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if id := <-got; id != "cli-1" {
		t.Errorf("correlation header = %q, want cli-1", id)
	}
}

func TestAPIError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  *APIError
		want string
	}{
		{&APIError{Status: 502}, "server returned status 502"},
		{&APIError{Status: 400, Title: "Invalid error payload", Message: "errorId is required"},
			"server returned 400: Invalid error payload: errorId is required"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}
