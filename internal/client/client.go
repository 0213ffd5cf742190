// ABOUTME: HTTP client for a running capture server
// ABOUTME: Wraps the /_dev/errors and /_dev/health routes for the CLI

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hikmaai-io/devcapture/internal/api"
	"github.com/hikmaai-io/devcapture/internal/observability"
	"github.com/hikmaai-io/devcapture/internal/server"
	"github.com/hikmaai-io/devcapture/internal/store"
	"github.com/hikmaai-io/devcapture/internal/types"
)

// Default client configuration values.
const (
	defaultTimeout = 10 * time.Second
)

// Config holds configuration for the client.
type Config struct {
	// BaseURL of the capture server (e.g., "http://localhost:9876").
	BaseURL string

	// Timeout for HTTP requests.
	Timeout time.Duration

	// HTTPClient is an optional custom HTTP client. If nil, a default client is created.
	HTTPClient *http.Client
}

// Client talks to a capture server.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client with the given configuration.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: timeout,
		}
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: httpClient,
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Title   string
	Message string
}

func (e *APIError) Error() string {
	if e.Title == "" {
		return fmt.Sprintf("server returned status %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s: %s", e.Status, e.Title, e.Message)
}

// Query selects errors to list.
type Query struct {
	Component string
	Severity  string
	Limit     int
}

// ImportResult reports the outcome of Import.
type ImportResult struct {
	// Sent is the number of payloads the server accepted.
	Sent int

	// Skipped counts null or rejected entries.
	Skipped int
}

// Health returns the server health.
func (c *Client) Health(ctx context.Context) (*server.HealthResponse, error) {
	var resp server.HealthResponse
	if err := c.do(ctx, http.MethodGet, server.HealthPath, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Capture posts a payload and returns the errorId the server acknowledged.
func (c *Client) Capture(ctx context.Context, p *types.ErrorPayload) (string, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	return c.captureRaw(ctx, body)
}

func (c *Client) captureRaw(ctx context.Context, body []byte) (string, error) {
	var resp api.CaptureResponse
	if err := c.do(ctx, http.MethodPost, api.ErrorsPath, body, http.StatusCreated, &resp); err != nil {
		return "", err
	}
	return resp.ErrorID, nil
}

// List returns captured errors matching q.
func (c *Client) List(ctx context.Context, q Query) ([]*types.ErrorPayload, error) {
	params := url.Values{}
	if q.Component != "" {
		params.Set("component", q.Component)
	}
	if q.Severity != "" {
		params.Set("severity", q.Severity)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	path := api.ErrorsPath
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp api.QueryResponse
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Errors, nil
}

// Stats returns the server's store statistics.
func (c *Client) Stats(ctx context.Context) (store.Statistics, error) {
	var resp api.StatsResponse
	if err := c.do(ctx, http.MethodGet, api.StatsPath, nil, http.StatusOK, &resp); err != nil {
		return store.Statistics{}, err
	}
	return resp.Statistics, nil
}

// Clear removes every error and returns how many there were.
func (c *Client) Clear(ctx context.Context) (int, error) {
	var resp api.ClearResponse
	if err := c.do(ctx, http.MethodDelete, api.ErrorsPath, nil, http.StatusOK, &resp); err != nil {
		return 0, err
	}
	return resp.ClearedCount, nil
}

// Export returns every stored error as an indented JSON array.
func (c *Client) Export(ctx context.Context) ([]byte, error) {
	errs, err := c.List(ctx, Query{Limit: math.MaxInt32})
	if err != nil {
		return nil, err
	}
	if errs == nil {
		errs = []*types.ErrorPayload{}
	}
	data, err := json.MarshalIndent(errs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding export: %w", err)
	}
	return data, nil
}

// Import posts each entry of an exported JSON array. Null entries and
// entries the server rejects as invalid are skipped.
func (c *Client) Import(ctx context.Context, data []byte) (ImportResult, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(data, &entries); err != nil {
		return ImportResult{}, fmt.Errorf("import must be a JSON array: %w", err)
	}

	var res ImportResult
	for _, raw := range entries {
		if string(bytes.TrimSpace(raw)) == "null" {
			res.Skipped++
			continue
		}
		_, err := c.captureRaw(ctx, raw)
		var apiErr *APIError
		switch {
		case err == nil:
			res.Sent++
		case errors.As(err, &apiErr) && apiErr.Status == http.StatusBadRequest:
			res.Skipped++
		default:
			return res, err
		}
	}
	return res, nil
}

// do sends a request and decodes a response with the wanted status into out.
func (c *Client) do(ctx context.Context, method, path string, body []byte, want int, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if id := observability.FromContext(ctx); id != "" {
		req.Header.Set(observability.CorrelationIDHeader, id.String())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request to %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode != want {
		apiErr := &APIError{Status: resp.StatusCode}
		var errResp api.ErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil {
			apiErr.Title = errResp.Error
			apiErr.Message = errResp.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding response from %s: %w", path, err)
	}
	return nil
}
