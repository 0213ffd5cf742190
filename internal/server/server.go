// ABOUTME: CaptureServer: dedicated HTTP listener for the error ingestion routes
// ABOUTME: Adds /_dev/health, /metrics and a JSON 404 catch-all around the service

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hikmaai-io/devcapture/internal/api"
	"github.com/hikmaai-io/devcapture/internal/observability"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "error-capture"

// HealthPath is the health endpoint.
const HealthPath = "/_dev/health"

var (
	// ErrAddressInUse is returned by Start when the port is already bound.
	ErrAddressInUse = errors.New("address already in use")

	// ErrAlreadyRunning is returned by Start on a running server.
	ErrAlreadyRunning = errors.New("capture server already running")

	// ErrNotRunning is returned when an operation needs a bound listener.
	ErrNotRunning = errors.New("capture server not running")
)

// Config holds capture server configuration.
type Config struct {
	// Host to bind. Empty means localhost.
	Host string

	// Port to bind. Zero picks a free port.
	Port int

	// AllInterfaces binds 0.0.0.0 regardless of Host.
	AllInterfaces bool

	Service *api.Service
	Metrics *observability.CaptureMetrics
	Logger  *slog.Logger

	// ShutdownTimeout bounds Stop when its context has no deadline.
	ShutdownTimeout time.Duration
}

// Server serves the ingestion routes on its own listener.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	handler http.Handler

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
	startedAt  time.Time
	current    *serveRun

	serving atomic.Bool
}

// New creates a capture server. A nil Service gets a default one.
func New(cfg Config) *Server {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.AllInterfaces {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.DiscardLogger()
	}
	if cfg.Service == nil {
		cfg.Service = api.New(api.Config{Logger: cfg.Logger, Metrics: cfg.Metrics})
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	s := &Server{
		cfg:    cfg,
		logger: cfg.Logger,
	}
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+HealthPath, s.handleHealth)
	if s.cfg.Metrics != nil {
		mux.Handle("GET /metrics", s.cfg.Metrics.Handler())
	}
	mux.HandleFunc("/", handleNotFound)

	return api.LoggingMiddleware(s.logger, s.cfg.Service.Wrap(mux))
}

// Handler returns the full route tree, for use without a listener.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return ErrAlreadyRunning
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			return fmt.Errorf("%w: port %d on %s is taken by another process: %w",
				ErrAddressInUse, s.cfg.Port, s.cfg.Host, err)
		}
		return observability.NewErrorContext(observability.CodeListen, observability.CategoryPermanent, "listen "+addr).
			WithError(err)
	}

	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	run := &serveRun{done: make(chan struct{})}

	s.listener = ln
	s.httpServer = httpServer
	s.startedAt = time.Now()
	s.current = run
	s.serving.Store(true)

	go func() {
		defer close(run.done)
		err := httpServer.Serve(ln)
		s.serving.Store(false)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			run.err = err
			s.logger.Error("capture server stopped serving", slog.String("error", err.Error()))
		}
	}()

	observability.LogWithContext(ctx, s.logger, slog.LevelInfo, "capture server listening",
		slog.String("addr", ln.Addr().String()),
	)
	return nil
}

// Stop shuts the server down. Stopping a server that is not running is a
// no-op. A listener that failed or was closed underneath the server is
// reported in the returned error.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	httpServer, run := s.httpServer, s.current
	s.mu.Unlock()

	if httpServer == nil {
		return nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}

	shutdownErr := httpServer.Shutdown(ctx)
	if shutdownErr != nil {
		// Connections still open past the deadline are dropped.
		_ = httpServer.Close()
	}
	<-run.done

	s.mu.Lock()
	s.httpServer = nil
	s.listener = nil
	s.current = nil
	s.mu.Unlock()

	s.logger.Info("capture server stopped")

	if err := errors.Join(shutdownErr, run.err); err != nil {
		return fmt.Errorf("stopping capture server: %w", err)
	}
	return nil
}

// serveRun is one Start..Stop cycle. err is only read after done is closed.
type serveRun struct {
	done chan struct{}
	err  error
}

// IsRunning reports whether the listener is currently accepting connections.
func (s *Server) IsRunning() bool {
	return s.serving.Load()
}

// Addr returns the bound address.
func (s *Server) Addr() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return "", ErrNotRunning
	}
	return s.listener.Addr().String(), nil
}

// URL returns the base URL of the running server.
func (s *Server) URL() (string, error) {
	addr, err := s.Addr()
	if err != nil {
		return "", err
	}
	return "http://" + addr, nil
}

// HealthResponse is the body of GET /_dev/health.
type HealthResponse struct {
	Status  string  `json:"status"`
	Service string  `json:"service"`
	Uptime  float64 `json:"uptime"`
	Errors  int     `json:"errors"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	startedAt := s.startedAt
	s.mu.Unlock()

	var uptime float64
	if !startedAt.IsZero() {
		uptime = time.Since(startedAt).Seconds()
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Service: ServiceName,
		Uptime:  uptime,
		Errors:  s.cfg.Service.Store().GetErrorCount(),
	})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, api.ErrorResponse{
		Error:   "Not Found",
		Message: fmt.Sprintf("Cannot %s %s", r.Method, r.URL.Path),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
