// ABOUTME: IngestionService middleware serving the /_dev/errors routes
// ABOUTME: Dispatches capture, query, clear and stats; passes other requests through

package api

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/hikmaai-io/devcapture/internal/format"
	"github.com/hikmaai-io/devcapture/internal/observability"
	"github.com/hikmaai-io/devcapture/internal/store"
	"github.com/hikmaai-io/devcapture/internal/types"
)

// Route paths.
const (
	ErrorsPath = "/_dev/errors"
	StatsPath  = "/_dev/errors/stats"
)

// DefaultMaxBodyBytes caps a capture request body.
const DefaultMaxBodyBytes = 1 << 20

// DefaultQueryLimit is the number of errors returned when ?limit= is absent.
const DefaultQueryLimit = 100

// ErrorStore is the subset of the store the ingestion routes use.
type ErrorStore interface {
	AddError(p *types.ErrorPayload) store.AddResult
	Query(f store.Filter) []*types.ErrorPayload
	ClearErrors() int
	GetErrorCount() int
	GetStatistics() store.Statistics
}

// EventSink receives captured errors for delivery outside the process.
type EventSink interface {
	Enqueue(ev types.CaptureEvent) bool
}

// Config holds configuration for the ingestion service.
type Config struct {
	Store ErrorStore

	// ProjectRoot is used to decide which frames are local source.
	ProjectRoot string

	// LogToConsole writes a formatted block to Console on every capture.
	LogToConsole bool
	Console      io.Writer
	Format       format.Options

	MaxBodyBytes int64

	Logger  *slog.Logger
	Tracer  trace.Tracer
	Metrics *observability.CaptureMetrics
	Audit   *observability.AuditLogger
	Sink    EventSink

	Now func() time.Time
}

// Service implements the error ingestion routes.
type Service struct {
	store        ErrorStore
	projectRoot  string
	logToConsole bool
	console      io.Writer
	format       format.Options
	maxBodyBytes int64
	log          *observability.ContextLogger
	tracer       trace.Tracer
	metrics      *observability.CaptureMetrics
	audit        *observability.AuditLogger
	sink         EventSink
	now          func() time.Time
}

// New creates an ingestion service. A nil Store gets a fresh default store.
func New(cfg Config) *Service {
	if cfg.Store == nil {
		cfg.Store = store.New(store.Config{})
	}
	if cfg.Console == nil {
		cfg.Console = os.Stderr
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.DiscardLogger()
	}
	if cfg.Audit == nil {
		cfg.Audit = observability.NewAuditLogger(cfg.Logger)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(observability.TracerName)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		store:        cfg.Store,
		projectRoot:  cfg.ProjectRoot,
		logToConsole: cfg.LogToConsole,
		console:      cfg.Console,
		format:       cfg.Format,
		maxBodyBytes: cfg.MaxBodyBytes,
		log:          observability.NewContextLogger(cfg.Logger).With(slog.String("subsystem", "errcap")),
		tracer:       cfg.Tracer,
		metrics:      cfg.Metrics,
		audit:        cfg.Audit,
		sink:         cfg.Sink,
		now:          cfg.Now,
	}
}

// Store returns the store the service writes to.
func (s *Service) Store() ErrorStore {
	return s.store
}

// Wrap returns a handler serving the ingestion routes and delegating
// everything else to next. A nil next answers 404.
func (s *Service) Wrap(next http.Handler) http.Handler {
	if next == nil {
		next = http.NotFoundHandler()
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, ErrorsPath) {
			next.ServeHTTP(w, r)
			return
		}

		setCORSHeaders(w)
		ctx := observability.EnsureCorrelationID(w, r)
		r = r.WithContext(ctx)

		var handle http.HandlerFunc
		switch {
		case r.Method == http.MethodGet && r.URL.Path == StatsPath:
			handle = s.HandleStats
		case r.Method == http.MethodPost && r.URL.Path == ErrorsPath:
			handle = s.HandleCapture
		case r.Method == http.MethodGet && r.URL.Path == ErrorsPath:
			handle = s.HandleQuery
		case r.Method == http.MethodDelete && r.URL.Path == ErrorsPath:
			handle = s.HandleClear
		case r.Method == http.MethodOptions:
			handle = handlePreflight
		default:
			next.ServeHTTP(w, r)
			return
		}

		start := s.now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handle(rec, r)
		s.metrics.ObserveRequest(r.Method, rec.status, s.now().Sub(start))
	})
}

func setCORSHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type")
}

func handlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// statusRecorder remembers the status code written through it.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

// LoggingMiddleware logs one line per request at debug level.
func LoggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	log := observability.NewContextLogger(logger)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		// Skip logging for health checks.
		if strings.HasSuffix(r.URL.Path, "/health") {
			return
		}
		log.Debug(r.Context(), "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
