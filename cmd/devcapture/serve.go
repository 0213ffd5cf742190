// ABOUTME: Serve command running the capture server in the foreground
// ABOUTME: Wires store, metrics, tracing, broker sinks and graceful shutdown

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/devcapture/internal/api"
	"github.com/hikmaai-io/devcapture/internal/archive"
	"github.com/hikmaai-io/devcapture/internal/config"
	"github.com/hikmaai-io/devcapture/internal/format"
	"github.com/hikmaai-io/devcapture/internal/observability"
	"github.com/hikmaai-io/devcapture/internal/queue"
	"github.com/hikmaai-io/devcapture/internal/redis"
	"github.com/hikmaai-io/devcapture/internal/resilience"
	"github.com/hikmaai-io/devcapture/internal/server"
	"github.com/hikmaai-io/devcapture/internal/sink"
	"github.com/hikmaai-io/devcapture/internal/store"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var (
		port          int
		host          string
		allInterfaces bool
		projectRoot   string
		maxSize       int
		compact       bool
		fullStack     bool
		quiet         bool
		natsURL       string
		redisAddr     string
		loadFile      string
		saveFile      string
		archiveOnExit bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the capture server",
		Long: `Run the capture server in the foreground.

The server accepts error reports at POST /_dev/errors, answers queries at
GET /_dev/errors and /_dev/errors/stats, and exposes /_dev/health and
/metrics. Captured errors are printed to the console as they arrive.

Examples:
  devcapture serve
  devcapture serve --port 9000 --project-root ./src
  devcapture serve --nats-url nats://localhost:4222 --save errors.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.Server.Port = port
			}
			if flags.Changed("host") {
				cfg.Server.Host = host
			}
			if flags.Changed("all-interfaces") {
				cfg.Server.AllInterfaces = allInterfaces
			}
			if flags.Changed("project-root") {
				cfg.Capture.ProjectRoot = projectRoot
			}
			if flags.Changed("max-size") {
				cfg.Store.MaxSize = maxSize
			}
			if flags.Changed("compact") {
				cfg.Capture.Compact = compact
			}
			if flags.Changed("full-stack") {
				cfg.Capture.ShowFullStack = fullStack
			}
			if quiet {
				cfg.Capture.LogToConsole = false
			}
			if natsURL != "" {
				cfg.Sinks.NATS.URL = natsURL
			}
			if redisAddr != "" {
				cfg.Sinks.Redis.Addr = redisAddr
			}
			if cfg.Capture.ProjectRoot == "" {
				if wd, err := os.Getwd(); err == nil {
					cfg.Capture.ProjectRoot = wd
				}
			}

			return runServe(cmd.Context(), cfg, serveOptions{
				loadFile:      loadFile,
				saveFile:      saveFile,
				archiveOnExit: archiveOnExit,
			})
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", config.DefaultPort, "port to listen on")
	cmd.Flags().StringVar(&host, "host", config.DefaultHost, "host to bind")
	cmd.Flags().BoolVar(&allInterfaces, "all-interfaces", false, "bind 0.0.0.0")
	cmd.Flags().StringVar(&projectRoot, "project-root", "", "project root for local frame detection (default: working directory)")
	cmd.Flags().IntVar(&maxSize, "max-size", config.DefaultStoreMaxSize, "maximum distinct errors kept")
	cmd.Flags().BoolVar(&compact, "compact", false, "print one line per captured error")
	cmd.Flags().BoolVar(&fullStack, "full-stack", false, "include library frames in console output")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print captured errors")
	cmd.Flags().StringVar(&natsURL, "nats-url", "", "publish capture events to this NATS server")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "", "append capture events to a Redis stream at this address")
	cmd.Flags().StringVar(&loadFile, "load", "", "import a JSON export into the store at startup")
	cmd.Flags().StringVar(&saveFile, "save", "", "write a JSON export of the store on shutdown")
	cmd.Flags().BoolVar(&archiveOnExit, "archive-on-exit", false, "save a snapshot to the local archive on shutdown")

	return cmd
}

type serveOptions struct {
	loadFile      string
	saveFile      string
	archiveOnExit bool
}

func runServe(parent context.Context, cfg *config.Config, opts serveOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	audit := observability.NewAuditLogger(logger)

	tp, err := observability.NewTracerProvider(ctx, observability.TracingConfig{
		Enabled:       cfg.Tracing.Enabled,
		ServiceName:   "devcapture",
		Version:       version,
		Endpoint:      cfg.Tracing.Endpoint,
		Insecure:      cfg.Tracing.Insecure,
		SamplingRatio: cfg.Tracing.SamplingRatio,
	})
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	st := store.New(store.Config{MaxSize: cfg.Store.MaxSize})

	if opts.loadFile != "" {
		data, err := os.ReadFile(opts.loadFile)
		if err != nil {
			audit.LogImport(ctx, opts.loadFile, 0, err)
			return fmt.Errorf("reading %s: %w", opts.loadFile, err)
		}
		n := st.ImportFromJSON(data)
		audit.LogImport(ctx, opts.loadFile, n, nil)
		logger.Info("loaded errors", slog.String("file", opts.loadFile), slog.Int("count", n))
	}

	metrics := observability.NewCaptureMetrics()
	metrics.SetStoreEntries(st.GetErrorCount())

	fanout, closers := buildSinks(ctx, cfg, logger)
	defer func() {
		for _, c := range closers {
			_ = c()
		}
	}()

	svc := api.New(api.Config{
		Store:        st,
		ProjectRoot:  cfg.Capture.ProjectRoot,
		LogToConsole: cfg.Capture.LogToConsole,
		Console:      os.Stderr,
		Format: format.Options{
			ShowFullStack: cfg.Capture.ShowFullStack,
			Colorize:      colorize(os.Stderr),
			Compact:       cfg.Capture.Compact,
		},
		MaxBodyBytes: cfg.Capture.MaxBodyBytes,
		Logger:       logger,
		Tracer:       tp.Tracer(),
		Metrics:      metrics,
		Audit:        audit,
		Sink:         fanout,
	})

	srv := server.New(server.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		AllInterfaces:   cfg.Server.AllInterfaces,
		Service:         svc,
		Metrics:         metrics,
		Logger:          logger,
		ShutdownTimeout: shutdownTimeout,
	})

	if err := srv.Start(ctx); err != nil {
		_ = fanout.Close(context.Background())
		return err
	}
	url, _ := srv.URL()
	logger.Info("capture server started",
		slog.String("url", url),
		slog.String("project_root", cfg.Capture.ProjectRoot),
		slog.Int("max_size", st.MaxSize()),
	)

	<-ctx.Done()
	logger.Info("shutting down capture server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	stopErr := srv.Stop(shutdownCtx)
	if err := fanout.Close(shutdownCtx); err != nil {
		logger.Warn("sink drain incomplete", slog.String("error", err.Error()))
	}

	if err := persistOnExit(shutdownCtx, cfg, st, audit, opts, logger); err != nil {
		logger.Error("persisting errors", slog.String("error", err.Error()))
	}

	return stopErr
}

// buildSinks connects the configured brokers. A broker that cannot be
// reached is logged and skipped; the returned Fanout is never nil.
func buildSinks(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sink.Fanout, []func() error) {
	var (
		pubs    []sink.Publisher
		closers []func() error
	)

	if cfg.Sinks.NATS.Enabled() {
		natsCfg := queue.DefaultNATSConfig()
		natsCfg.URL = cfg.Sinks.NATS.URL
		if cfg.Sinks.NATS.Subject != "" {
			natsCfg.SubjectPrefix = cfg.Sinks.NATS.Subject
		}
		nc := queue.NewClient(natsCfg, logger)
		if err := nc.Connect(ctx); err != nil {
			logger.Warn("NATS sink disabled", slog.String("url", natsCfg.URL), slog.String("error", err.Error()))
		} else {
			pubs = append(pubs, nc)
			closers = append(closers, nc.Close)
			logger.Info("NATS sink enabled", slog.String("subject", queue.WildcardSubject(natsCfg.SubjectPrefix)))
		}
	}

	if cfg.Sinks.Redis.Enabled() {
		stream, closeFn, err := openErrorStream(ctx, cfg)
		if err != nil {
			logger.Warn("Redis sink disabled", slog.String("addr", cfg.Sinks.Redis.Addr), slog.String("error", err.Error()))
		} else {
			pubs = append(pubs, stream)
			closers = append(closers, closeFn)
			logger.Info("Redis sink enabled", slog.String("stream", stream.StreamKey()))
		}
	}

	breaker := cfg.Sinks.GetBreaker()
	fanout := sink.New(sink.Config{
		Timeout: cfg.Sinks.Timeout,
		Breaker: resilience.CircuitBreakerConfig{
			MaxFailures:      breaker.MaxFailures,
			ResetTimeout:     breaker.ResetTimeout,
			HalfOpenMaxCalls: breaker.HalfOpenMaxCalls,
		},
		Logger: logger,
	}, pubs...)

	return fanout, closers
}

// openErrorStream connects to the configured Redis and returns the stream.
func openErrorStream(ctx context.Context, cfg *config.Config) (*redis.ErrorStream, func() error, error) {
	rc, err := redis.NewClient(ctx, redis.Config{
		Addr:     cfg.Sinks.Redis.Addr,
		Password: cfg.Sinks.Redis.Password,
		DB:       cfg.Sinks.Redis.DB,
		Prefix:   cfg.Sinks.Redis.Prefix,
	})
	if err != nil {
		return nil, nil, err
	}
	stream, err := redis.NewErrorStream(rc, redis.StreamConfig{
		Stream: cfg.Sinks.Redis.Stream,
		MaxLen: cfg.Sinks.Redis.MaxLen,
	})
	if err != nil {
		_ = rc.Close()
		return nil, nil, err
	}
	return stream, rc.Close, nil
}

// persistOnExit writes the --save file and the --archive-on-exit snapshot.
func persistOnExit(ctx context.Context, cfg *config.Config, st *store.Store, audit *observability.AuditLogger, opts serveOptions, logger *slog.Logger) error {
	if opts.saveFile == "" && !opts.archiveOnExit {
		return nil
	}

	data, err := st.ExportAsJSON()
	if err != nil {
		return fmt.Errorf("exporting store: %w", err)
	}
	count := st.GetErrorCount()

	if opts.saveFile != "" {
		if err := os.WriteFile(opts.saveFile, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", opts.saveFile, err)
		}
		audit.LogExport(ctx, opts.saveFile, count)
		logger.Info("saved errors", slog.String("file", opts.saveFile), slog.Int("count", count))
	}

	if opts.archiveOnExit {
		a, err := archive.Open(archive.Config{Path: cfg.Archive.Dir, Logger: logger})
		if err != nil {
			return fmt.Errorf("opening archive: %w", err)
		}
		defer a.Close()

		snap, err := a.Save(ctx, "serve shutdown", data)
		if err != nil {
			return fmt.Errorf("saving snapshot: %w", err)
		}
		audit.LogExport(ctx, "archive:"+snap.ID, count)
		logger.Info("archived errors", slog.String("snapshot", snap.ID), slog.Int("count", count))
	}
	return nil
}
