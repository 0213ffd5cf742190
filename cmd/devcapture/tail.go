// ABOUTME: Tail command following capture events on NATS or a Redis stream
// ABOUTME: Prints one compact line per event until interrupted

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/devcapture/internal/config"
	"github.com/hikmaai-io/devcapture/internal/format"
	"github.com/hikmaai-io/devcapture/internal/queue"
	"github.com/hikmaai-io/devcapture/internal/redis"
	"github.com/hikmaai-io/devcapture/internal/resilience"
	"github.com/hikmaai-io/devcapture/internal/types"
)

// Tail sources.
const (
	sourceNATS  = "nats"
	sourceRedis = "redis"
)

const (
	tailBatch = 100
	tailBlock = 5 * time.Second
)

func newTailCmd() *cobra.Command {
	var (
		src       string
		fromStart bool
		natsURL   string
		redisAddr string
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow capture events published by a server",
		Long: `Follow capture events that a server publishes to its broker sinks.

With --source nats every event on the configured subject prefix is printed.
With --source redis the configured stream is read from its current end, or
from the oldest entry with --from-start.

Examples:
  devcapture tail --nats-url nats://localhost:4222
  devcapture tail --source redis --redis-addr localhost:6379 --from-start`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if natsURL != "" {
				cfg.Sinks.NATS.URL = natsURL
			}
			if redisAddr != "" {
				cfg.Sinks.Redis.Addr = redisAddr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := newLogger(cfg)
			out := cmd.OutOrStdout()
			printer := newEventPrinter(out, colorize(out))

			switch src {
			case sourceNATS:
				return tailNATS(ctx, cfg, printer, logger)
			case sourceRedis:
				return tailRedis(ctx, cfg, printer, fromStart)
			default:
				return fmt.Errorf("unknown source %q (use %s or %s)", src, sourceNATS, sourceRedis)
			}
		},
	}

	cmd.Flags().StringVar(&src, "source", sourceNATS, "event source (nats, redis)")
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "read the Redis stream from its oldest entry")
	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL (default: from config)")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "", "Redis address (default: from config)")

	return cmd
}

// eventPrinter serializes event output from concurrent deliveries.
type eventPrinter struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
}

func newEventPrinter(w io.Writer, color bool) *eventPrinter {
	return &eventPrinter{w: w, color: color}
}

func (p *eventPrinter) Print(ev types.CaptureEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, formatEvent(ev, p.color))
}

// formatEvent renders an event as its outcome followed by the compact error line.
func formatEvent(ev types.CaptureEvent, color bool) string {
	line := ev.Message
	if ev.Payload != nil {
		line = format.FormatErrorCompact(ev.Payload, color)
	}

	tag := ev.Outcome
	if ev.Outcome == types.OutcomeMerged {
		tag = fmt.Sprintf("%s x%d", ev.Outcome, ev.OccurrenceCount)
	}
	s := fmt.Sprintf("%s [%s] %s", ev.CapturedAt.Local().Format(time.TimeOnly), tag, line)
	if ev.EvictedID != "" {
		s += fmt.Sprintf(" (evicted %s)", ev.EvictedID)
	}
	return s
}

func tailNATS(ctx context.Context, cfg *config.Config, printer *eventPrinter, logger *slog.Logger) error {
	if !cfg.Sinks.NATS.Enabled() {
		return fmt.Errorf("no NATS URL configured (use --nats-url)")
	}

	natsCfg := queue.DefaultNATSConfig()
	natsCfg.URL = cfg.Sinks.NATS.URL
	natsCfg.Name = "devcapture-tail"
	if cfg.Sinks.NATS.Subject != "" {
		natsCfg.SubjectPrefix = cfg.Sinks.NATS.Subject
	}

	nc := queue.NewClient(natsCfg, logger)
	if err := nc.Connect(ctx); err != nil {
		return err
	}
	defer nc.Close()

	handler := queue.NewHandler(func(_ context.Context, ev types.CaptureEvent) {
		printer.Print(ev)
	}, logger)
	if err := nc.Subscribe(ctx, handler); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

func tailRedis(ctx context.Context, cfg *config.Config, printer *eventPrinter, fromStart bool) error {
	if !cfg.Sinks.Redis.Enabled() {
		return fmt.Errorf("no Redis address configured (use --redis-addr)")
	}

	stream, closeFn, err := openErrorStream(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	lastID := redis.StartOldest
	if !fromStart {
		if lastID, err = stream.LastID(ctx); err != nil {
			return err
		}
	}

	return followStream(ctx, stream, lastID, printer, resilience.NewBackoff(resilience.DefaultBackoffConfig()))
}

// streamReader is the part of the Redis stream tail uses.
type streamReader interface {
	Read(ctx context.Context, lastID string, count int64, block time.Duration) ([]redis.StreamEntry, error)
}

// followStream prints entries after lastID until ctx ends. Read errors are
// retried with backoff; the last error is returned once retries run out.
func followStream(ctx context.Context, r streamReader, lastID string, printer *eventPrinter, retry *resilience.Backoff) error {
	for ctx.Err() == nil {
		entries, err := r.Read(ctx, lastID, tailBatch, tailBlock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if werr := retry.Wait(ctx); werr != nil {
				if errors.Is(werr, resilience.ErrRetriesExhausted) {
					return err
				}
				return nil
			}
			continue
		}
		retry.Reset()
		for _, e := range entries {
			printer.Print(e.Event)
			lastID = e.ID
		}
	}
	return nil
}
