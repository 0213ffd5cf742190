// ABOUTME: Fans captured errors out to broker publishers off the request path
// ABOUTME: Bounded queue, one worker, and a circuit breaker per publisher

package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hikmaai-io/devcapture/internal/observability"
	"github.com/hikmaai-io/devcapture/internal/resilience"
	"github.com/hikmaai-io/devcapture/internal/types"
)

// Defaults for the fan-out.
const (
	DefaultTimeout    = 2 * time.Second
	DefaultBufferSize = 256
)

// Publisher delivers capture events to one external system.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, ev types.CaptureEvent) error
}

// Config configures a Fanout.
type Config struct {
	// Timeout bounds one publish to one sink.
	Timeout time.Duration

	// BufferSize is the queue length; events beyond it are dropped.
	BufferSize int

	// Breaker is the template for each publisher's breaker; Name is
	// replaced with the publisher name.
	Breaker resilience.CircuitBreakerConfig

	Logger *slog.Logger
}

type guarded struct {
	pub     Publisher
	breaker *resilience.CircuitBreaker
}

// Stats reports per-sink delivery state.
type Stats struct {
	Name    string                `json:"name"`
	State   string                `json:"state"`
	Breaker resilience.Statistics `json:"-"`
}

// Fanout publishes events to every configured publisher.
type Fanout struct {
	sinks   []guarded
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan types.CaptureEvent
	done   chan struct{}

	dropped atomic.Int64
}

// New creates a Fanout and starts its worker. With no publishers every
// call is a no-op.
func New(cfg Config, pubs ...Publisher) *Fanout {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.DiscardLogger()
	}
	logger := cfg.Logger

	f := &Fanout{
		timeout: cfg.Timeout,
		logger:  logger,
		queue:   make(chan types.CaptureEvent, cfg.BufferSize),
		done:    make(chan struct{}),
	}

	for _, p := range pubs {
		if p == nil {
			continue
		}
		bc := cfg.Breaker
		bc.Name = p.Name()
		userHook := bc.OnStateChange
		bc.OnStateChange = func(name string, from, to resilience.State) {
			logger.Warn("sink circuit changed state",
				slog.String("sink", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			if userHook != nil {
				userHook(name, from, to)
			}
		}
		f.sinks = append(f.sinks, guarded{pub: p, breaker: resilience.NewCircuitBreaker(bc)})
	}

	go f.run()
	return f
}

// Len returns the number of publishers.
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// Enqueue schedules ev for delivery without blocking. It returns false
// when there are no sinks, the queue is full, or the fan-out is closed.
func (f *Fanout) Enqueue(ev types.CaptureEvent) bool {
	if len(f.sinks) == 0 {
		return false
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return false
	}

	select {
	case f.queue <- ev:
		return true
	default:
		f.dropped.Add(1)
		f.logger.Warn("sink queue full, dropping capture event",
			slog.String("error_id", ev.ErrorID),
		)
		return false
	}
}

// Publish delivers ev to every publisher now and joins their errors.
func (f *Fanout) Publish(ctx context.Context, ev types.CaptureEvent) error {
	var errs []error
	for _, s := range f.sinks {
		err := s.breaker.Execute(ctx, func(ctx context.Context) error {
			pctx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()
			return s.pub.Publish(pctx, ev)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("sink %s: %w", s.pub.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Dropped returns the number of events dropped because the queue was full.
func (f *Fanout) Dropped() int64 {
	return f.dropped.Load()
}

// Stats returns the breaker state of every publisher.
func (f *Fanout) Stats() []Stats {
	out := make([]Stats, 0, len(f.sinks))
	for _, s := range f.sinks {
		st := s.breaker.Statistics()
		out = append(out, Stats{Name: s.pub.Name(), State: s.breaker.State().String(), Breaker: st})
	}
	return out
}

// Close stops accepting events and waits for queued ones to be delivered
// or for ctx to end.
func (f *Fanout) Close(ctx context.Context) error {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
	f.mu.Unlock()

	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("draining sink queue: %w", ctx.Err())
	}
}

func (f *Fanout) run() {
	defer close(f.done)

	for ev := range f.queue {
		ctx := context.Background()
		if ev.CorrelationID != "" {
			ctx = observability.WithCorrelationID(ctx, observability.CorrelationID(ev.CorrelationID))
		}
		if err := f.Publish(ctx, ev); err != nil {
			ec := observability.NewErrorContext(observability.CodeSinkPublish, observability.CategoryTransient, "sink_publish").
				WithError(err).
				WithDetails(map[string]any{"error_id": ev.ErrorID})
			observability.LogWithContext(ctx, f.logger, slog.LevelWarn, "sink publish failed", slog.Any("error", ec))
		}
	}
}
