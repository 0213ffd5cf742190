// ABOUTME: Tests for the capture event fan-out
// ABOUTME: Uses fake publishers and a miniredis-backed stream

package sink

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/hikmaai-io/devcapture/internal/redis"
	"github.com/hikmaai-io/devcapture/internal/resilience"
	"github.com/hikmaai-io/devcapture/internal/types"
)

type fakePublisher struct {
	name string
	err  error

	mu     sync.Mutex
	events []types.CaptureEvent
	calls  int
}

func (p *fakePublisher) Name() string { return p.name }

func (p *fakePublisher) Publish(ctx context.Context, ev types.CaptureEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func event(id string) types.CaptureEvent {
	p := &types.ErrorPayload{ErrorID: id, Error: types.ErrorInfo{Message: "boom"}}
	p.Normalize()
	return types.NewCaptureEvent(p, types.OutcomeInserted, 1, "", time.Now())
}

func TestFanout_NoPublishers(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	defer f.Close(context.Background())

	if f.Len() != 0 {
		t.Errorf("Len() = %d, want 0", f.Len())
	}
	if f.Enqueue(event("e1")) {
		t.Error("Enqueue() with no publishers should return false")
	}
	if err := f.Publish(context.Background(), event("e1")); err != nil {
		t.Errorf("Publish() error = %v", err)
	}
}

func TestFanout_EnqueueDeliversToAll(t *testing.T) {
	t.Parallel()

	a := &fakePublisher{name: "a"}
	b := &fakePublisher{name: "b"}
	f := New(Config{}, a, b)

	for _, id := range []string{"e1", "e2", "e3"} {
		if !f.Enqueue(event(id)) {
			t.Fatalf("Enqueue(%s) = false", id)
		}
	}
	if err := f.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	for _, p := range []*fakePublisher{a, b} {
		if len(p.events) != 3 {
			t.Errorf("publisher %s got %d events, want 3", p.name, len(p.events))
		}
	}
	if f.Enqueue(event("late")) {
		t.Error("Enqueue() after Close should return false")
	}
}

func TestFanout_PublishJoinsErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("broker down")
	ok := &fakePublisher{name: "ok"}
	bad := &fakePublisher{name: "bad", err: boom}
	f := New(Config{}, ok, bad)
	defer f.Close(context.Background())

	err := f.Publish(context.Background(), event("e1"))
	if !errors.Is(err, boom) {
		t.Fatalf("Publish() error = %v, want %v", err, boom)
	}
	if len(ok.events) != 1 {
		t.Errorf("healthy publisher got %d events, want 1", len(ok.events))
	}
}

func TestFanout_BreakerStopsHammeringDeadSink(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var opened []string
	bad := &fakePublisher{name: "bad", err: errors.New("connection refused")}
	f := New(Config{
		Breaker: resilience.CircuitBreakerConfig{
			MaxFailures:  2,
			ResetTimeout: time.Hour,
			OnStateChange: func(name string, from, to resilience.State) {
				mu.Lock()
				opened = append(opened, name+":"+to.String())
				mu.Unlock()
			},
		},
	}, bad)
	defer f.Close(context.Background())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = f.Publish(ctx, event("e"))
	}

	if bad.Calls() != 2 {
		t.Errorf("dead sink called %d times, want 2", bad.Calls())
	}
	err := f.Publish(ctx, event("e"))
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Publish() error = %v, want %v", err, resilience.ErrCircuitOpen)
	}

	stats := f.Stats()
	if len(stats) != 1 || stats[0].Name != "bad" || stats[0].State != "open" {
		t.Errorf("Stats() = %+v, want bad/open", stats)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(opened) != 1 || opened[0] != "bad:open" {
		t.Errorf("state changes = %v, want [bad:open]", opened)
	}
}

// lockedBuffer is a bytes.Buffer safe for concurrent log writes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFanout_StateChangeLoggedOnce(t *testing.T) {
	t.Parallel()

	var logs lockedBuffer
	hookCalls := 0
	bad := &fakePublisher{name: "bad", err: errors.New("connection refused")}
	f := New(Config{
		Breaker: resilience.CircuitBreakerConfig{
			MaxFailures:  1,
			ResetTimeout: time.Hour,
			OnStateChange: func(string, resilience.State, resilience.State) {
				hookCalls++
			},
		},
		Logger: slog.New(slog.NewTextHandler(&logs, nil)),
	}, bad)
	defer f.Close(context.Background())

	_ = f.Publish(context.Background(), event("e"))

	if got := strings.Count(logs.String(), "sink circuit changed state"); got != 1 {
		t.Errorf("state change logged %d times, want 1:\n%s", got, logs.String())
	}
	if hookCalls != 1 {
		t.Errorf("OnStateChange called %d times, want 1", hookCalls)
	}
}

type blockingPublisher struct {
	release chan struct{}
}

func (p *blockingPublisher) Name() string { return "slow" }

func (p *blockingPublisher) Publish(ctx context.Context, ev types.CaptureEvent) error {
	<-p.release
	return nil
}

func TestFanout_DropsWhenFull(t *testing.T) {
	t.Parallel()

	slow := &blockingPublisher{release: make(chan struct{})}
	f := New(Config{BufferSize: 1, Timeout: time.Minute}, slow)

	accepted := 0
	for i := 0; i < 10; i++ {
		if f.Enqueue(event("e")) {
			accepted++
		}
	}
	close(slow.release)

	// At most one in flight plus one buffered.
	if accepted > 2 {
		t.Errorf("accepted = %d, want <= 2", accepted)
	}
	if got := f.Dropped(); got != int64(10-accepted) {
		t.Errorf("Dropped() = %d, want %d", got, 10-accepted)
	}
	if err := f.Close(context.Background()); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestFanout_CloseHonoursContext(t *testing.T) {
	t.Parallel()

	slow := &blockingPublisher{release: make(chan struct{})}
	defer close(slow.release)
	f := New(Config{Timeout: time.Minute}, slow)
	f.Enqueue(event("e"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Close() error = %v, want deadline exceeded", err)
	}
}

func TestFanout_RedisStream(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client, err := redis.NewClient(context.Background(), redis.Config{Addr: mr.Addr(), Prefix: redis.DefaultPrefix})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer client.Close()

	stream, err := redis.NewErrorStream(client, redis.StreamConfig{MaxLen: 100})
	if err != nil {
		t.Fatalf("NewErrorStream() error = %v", err)
	}

	f := New(Config{}, stream)
	f.Enqueue(event("e1"))
	f.Enqueue(event("e2"))
	if err := f.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	entries, err := stream.Read(context.Background(), redis.StartOldest, 10, 0)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Event.ErrorID != "e1" {
		t.Errorf("stream entries = %+v, want e1 then e2", entries)
	}
}
