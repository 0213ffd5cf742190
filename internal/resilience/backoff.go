// ABOUTME: Exponential backoff with jitter for retrying broker reads
// ABOUTME: Bounded attempts, capped delay, and a context-aware Wait

package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"
)

// Backoff defaults, sized for reconnecting to a local broker.
const (
	DefaultRetries        = 5
	DefaultInitialDelay   = 200 * time.Millisecond
	DefaultMaxDelay       = 10 * time.Second
	DefaultMultiplier     = 2.0
	DefaultJitterFraction = 0.2
)

// ErrRetriesExhausted is returned by Wait once every retry has been used.
var ErrRetriesExhausted = errors.New("retries exhausted")

// BackoffConfig configures a Backoff. Zero fields use the defaults, except
// JitterFraction where zero disables jitter.
type BackoffConfig struct {
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
}

// DefaultBackoffConfig returns the defaults with jitter enabled.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		MaxRetries:     DefaultRetries,
		InitialDelay:   DefaultInitialDelay,
		MaxDelay:       DefaultMaxDelay,
		Multiplier:     DefaultMultiplier,
		JitterFraction: DefaultJitterFraction,
	}
}

// Validate checks ranges that have no sensible default.
func (c BackoffConfig) Validate() error {
	if c.JitterFraction < 0 || c.JitterFraction > 1 {
		return errors.New("jitter fraction must be between 0 and 1")
	}
	if c.Multiplier != 0 && c.Multiplier < 1 {
		return errors.New("multiplier must be at least 1")
	}
	return nil
}

// Backoff hands out growing delays between consecutive failures.
type Backoff struct {
	mu       sync.Mutex
	cfg      BackoffConfig
	attempts int
	next     time.Duration
}

// NewBackoff creates a Backoff from cfg.
func NewBackoff(cfg BackoffConfig) *Backoff {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultRetries
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.Multiplier == 0 {
		cfg.Multiplier = DefaultMultiplier
	}
	return &Backoff{cfg: cfg, next: cfg.InitialDelay}
}

// NextDelay returns the delay before the next retry, or false when none remain.
func (b *Backoff) NextDelay() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attempts >= b.cfg.MaxRetries {
		return 0, false
	}

	delay := b.next
	if j := b.cfg.JitterFraction; j > 0 {
		spread := float64(delay) * j
		delay = time.Duration(float64(delay) + (rand.Float64()*2-1)*spread)
	}

	b.attempts++
	b.next = min(time.Duration(float64(b.next)*b.cfg.Multiplier), b.cfg.MaxDelay)
	return delay, true
}

// Wait sleeps for the next delay. It returns ErrRetriesExhausted when no
// retries remain and the context error if ctx ends first.
func (b *Backoff) Wait(ctx context.Context) error {
	delay, ok := b.NextDelay()
	if !ok {
		return ErrRetriesExhausted
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset starts over after a success.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
	b.next = b.cfg.InitialDelay
}

// Attempts returns the number of delays handed out since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
