// ABOUTME: Sink configuration for fanning captured errors out to brokers
// ABOUTME: NATS subjects, Redis stream trimming, and circuit breaker thresholds

package config

import "time"

// SinksConfig configures where captured errors are published.
type SinksConfig struct {
	NATS  NATSSinkConfig  `yaml:"nats"`
	Redis RedisSinkConfig `yaml:"redis"`

	// Timeout bounds a single publish.
	Timeout time.Duration `yaml:"timeout"`

	// Breaker guards each sink. If nil, uses DefaultBreakerConfig().
	Breaker *BreakerConfig `yaml:"breaker,omitempty"`
}

// GetBreaker returns the breaker configuration, using defaults if not set.
func (c *SinksConfig) GetBreaker() BreakerConfig {
	if c.Breaker != nil {
		return *c.Breaker
	}
	return DefaultBreakerConfig()
}

// NATSSinkConfig configures the NATS publisher. An empty URL disables it.
type NATSSinkConfig struct {
	URL string `yaml:"url"`

	// Subject prefix; the severity is appended.
	Subject string `yaml:"subject"`
}

// Enabled reports whether the NATS sink is configured.
func (c NATSSinkConfig) Enabled() bool {
	return c.URL != ""
}

// RedisSinkConfig configures the Redis Streams publisher. An empty Addr disables it.
type RedisSinkConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Prefix is prepended to the stream key.
	Prefix string `yaml:"prefix"`

	// Stream is the stream name without prefix.
	Stream string `yaml:"stream"`

	// MaxLen approximately caps the stream length; zero leaves it unbounded.
	MaxLen int64 `yaml:"max_len"`
}

// Enabled reports whether the Redis sink is configured.
func (c RedisSinkConfig) Enabled() bool {
	return c.Addr != ""
}

// BreakerConfig configures the per-sink circuit breaker.
type BreakerConfig struct {
	// MaxFailures is the consecutive failure count that opens the circuit.
	MaxFailures int `yaml:"max_failures"`

	// ResetTimeout is how long an open circuit waits before probing.
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// HalfOpenMaxCalls is the number of probes allowed while half-open.
	HalfOpenMaxCalls int `yaml:"half_open_max_calls"`
}

// DefaultSinksConfig returns sink settings with both sinks disabled.
func DefaultSinksConfig() SinksConfig {
	return SinksConfig{
		NATS: NATSSinkConfig{
			Subject: "devcapture.errors",
		},
		Redis: RedisSinkConfig{
			Prefix: "devcapture:",
			Stream: "errors",
			MaxLen: 10000,
		},
		Timeout: 2 * time.Second,
		Breaker: nil, // Uses DefaultBreakerConfig via GetBreaker().
	}
}

// DefaultBreakerConfig returns default breaker thresholds.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:      3,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}
