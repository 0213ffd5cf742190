// ABOUTME: Redis connection used by the capture stream sink and the tail command
// ABOUTME: Applies a key prefix so several projects can share one Redis

package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces devcapture keys.
const DefaultPrefix = "devcapture:"

// Config holds Redis client configuration.
type Config struct {
	// Addr is the Redis server address (host:port).
	Addr string

	// Password for Redis authentication (optional).
	Password string

	// DB is the Redis database number.
	DB int

	// Prefix is prepended to all keys, e.g. "devcapture:errors".
	Prefix string

	// DialTimeout bounds connection setup and the initial PING.
	DialTimeout time.Duration

	// ReadTimeout for Redis operations.
	ReadTimeout time.Duration

	// WriteTimeout for Redis operations.
	WriteTimeout time.Duration
}

// setDefaults applies default values to unset fields.
func (c *Config) setDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 2 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 3 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 3 * time.Second
	}
}

// Client wraps a Redis client with prefix support.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// NewClient connects to Redis and verifies the connection with PING.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	cfg.setDefaults()

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", cfg.Addr, err)
	}

	return &Client{
		rdb:    rdb,
		prefix: cfg.Prefix,
	}, nil
}

// PrefixedKey returns the key with the configured prefix applied.
func (c *Client) PrefixedKey(key string) string {
	return c.prefix + key
}

// Ping verifies connectivity to Redis.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("closing redis client: %w", err)
	}
	return nil
}

// Redis returns the underlying go-redis client.
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Prefix returns the configured key prefix.
func (c *Client) Prefix() string {
	return c.prefix
}
