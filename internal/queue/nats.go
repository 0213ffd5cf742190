// ABOUTME: NATS client publishing capture events and subscribing to them
// ABOUTME: Handles connection, per-severity subjects, and graceful shutdown

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hikmaai-io/devcapture/internal/observability"
	"github.com/hikmaai-io/devcapture/internal/types"
)

// ErrNotConnected is returned when the client has no live connection.
var ErrNotConnected = errors.New("not connected to NATS")

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	// NATS server URL.
	URL string

	// SubjectPrefix is the prefix of per-severity subjects.
	SubjectPrefix string

	// Connection name for identification.
	Name string

	// Reconnect settings.
	MaxReconnects int
	ReconnectWait time.Duration

	// Timeout bounds connect and flush.
	Timeout time.Duration
}

// DefaultNATSConfig returns a configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: DefaultSubjectPrefix,
		Name:          "devcapture",
		MaxReconnects: -1, // Unlimited.
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Client wraps the NATS connection.
type Client struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	config NATSConfig
	logger *slog.Logger
}

// NewClient creates a new NATS client. Call Connect before use.
func NewClient(cfg NATSConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	return &Client{
		config: cfg,
		logger: logger,
	}
}

// Name identifies this publisher.
func (c *Client) Name() string {
	return "nats"
}

// Connect establishes the NATS connection.
func (c *Client) Connect(ctx context.Context) error {
	opts := []nats.Option{
		nats.Name(c.config.Name),
		nats.MaxReconnects(c.config.MaxReconnects),
		nats.ReconnectWait(c.config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			c.logger.Warn("NATS disconnected", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			c.logger.Info("NATS connection closed")
		}),
	}
	if c.config.Timeout > 0 {
		opts = append(opts, nats.Timeout(c.config.Timeout))
	}

	conn, err := nats.Connect(c.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("connecting to NATS %s: %w", c.config.URL, err)
	}

	c.conn = conn
	observability.LogWithContext(ctx, c.logger, slog.LevelInfo, "connected to NATS",
		slog.String("url", conn.ConnectedUrl()),
		slog.String("server_id", conn.ConnectedServerId()),
	)
	return nil
}

// Publish sends ev on the subject for its severity.
func (c *Client) Publish(ctx context.Context, ev types.CaptureEvent) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	data, err := EncodeEvent(ev)
	if err != nil {
		return err
	}

	subject := SubjectFor(c.config.SubjectPrefix, ev.Severity)
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}

	// Flush surfaces a dead server to the caller instead of buffering forever.
	// FlushWithContext requires a deadline.
	if _, ok := ctx.Deadline(); !ok {
		timeout := c.config.Timeout
		if timeout <= 0 {
			timeout = nats.DefaultTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := c.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flushing %s: %w", subject, err)
	}
	return nil
}

// Subscribe delivers every capture event under the subject prefix to h.
func (c *Client) Subscribe(ctx context.Context, h *Handler) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	subject := WildcardSubject(c.config.SubjectPrefix)
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		_ = h.HandleMessage(ctx, msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	c.sub = sub
	c.logger.Info("subscribed to NATS", slog.String("subject", subject))
	return nil
}

// Close unsubscribes and closes the connection.
func (c *Client) Close() error {
	if c.sub != nil {
		if err := c.sub.Unsubscribe(); err != nil {
			c.logger.Warn("failed to unsubscribe", slog.Any("error", err))
		}
		c.sub = nil
	}

	if c.conn != nil {
		c.conn.Close()
	}

	return nil
}

// IsConnected returns true if connected to NATS.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}
