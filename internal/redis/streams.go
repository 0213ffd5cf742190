// ABOUTME: Redis Stream of capture events with approximate MAXLEN trimming
// ABOUTME: XADD for the sink side, XREAD for tailing from the CLI

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hikmaai-io/devcapture/internal/types"
)

// DefaultStream is the stream name, without prefix.
const DefaultStream = "errors"

// Stream entry field names.
const (
	fieldEvent    = "event"
	fieldErrorID  = "error_id"
	fieldSeverity = "severity"
	fieldOutcome  = "outcome"
)

// Read positions.
const (
	// StartNew reads only entries added after the read starts.
	StartNew = "$"
	// StartOldest reads from the beginning of the stream.
	StartOldest = "0"
)

// StreamConfig configures an ErrorStream.
type StreamConfig struct {
	// Stream is the stream name without prefix.
	Stream string

	// MaxLen approximately caps the stream; zero leaves it unbounded.
	MaxLen int64
}

// StreamEntry is one decoded stream entry.
type StreamEntry struct {
	ID    string
	Event types.CaptureEvent
}

// ErrorStream publishes and reads capture events on a Redis Stream.
type ErrorStream struct {
	client    *Client
	streamKey string
	maxLen    int64
}

// NewErrorStream creates an ErrorStream on client.
func NewErrorStream(client *Client, cfg StreamConfig) (*ErrorStream, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	if cfg.MaxLen < 0 {
		return nil, fmt.Errorf("max len must be >= 0, got %d", cfg.MaxLen)
	}
	stream := cfg.Stream
	if stream == "" {
		stream = DefaultStream
	}

	return &ErrorStream{
		client:    client,
		streamKey: client.PrefixedKey(stream),
		maxLen:    cfg.MaxLen,
	}, nil
}

// Name identifies this publisher.
func (s *ErrorStream) Name() string {
	return "redis"
}

// StreamKey returns the full prefixed stream key.
func (s *ErrorStream) StreamKey() string {
	return s.streamKey
}

// Publish appends ev to the stream.
func (s *ErrorStream) Publish(ctx context.Context, ev types.CaptureEvent) error {
	_, err := s.Add(ctx, ev)
	return err
}

// Add appends ev and returns the entry ID assigned by Redis.
func (s *ErrorStream) Add(ctx context.Context, ev types.CaptureEvent) (string, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("encoding capture event %s: %w", ev.ErrorID, err)
	}

	args := &redis.XAddArgs{
		Stream: s.streamKey,
		Values: map[string]any{
			fieldErrorID:  ev.ErrorID,
			fieldSeverity: ev.Severity.String(),
			fieldOutcome:  ev.Outcome,
			fieldEvent:    string(data),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	id, err := s.client.Redis().XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("publishing to stream %s: %w", s.streamKey, err)
	}
	return id, nil
}

// Read returns up to count entries after lastID. A positive block waits up
// to that long for new entries; zero or negative returns immediately.
// An empty result is not an error.
func (s *ErrorStream) Read(ctx context.Context, lastID string, count int64, block time.Duration) ([]StreamEntry, error) {
	if lastID == "" {
		lastID = StartOldest
	}
	if block <= 0 {
		// go-redis sends BLOCK for any non-negative value.
		block = -1
	}

	streams, err := s.client.Redis().XRead(ctx, &redis.XReadArgs{
		Streams: []string{s.streamKey, lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading from stream %s: %w", s.streamKey, err)
	}

	var entries []StreamEntry
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			raw, _ := msg.Values[fieldEvent].(string)
			var ev types.CaptureEvent
			if err := json.Unmarshal([]byte(raw), &ev); err != nil {
				return entries, fmt.Errorf("decoding stream entry %s: %w", msg.ID, err)
			}
			entries = append(entries, StreamEntry{ID: msg.ID, Event: ev})
		}
	}
	return entries, nil
}

// LastID returns the ID of the newest entry, or StartOldest for an empty stream.
func (s *ErrorStream) LastID(ctx context.Context) (string, error) {
	msgs, err := s.client.Redis().XRevRangeN(ctx, s.streamKey, "+", "-", 1).Result()
	if err != nil {
		return "", fmt.Errorf("reading last entry of %s: %w", s.streamKey, err)
	}
	if len(msgs) == 0 {
		return StartOldest, nil
	}
	return msgs[0].ID, nil
}

// Len returns the number of entries in the stream.
func (s *ErrorStream) Len(ctx context.Context) (int64, error) {
	n, err := s.client.Redis().XLen(ctx, s.streamKey).Result()
	if err != nil {
		return 0, fmt.Errorf("measuring stream %s: %w", s.streamKey, err)
	}
	return n, nil
}
