// Package sink fans finished document results out to other services.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nowusman/DocGuard/internal/domain"
	"github.com/nowusman/DocGuard/internal/observability"
)

// DefaultChannel is the pub/sub channel results are published on.
const DefaultChannel = "docguard:results"

// Message is the published summary of one result. Extracted text and
// rendered bytes are never published.
type Message struct {
	BatchID     string           `json:"batch_id,omitempty"`
	DocumentID  string           `json:"document_id"`
	Filename    string           `json:"filename"`
	Format      domain.Format    `json:"format"`
	Status      domain.Status    `json:"status"`
	ErrorKind   domain.ErrorKind `json:"error_kind,omitempty"`
	Error       string           `json:"error,omitempty"`
	FromCache   bool             `json:"from_cache"`
	OutputName  string           `json:"output_name,omitempty"`
	Spans       int              `json:"pii_spans"`
	Images      int              `json:"images"`
	Tables      int              `json:"tables"`
	DurationMS  int64            `json:"duration_ms"`
	PublishedAt time.Time        `json:"published_at"`
}

// NewMessage summarizes r. The batch id is read from the trace id in ctx.
func NewMessage(ctx context.Context, r domain.ProcessingResult) Message {
	m := Message{
		BatchID:     observability.TraceIDFromContext(ctx),
		DocumentID:  r.DocumentID,
		Filename:    r.Filename,
		Format:      r.Format,
		Status:      r.Status,
		ErrorKind:   r.ErrorKind,
		Error:       r.Error,
		FromCache:   r.FromCache,
		Spans:       len(r.Spans),
		Images:      len(r.Images),
		Tables:      len(r.Tables),
		DurationMS:  r.Timing.Total.Milliseconds(),
		PublishedAt: time.Now().UTC(),
	}
	if r.Output != nil {
		m.OutputName = r.Output.Filename
	}
	return m
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	Channel  string
}

// RedisSink publishes result summaries on a Redis pub/sub channel.
type RedisSink struct {
	client  *redis.Client
	channel string
	logger  *observability.Logger
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(cfg RedisConfig, logger *observability.Logger) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}

	return &RedisSink{
		client:  client,
		channel: channel,
		logger:  observability.OrNop(logger).WithOperation("sink"),
	}, nil
}

// Channel returns the channel messages are published on.
func (s *RedisSink) Channel() string { return s.channel }

// Publish sends a summary of r.
func (s *RedisSink) Publish(ctx context.Context, r domain.ProcessingResult) error {
	payload, err := json.Marshal(NewMessage(ctx, r))
	if err != nil {
		return fmt.Errorf("marshal result message: %w", err)
	}
	receivers, err := s.client.Publish(ctx, s.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	s.logger.Debug().
		Str("document_id", r.DocumentID).
		Int64("receivers", receivers).
		Msg("result published")
	return nil
}

// Close closes the Redis connection.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
