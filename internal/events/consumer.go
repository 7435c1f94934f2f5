package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamReader is the subset of the Redis client the consumer needs.
type StreamReader interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// Handler receives every CATALOG_PUBLISHED event read from the stream. A
// returned error leaves the message unacknowledged.
type Handler func(ctx context.Context, messageID string, p CatalogPublishedPayload) error

type ConsumerConfig struct {
	Stream  string
	Group   string
	Name    string
	Count   int64
	Block   time.Duration
	Backoff time.Duration
}

// Consumer reads catalog events from a Redis stream through a consumer group.
type Consumer struct {
	redis  StreamReader
	handle Handler
	config ConsumerConfig
	logger *slog.Logger
}

func NewConsumer(client StreamReader, handle Handler, logger *slog.Logger, config ConsumerConfig) *Consumer {
	if config.Group == "" {
		config.Group = "catalog-consumer-group"
	}
	if config.Name == "" {
		config.Name = "consumer-1"
	}
	if config.Count == 0 {
		config.Count = 10
	}
	if config.Block == 0 {
		config.Block = 5 * time.Second
	}
	if config.Backoff == 0 {
		config.Backoff = time.Second
	}
	return &Consumer{
		redis:  client,
		handle: handle,
		config: config,
		logger: logger.With("component", "catalog_consumer"),
	}
}

// Run creates the consumer group if needed and reads until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	err := c.redis.XGroupCreateMkStream(ctx, c.config.Stream, c.config.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "stream", c.config.Stream, "group", c.config.Group)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopped")
			return ctx.Err()
		default:
		}

		if _, err := c.ReadOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(c.config.Backoff):
			}
		}
	}
}

// ReadOnce reads one batch and returns how many messages were acknowledged.
func (c *Consumer) ReadOnce(ctx context.Context) (int, error) {
	streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.config.Group,
		Consumer: c.config.Name,
		Streams:  []string{c.config.Stream, ">"},
		Count:    c.config.Count,
		Block:    c.config.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	acked := 0
	for _, stream := range streams {
		for _, message := range stream.Messages {
			if err := c.processMessage(ctx, message); err != nil {
				c.logger.Error("failed to process message", "id", message.ID, "error", err)
				continue
			}
			if err := c.redis.XAck(ctx, c.config.Stream, c.config.Group, message.ID).Err(); err != nil {
				c.logger.Error("failed to acknowledge message", "id", message.ID, "error", err)
				continue
			}
			acked++
		}
	}
	return acked, nil
}

// processMessage decodes the relay envelope. Other event types are
// acknowledged without being handled.
func (c *Consumer) processMessage(ctx context.Context, msg redis.XMessage) error {
	eventType, _ := msg.Values["event_type"].(string)
	if eventType != string(EventTypeCatalogPublished) {
		return nil
	}

	data, ok := msg.Values["data"].(string)
	if !ok {
		return fmt.Errorf("missing data in event")
	}

	var envelope struct {
		Payload CatalogPublishedPayload `json:"payload"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return fmt.Errorf("failed to parse event data: %w", err)
	}
	if envelope.Payload.CatalogID == "" {
		return fmt.Errorf("missing catalog_id in payload")
	}

	return c.handle(ctx, msg.ID, envelope.Payload)
}
