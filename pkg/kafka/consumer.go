// Package kafka connects the quarry services through segmentio/kafka-go.
// Crawl documents flow from intake to the indexers, flush notices from the
// indexers to the searchers' caches, and query statistics from the
// searchers to the aggregators. Every message value is JSON.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/quarrysearch/quarry/pkg/config"
	"github.com/quarrysearch/quarry/pkg/resilience"
)

// MessageHandler processes one message. A returned error leaves the message
// uncommitted.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// FromFirstOffset makes a new consumer group start at the oldest retained
// message instead of the newest. The indexers use it so that documents
// published before their group existed are still indexed.
func FromFirstOffset() ConsumerOption {
	return func(c *Consumer) { c.startOffset = kafka.FirstOffset }
}

// WithRetry retries a failing handler under cfg before moving past the
// message.
func WithRetry(cfg resilience.RetryConfig) ConsumerOption {
	return func(c *Consumer) { c.retry = &cfg }
}

// Consumer reads one topic as a member of the configured group.
type Consumer struct {
	topic       string
	group       string
	brokers     []string
	startOffset int64
	retry       *resilience.RetryConfig
	reader      *kafka.Reader
	logger      *slog.Logger
	handler     MessageHandler
}

func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler, opts ...ConsumerOption) *Consumer {
	c := &Consumer{
		topic:       topic,
		group:       cfg.ConsumerGroup,
		brokers:     cfg.Brokers,
		startOffset: kafka.LastOffset,
		logger:      slog.Default().With("component", "kafka-consumer", "topic", topic, "group", cfg.ConsumerGroup),
		handler:     handler,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.reader = kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.brokers,
		Topic:       topic,
		GroupID:     c.group,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: c.startOffset,
	})
	return c
}

// Start consumes until ctx is cancelled. Messages are committed once
// handled. A message whose handler still fails after its retries is logged
// and left uncommitted; the commit of a later message in the same
// partition moves past it.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	fetchFailures := 0
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			fetchFailures++
			delay := resilience.DefaultRetry.Backoff(fetchFailures)
			c.logger.Error("failed to fetch message", "error", err, "next_attempt", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
			continue
		}
		fetchFailures = 0
		log := c.logger.With("partition", msg.Partition, "offset", msg.Offset)
		log.Debug("message received", "key", string(msg.Key), "value_size", len(msg.Value))

		if err := c.handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error("failed to process message", "key", string(msg.Key), "error", err)
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			log.Error("failed to commit message", "error", err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	if c.retry == nil {
		return c.handler(ctx, msg.Key, msg.Value)
	}
	return resilience.Retry(ctx, "handle "+c.topic+" message", *c.retry, func() error {
		return c.handler(ctx, msg.Key, msg.Value)
	})
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON unmarshals a message value into T.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("decoding kafka message: %w", err)
	}
	return result, nil
}

// JSONHandler decodes each message into T before calling handle. Messages
// that do not decode can never succeed, so they are logged under name and
// committed.
func JSONHandler[T any](name string, handle func(ctx context.Context, key string, event T) error) MessageHandler {
	logger := slog.Default().With("component", name)
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := DecodeJSON[T](value)
		if err != nil {
			logger.Error("skipping undecodable message", "key", string(key), "value_size", len(value), "error", err)
			return nil
		}
		return handle(ctx, string(key), event)
	}
}
