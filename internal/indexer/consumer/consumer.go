// Package consumer reads crawl events from Kafka and indexes the documents
// this partition owns, recording each outcome in the document registry.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quarrysearch/quarry/internal/indexer"
	"github.com/quarrysearch/quarry/internal/indexer/shard"
	apperrors "github.com/quarrysearch/quarry/pkg/errors"
	"github.com/quarrysearch/quarry/pkg/kafka"
)

// CrawlEvent is one fetched page as published by the crawler. An empty
// IndexName selects the default index.
type CrawlEvent struct {
	IndexName string `json:"index_name,omitempty"`
	indexer.CrawlDocument
}

// Document statuses kept in the registry.
const (
	StatusIndexed  = "INDEXED"
	StatusRejected = "REJECTED"
	StatusFailed   = "FAILED"
)

// Registry records what happened to every consumed document.
type Registry interface {
	Record(ctx context.Context, url, indexName, status string) error
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   slog.Default().With("component", "index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// HandleMessage returns a Kafka MessageHandler that indexes every crawl
// event owned by this partition into the index it names. Undecodable events
// and documents the engine rejects are skipped; other failures are returned
// so the message is not committed. registry and observe may be nil.
func HandleMessage(router *shard.Router, registry Registry, observe func(indexName, status string)) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-consumer")
	return kafka.JSONHandler("index-consumer", func(ctx context.Context, _ string, event CrawlEvent) error {
		if !router.OwnsDocument(event.URL) {
			logger.Debug("document belongs to another partition", "url", event.URL)
			return nil
		}
		indexName := event.IndexName
		if indexName == "" {
			indexName = router.DefaultIndex()
		}
		engine, err := router.Engine(indexName)
		if err != nil {
			return fmt.Errorf("opening index %s: %w", indexName, err)
		}

		start := time.Now()
		err = engine.AddDocument(event.CrawlDocument)
		status := StatusOf(err)
		if observe != nil {
			observe(indexName, status)
		}
		record(ctx, registry, event.URL, indexName, status, logger)
		switch status {
		case StatusRejected:
			logger.Warn("document rejected", "url", event.URL, "index_name", indexName, "error", err)
			return nil
		case StatusFailed:
			return fmt.Errorf("indexing %s into %s: %w", event.URL, indexName, err)
		}

		logger.Info("document indexed",
			"url", event.URL,
			"index_name", indexName,
			"links", len(event.Links),
			"latency_ms", time.Since(start).Milliseconds(),
		)
		return nil
	})
}

// StatusOf maps the result of indexing a document to its registry status.
func StatusOf(err error) string {
	switch {
	case err == nil:
		return StatusIndexed
	case errors.Is(err, apperrors.ErrInvalidInput):
		return StatusRejected
	default:
		return StatusFailed
	}
}

func record(ctx context.Context, registry Registry, url, indexName, status string, logger *slog.Logger) {
	if registry == nil {
		return
	}
	if err := registry.Record(ctx, url, indexName, status); err != nil {
		logger.Error("failed to record document status",
			"url", url,
			"status", status,
			"error", err,
		)
	}
}
