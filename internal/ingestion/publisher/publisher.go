// Package publisher queues validated crawl documents on Kafka for the
// indexers.
package publisher

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/quarrysearch/quarry/internal/ingestion"
	apperrors "github.com/quarrysearch/quarry/pkg/errors"
	"github.com/quarrysearch/quarry/pkg/kafka"
)

// Producer is the Kafka writer a Publisher sends batches through.
// *kafka.Producer satisfies it.
type Producer interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Publisher turns intake batches into crawl events.
type Publisher struct {
	producer Producer
	topic    string
	logger   *slog.Logger
}

func New(producer Producer, topic string) *Publisher {
	return &Publisher{
		producer: producer,
		topic:    topic,
		logger:   slog.Default().With("component", "publisher"),
	}
}

// Publish queues every document of req. Events are keyed by URL so that
// updates of one page stay ordered on one Kafka partition.
func (p *Publisher) Publish(ctx context.Context, req *ingestion.IngestRequest) (*ingestion.IngestResponse, error) {
	events := make([]kafka.Event, 0, len(req.Documents))
	for _, doc := range req.Documents {
		events = append(events, kafka.Event{Key: doc.URL, Value: doc})
	}
	if err := p.producer.PublishBatch(ctx, events); err != nil {
		p.logger.Error("failed to queue crawl documents", "count", len(events), "error", err)
		return nil, apperrors.New(apperrors.ErrPartitionUnavailable, http.StatusServiceUnavailable, "document queue unavailable")
	}
	return &ingestion.IngestResponse{
		Accepted: len(events),
		Status:   "QUEUED",
		Topic:    p.topic,
	}, nil
}
