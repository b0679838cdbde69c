package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/quarrysearch/quarry/pkg/config"
)

// Ping asks the configured brokers in turn for cluster metadata and
// succeeds on the first one that answers.
func Ping(ctx context.Context, cfg config.KafkaConfig) error {
	lastErr := errors.New("no brokers configured")
	for _, broker := range cfg.Brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = conn.Brokers()
		conn.Close()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return fmt.Errorf("pinging kafka: %w", lastErr)
}
