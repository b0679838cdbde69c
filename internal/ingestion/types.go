// Package ingestion defines the crawl intake API: batches of fetched pages
// accepted over HTTP and queued on Kafka for the indexers.
package ingestion

import "github.com/quarrysearch/quarry/internal/indexer/consumer"

// IngestRequest is the JSON body accepted by the intake endpoint.
type IngestRequest struct {
	Documents []consumer.CrawlEvent `json:"documents"`
}

// IngestResponse is returned once a batch is queued for indexing.
type IngestResponse struct {
	Accepted int    `json:"accepted"`
	Status   string `json:"status"`
	Topic    string `json:"topic"`
}
