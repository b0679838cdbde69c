package consumer

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/quarrysearch/quarry/internal/indexer/hash"
	"github.com/quarrysearch/quarry/pkg/postgres"
)

const createDocumentsTable = `
CREATE TABLE IF NOT EXISTS indexed_documents (
	url_hash   TEXT        NOT NULL,
	index_name TEXT        NOT NULL,
	url        TEXT        NOT NULL,
	status     TEXT        NOT NULL,
	attempts   INTEGER     NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (url_hash, index_name)
)`

const createStatusIndex = `
CREATE INDEX IF NOT EXISTS indexed_documents_status ON indexed_documents (index_name, status)`

const upsertDocument = `
INSERT INTO indexed_documents (url_hash, index_name, url, status)
VALUES ($1, $2, $3, $4)
ON CONFLICT (url_hash, index_name)
DO UPDATE SET status = EXCLUDED.status,
              attempts = indexed_documents.attempts + 1,
              updated_at = NOW()`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresRegistry keeps one row per document and index in PostgreSQL,
// keyed by the crawl hash of the url.
type PostgresRegistry struct {
	db execer
}

func NewPostgresRegistry(db execer) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

// EnsureSchema creates the registry table and its index.
func EnsureSchema(ctx context.Context, client *postgres.Client) error {
	return client.Migrate(ctx, "document registry", createDocumentsTable, createStatusIndex)
}

func (r *PostgresRegistry) Record(ctx context.Context, url, indexName, status string) error {
	if _, err := r.db.ExecContext(ctx, upsertDocument, hash.Crawl(url).String(), indexName, url, status); err != nil {
		return fmt.Errorf("recording %s: %w", url, err)
	}
	return nil
}
