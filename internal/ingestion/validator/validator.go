// Package validator checks crawl intake batches before they are queued. It
// returns per-field error details keyed by document position.
package validator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/quarrysearch/quarry/internal/ingestion"
	"github.com/quarrysearch/quarry/pkg/urlparser"
)

const (
	maxBatchDocuments = 500
	maxTitleLength    = 1024
	maxBodyLength     = 1048576
	maxLinks          = 1000
)

// index names become directory names
var indexNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// ValidateIngestRequest checks the batch size and every document of req and
// returns a ValidationError naming each bad field.
func ValidateIngestRequest(req *ingestion.IngestRequest) error {
	errs := make(map[string]string)
	switch n := len(req.Documents); {
	case n == 0:
		errs["documents"] = "at least one document is required"
	case n > maxBatchDocuments:
		errs["documents"] = fmt.Sprintf("at most %d documents per request", maxBatchDocuments)
	}
	for i, doc := range req.Documents {
		field := func(name string) string { return fmt.Sprintf("documents[%d].%s", i, name) }
		if !urlparser.IsHTTP(doc.URL) || !urlparser.HasHost(doc.URL) {
			errs[field("url")] = "url must be an absolute http or https url"
		}
		if doc.IndexName != "" && !indexNamePattern.MatchString(doc.IndexName) {
			errs[field("index_name")] = "index name may only hold letters, digits, '-' and '_'"
		}
		title, body := strings.TrimSpace(doc.Title), strings.TrimSpace(doc.Body)
		if title == "" && body == "" {
			errs[field("body")] = "title or body is required"
		}
		if len(title) > maxTitleLength {
			errs[field("title")] = fmt.Sprintf("title must be at most %d characters", maxTitleLength)
		}
		if len(body) > maxBodyLength {
			errs[field("body")] = fmt.Sprintf("body must be at most %d characters", maxBodyLength)
		}
		if len(doc.Links) > maxLinks {
			errs[field("links")] = fmt.Sprintf("at most %d links per document", maxLinks)
		}
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}
