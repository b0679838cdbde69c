package analytics

import (
	"context"
	"errors"
	"time"
)

type EventType string

const (
	EventQuery EventType = "query"
)

// Query outcomes, as counted by search_queries_total.
const (
	OutcomeHit        = "hit"
	OutcomeMiss       = "miss"
	OutcomeZeroResult = "zero_result"
	OutcomeError      = "error"
	OutcomeTimeout    = "timeout"
)

// QueryEvent is the statistics record of one answered query. StagesMs holds
// the time spent in each stage of the query pipeline (parse, page, lookup,
// rank) summed over the presentation parts of the query.
type QueryEvent struct {
	Type           EventType          `json:"type"`
	Query          string             `json:"query"`
	IndexName      string             `json:"index_name,omitempty"`
	Low            int                `json:"low"`
	ResultsPerPage int                `json:"results_per_page"`
	TotalRows      int                `json:"total_rows"`
	Returned       int                `json:"returned"`
	LatencyMs      float64            `json:"latency_ms"`
	StagesMs       map[string]float64 `json:"stages_ms,omitempty"`
	CacheHit       bool               `json:"cache_hit"`
	Outcome        string             `json:"outcome"`
	Error          string             `json:"error,omitempty"`
	MachineID      string             `json:"machine_id,omitempty"`
	RequestID      string             `json:"request_id,omitempty"`
	Timestamp      time.Time          `json:"timestamp"`
}

// Outcome classifies a finished query.
func Outcome(err error, cacheHit bool, returned int) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case err != nil:
		return OutcomeError
	case returned == 0:
		return OutcomeZeroResult
	case cacheHit:
		return OutcomeHit
	default:
		return OutcomeMiss
	}
}
