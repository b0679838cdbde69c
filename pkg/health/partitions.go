package health

import (
	"context"
	"fmt"

	"github.com/quarrysearch/quarry/pkg/resilience"
)

// Partitions reports which partitions a coordinator can reach, judged by
// their circuit breakers. Some open breakers degrade the coordinator,
// since it answers from the rest; all of them open takes it down.
func Partitions(breakers []*resilience.CircuitBreaker) Check {
	return func(ctx context.Context) ComponentHealth {
		details := make(map[string]any, len(breakers))
		open := 0
		for _, b := range breakers {
			s := b.Snapshot()
			d := map[string]any{"state": s.State.String(), "failures": s.Failures}
			if s.State == resilience.StateOpen {
				open++
				d["retry_in"] = s.RetryIn.String()
			}
			details[s.Name] = d
		}
		h := ComponentHealth{Status: StatusUp, Details: details}
		switch {
		case len(breakers) == 0:
			h.Message = "no partitions"
		case open == len(breakers):
			h.Status, h.Message = StatusDown, "all partitions unreachable"
		case open > 0:
			h.Status, h.Message = StatusDegraded, fmt.Sprintf("%d of %d partitions unreachable", open, len(breakers))
		default:
			h.Message = fmt.Sprintf("%d partitions reachable", len(breakers))
		}
		return h
	}
}
