package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// counterValue returns the value of the counter name whose labels include
// every pair in labels.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metrics:
		for _, m := range f.GetMetric() {
			got := make(map[string]string)
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	t.Fatalf("%s %v not gathered", name, labels)
	return 0
}

func TestPartitionOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)
	m.PartitionOutcome("http://p0:8081", nil)
	m.PartitionOutcome("http://p0:8081", errors.New("refused"))
	m.PartitionOutcome("http://p0:8081", errors.New("refused"))
	if got := counterValue(t, reg, "partition_requests_total", map[string]string{"outcome": "error"}); got != 2 {
		t.Errorf("errors = %v", got)
	}
	if got := counterValue(t, reg, "partition_requests_total", map[string]string{"outcome": "ok"}); got != 1 {
		t.Errorf("ok = %v", got)
	}
}

func TestObservePostingsDecoded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg)
	var n uint64 = 41
	m.ObservePostingsDecoded(func() uint64 { n++; return n })
	if got := counterValue(t, reg, "postings_decoded_total", nil); got != 42 {
		t.Errorf("postings decoded = %v", got)
	}
}

func TestRegistriesAreIndependent(t *testing.T) {
	NewWithRegistry(prometheus.NewRegistry())
	NewWithRegistry(prometheus.NewRegistry())
}
