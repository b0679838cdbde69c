package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Search.ResultsPerPage != 10 || cfg.Search.MinResultsToGroup != 200 || cfg.Search.ServerAlpha != 1.6 {
		t.Errorf("search defaults = %+v", cfg.Search)
	}
	if cfg.Indexer.Partition != (PartitionConfig{Index: 0, Count: 1}) {
		t.Errorf("partition default = %+v", cfg.Indexer.Partition)
	}
	if cfg.Postgres.Host != "" {
		t.Errorf("registry enabled by default: %q", cfg.Postgres.Host)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quarry.yaml")
	yaml := `
indexer:
  indexName: news
  generationMaxDocs: 100
  flushInterval: 2s
search:
  resultsPerPage: 20
network:
  partitions: ["http://a:8080", "http://b:8080"]
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("QY_INDEXER_PARTITION", "1/2")
	t.Setenv("QY_REDIS_ADDR", "cache:6379")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Indexer.IndexName != "news" || cfg.Indexer.GenerationMaxDocs != 100 || cfg.Indexer.FlushInterval != 2*time.Second {
		t.Errorf("indexer = %+v", cfg.Indexer)
	}
	if cfg.Search.ResultsPerPage != 20 || cfg.Search.MaxQueryTerms != 10 {
		t.Errorf("search = %+v", cfg.Search)
	}
	if want := []string{"http://a:8080", "http://b:8080"}; !reflect.DeepEqual(cfg.Network.Partitions, want) {
		t.Errorf("partitions = %v", cfg.Network.Partitions)
	}
	if cfg.Indexer.Partition != (PartitionConfig{Index: 1, Count: 2}) {
		t.Errorf("partition = %+v", cfg.Indexer.Partition)
	}
	if cfg.Redis.Addr != "cache:6379" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero generation size", func(c *Config) { c.Indexer.GenerationMaxDocs = 0 }},
		{"partition out of range", func(c *Config) { c.Indexer.Partition = PartitionConfig{Index: 2, Count: 2} }},
		{"zero page size", func(c *Config) { c.Search.ResultsPerPage = 0 }},
		{"alpha below one", func(c *Config) { c.Search.ServerAlpha = 0.5 }},
		{"zero flush interval", func(c *Config) { c.Indexer.FlushInterval = 0 }},
		{"zero snapshot interval", func(c *Config) { c.Tracing.SnapshotInterval = 0 }},
		{"max results below page size", func(c *Config) { c.Search.MaxResults = 5 }},
		{"partition without scheme", func(c *Config) { c.Network.Partitions = []string{"p0:8081"} }},
		{"no partition attempts", func(c *Config) {
			c.Network.Partitions = []string{"http://p0:8081"}
			c.Network.RetryMaxAttempts = 0
		}},
		{"sample rate above one", func(c *Config) { c.Tracing.SampleRate = 2 }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted invalid config")
			}
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := defaultConfig()
	cfg.Search.ResultsPerPage = 0
	cfg.Indexer.FlushInterval = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted invalid config")
	}
	for _, want := range []string{"search.resultsPerPage", "indexer.flushInterval"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("%q missing from %v", want, err)
		}
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quarry.yaml")
	if err := os.WriteFile(path, []byte("search:\n  resultsPerPag: 20\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "resultsPerPag") {
		t.Errorf("Load = %v", err)
	}

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(empty); err != nil {
		t.Errorf("empty file: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"QY_KAFKA_BROKERS":      "k1:9092, k2:9092,",
		"QY_NETWORK_PARTITIONS": "http://p0:8081,http://p1:8081",
		"QY_METRICS_ENABLED":    "false",
		"QY_SEARCH_MACHINE_ID":  "",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }
	cfg := defaultConfig()
	cfg.Search.MachineID = "kept"
	if err := applyEnv(cfg, lookup); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg.Kafka.Brokers, []string{"k1:9092", "k2:9092"}) || len(cfg.Network.Partitions) != 2 {
		t.Errorf("lists = %v %v", cfg.Kafka.Brokers, cfg.Network.Partitions)
	}
	if cfg.Metrics.Enabled || cfg.Search.MachineID != "kept" {
		t.Errorf("metrics %v, machine id %q", cfg.Metrics.Enabled, cfg.Search.MachineID)
	}

	env = map[string]string{"QY_SERVER_PORT": "http", "QY_INDEXER_PARTITION": "2"}
	err := applyEnv(defaultConfig(), lookup)
	if err == nil || !strings.Contains(err.Error(), "QY_SERVER_PORT") || !strings.Contains(err.Error(), "QY_INDEXER_PARTITION") {
		t.Errorf("malformed values: %v", err)
	}
}
