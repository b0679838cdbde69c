// Package config reads the YAML configuration of the quarry services and
// applies QY_* environment overrides on top of it.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the configuration shared by every quarry service. Each service
// reads the sections it needs.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Search   SearchConfig   `yaml:"search"`
	Network  NetworkConfig  `yaml:"network"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	// RateLimitPerMinute caps requests per client address; 0 disables it.
	RateLimitPerMinute int `yaml:"rateLimitPerMinute"`
}

// PostgresConfig locates the document registry and the statistics
// snapshots. An empty Host disables both.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics names the topics the services exchange: crawl documents for
// the indexers, flush notices for completion listeners and searcher caches,
// and per-query statistics.
type KafkaTopics struct {
	CrawlDocuments  string `yaml:"crawlDocuments"`
	IndexComplete   string `yaml:"indexComplete"`
	CacheInvalidate string `yaml:"cacheInvalidate"`
	QueryStats      string `yaml:"queryStats"`
}

// RedisConfig locates the page cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// PartitionConfig places this process in a partitioned index: it indexes
// only the documents whose URL hash falls in partition Index of Count.
type PartitionConfig struct {
	Index int `yaml:"index"`
	Count int `yaml:"count"`
}

// IndexerConfig controls generation size, flushing and merging of an index.
type IndexerConfig struct {
	DataDir                   string          `yaml:"dataDir"`
	IndexName                 string          `yaml:"indexName"`
	GenerationMaxDocs         int             `yaml:"generationMaxDocs"`
	FlushInterval             time.Duration   `yaml:"flushInterval"`
	MaxGenerationsBeforeMerge int             `yaml:"maxGenerationsBeforeMerge"`
	Compression               bool            `yaml:"compression"`
	Partition                 PartitionConfig `yaml:"partition"`
}

// SearchConfig controls query parsing, paging and execution limits.
type SearchConfig struct {
	ResultsPerPage      int           `yaml:"resultsPerPage"`
	MaxResults          int           `yaml:"maxResults"`
	MinResultsToGroup   int           `yaml:"minResultsToGroup"`
	ServerAlpha         float64       `yaml:"serverAlpha"`
	MaxQueryTerms       int           `yaml:"maxQueryTerms"`
	DisjointFanIn       int           `yaml:"disjointFanIn"`
	DefaultIndex        string        `yaml:"defaultIndex"`
	Locale              string        `yaml:"locale"`
	SavePointPath       string        `yaml:"savePointPath"`
	TimeoutPerPartition time.Duration `yaml:"timeoutPerPartition"`
	ReloadInterval      time.Duration `yaml:"reloadInterval"`
	MachineID           string        `yaml:"machineId"`
	// MixesFile names a YAML list of result mixes searchable by name.
	MixesFile string `yaml:"mixesFile"`
}

// NetworkConfig lists the partitions a searcher fans queries out to. With
// no partitions queries run against the local indexes.
type NetworkConfig struct {
	Partitions              []string      `yaml:"partitions"`
	BreakerFailureThreshold int           `yaml:"breakerFailureThreshold"`
	BreakerResetTimeout     time.Duration `yaml:"breakerResetTimeout"`
	RetryMaxAttempts        int           `yaml:"retryMaxAttempts"`
	RetryInitialDelay       time.Duration `yaml:"retryInitialDelay"`
}

// LoggingConfig selects the slog level (debug, info, warn, error) and
// format (json or text).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls query statistics: per-stage timings logged and
// published for every query, aggregated by the searchers and snapshotted to
// PostgreSQL every SnapshotInterval when postgres.host is set.
type TracingConfig struct {
	Enabled          bool          `yaml:"enabled"`
	SampleRate       float64       `yaml:"sampleRate"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// MetricsConfig places the Prometheus scrape endpoint on its own port.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load builds the configuration from the defaults, the YAML file at path
// (skipped when path is empty) and the environment, in that order. Unknown
// YAML keys and malformed environment values are errors.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every setting the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	ix, s, n := c.Indexer, c.Search, c.Network
	check(ix.GenerationMaxDocs > 0, "indexer.generationMaxDocs must be positive, got %d", ix.GenerationMaxDocs)
	check(ix.FlushInterval > 0, "indexer.flushInterval must be positive, got %s", ix.FlushInterval)
	check(ix.Partition.Count >= 1 && ix.Partition.Index >= 0 && ix.Partition.Index < ix.Partition.Count,
		"indexer.partition index %d out of range for count %d", ix.Partition.Index, ix.Partition.Count)
	check(s.ResultsPerPage > 0, "search.resultsPerPage must be positive, got %d", s.ResultsPerPage)
	check(s.MaxResults == 0 || s.MaxResults >= s.ResultsPerPage,
		"search.maxResults %d is below search.resultsPerPage %d", s.MaxResults, s.ResultsPerPage)
	check(s.ServerAlpha >= 1, "search.serverAlpha must be at least 1, got %g", s.ServerAlpha)
	for _, p := range n.Partitions {
		u, err := url.Parse(p)
		check(err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "",
			"network.partitions entry %q is not an http URL", p)
	}
	if len(n.Partitions) > 0 {
		check(n.RetryMaxAttempts >= 1, "network.retryMaxAttempts must be at least 1, got %d", n.RetryMaxAttempts)
		check(s.TimeoutPerPartition > 0, "search.timeoutPerPartition must be positive, got %s", s.TimeoutPerPartition)
	}
	check(c.Tracing.SnapshotInterval > 0, "tracing.snapshotInterval must be positive, got %s", c.Tracing.SnapshotInterval)
	check(c.Tracing.SampleRate >= 0 && c.Tracing.SampleRate <= 1, "tracing.sampleRate must be within [0, 1], got %g", c.Tracing.SampleRate)
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// defaultConfig is a single-process setup against local brokers.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  10 * time.Second,
		},
		Postgres: PostgresConfig{
			Port:            5432,
			Database:        "quarry",
			User:            "quarry",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "quarry-indexer",
			Topics: KafkaTopics{
				CrawlDocuments:  "crawl-documents",
				IndexComplete:   "index.complete",
				CacheInvalidate: "cache-invalidate",
				QueryStats:      "query-stats",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 5 * time.Minute,
		},
		Indexer: IndexerConfig{
			DataDir:                   "./data",
			IndexName:                 "main",
			GenerationMaxDocs:         50000,
			FlushInterval:             30 * time.Second,
			MaxGenerationsBeforeMerge: 8,
			Compression:               true,
			Partition:                 PartitionConfig{Index: 0, Count: 1},
		},
		Search: SearchConfig{
			ResultsPerPage:      10,
			MaxResults:          1000,
			MinResultsToGroup:   200,
			ServerAlpha:         1.6,
			MaxQueryTerms:       10,
			DisjointFanIn:       50,
			DefaultIndex:        "main",
			Locale:              "en-US",
			SavePointPath:       "./data/savepoints.db",
			TimeoutPerPartition: 5 * time.Second,
			ReloadInterval:      30 * time.Second,
		},
		Network: NetworkConfig{
			BreakerFailureThreshold: 5,
			BreakerResetTimeout:     30 * time.Second,
			RetryMaxAttempts:        2,
			RetryInitialDelay:       50 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			SampleRate:       1,
			SnapshotInterval: 5 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// envVar sets one field from the environment.
type envVar struct {
	name string
	set  func(cfg *Config, v string) error
}

func setString(field func(*Config) *string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		*field(cfg) = v
		return nil
	}
}

func setInt(field func(*Config) *int) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(cfg) = n
		return nil
	}
}

func setList(field func(*Config) *[]string) func(*Config, string) error {
	return func(cfg *Config, v string) error {
		var out []string
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*field(cfg) = out
		return nil
	}
}

var envVars = []envVar{
	{"QY_SERVER_PORT", setInt(func(c *Config) *int { return &c.Server.Port })},
	{"QY_POSTGRES_HOST", setString(func(c *Config) *string { return &c.Postgres.Host })},
	{"QY_POSTGRES_PORT", setInt(func(c *Config) *int { return &c.Postgres.Port })},
	{"QY_POSTGRES_DATABASE", setString(func(c *Config) *string { return &c.Postgres.Database })},
	{"QY_POSTGRES_USER", setString(func(c *Config) *string { return &c.Postgres.User })},
	{"QY_POSTGRES_PASSWORD", setString(func(c *Config) *string { return &c.Postgres.Password })},
	{"QY_POSTGRES_SSLMODE", setString(func(c *Config) *string { return &c.Postgres.SSLMode })},
	{"QY_KAFKA_BROKERS", setList(func(c *Config) *[]string { return &c.Kafka.Brokers })},
	{"QY_REDIS_ADDR", setString(func(c *Config) *string { return &c.Redis.Addr })},
	{"QY_REDIS_PASSWORD", setString(func(c *Config) *string { return &c.Redis.Password })},
	{"QY_INDEXER_DATA_DIR", setString(func(c *Config) *string { return &c.Indexer.DataDir })},
	{"QY_INDEXER_INDEX_NAME", setString(func(c *Config) *string { return &c.Indexer.IndexName })},
	{"QY_INDEXER_PARTITION", setPartition},
	{"QY_SEARCH_DEFAULT_INDEX", setString(func(c *Config) *string { return &c.Search.DefaultIndex })},
	{"QY_SEARCH_MACHINE_ID", setString(func(c *Config) *string { return &c.Search.MachineID })},
	{"QY_NETWORK_PARTITIONS", setList(func(c *Config) *[]string { return &c.Network.Partitions })},
	{"QY_LOGGING_LEVEL", setString(func(c *Config) *string { return &c.Logging.Level })},
	{"QY_LOGGING_FORMAT", setString(func(c *Config) *string { return &c.Logging.Format })},
	{"QY_TRACING_ENABLED", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		c.Tracing.Enabled = b
		return err
	}},
	{"QY_METRICS_ENABLED", func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		c.Metrics.Enabled = b
		return err
	}},
}

// setPartition reads index/count, for example 2/4.
func setPartition(c *Config, v string) error {
	idx, count, ok := strings.Cut(v, "/")
	if !ok {
		return errors.New("want index/count")
	}
	i, err := strconv.Atoi(idx)
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(count)
	if err != nil {
		return err
	}
	c.Indexer.Partition = PartitionConfig{Index: i, Count: n}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var errs []error
	for _, ev := range envVars {
		v, ok := lookup(ev.name)
		if !ok || v == "" {
			continue
		}
		if err := ev.set(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("%s=%q: %w", ev.name, v, err))
		}
	}
	return errors.Join(errs...)
}
