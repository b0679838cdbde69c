package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/quarrysearch/quarry/internal/indexer"
	"github.com/quarrysearch/quarry/internal/indexer/consumer"
	"github.com/quarrysearch/quarry/internal/indexer/shard"
	"github.com/quarrysearch/quarry/pkg/config"
	"github.com/quarrysearch/quarry/pkg/health"
	"github.com/quarrysearch/quarry/pkg/kafka"
	"github.com/quarrysearch/quarry/pkg/logger"
	"github.com/quarrysearch/quarry/pkg/metrics"
	"github.com/quarrysearch/quarry/pkg/middleware"
	"github.com/quarrysearch/quarry/pkg/postgres"
	"github.com/quarrysearch/quarry/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("indexer", cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer service",
		"index_name", cfg.Indexer.IndexName,
		"partition", cfg.Indexer.Partition.Index,
		"partitions", cfg.Indexer.Partition.Count,
	)

	router, err := shard.NewRouter(cfg.Indexer)
	if err != nil {
		slog.Error("failed to create shard router", "error", err)
		os.Exit(1)
	}
	defer router.Close()
	names, err := router.OpenAll()
	if err != nil {
		slog.Error("failed to open indexes", "error", err)
		os.Exit(1)
	}
	slog.Info("indexes opened", "indexes", names)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
		reportIndexes(m, router)
	}

	checker := health.NewChecker()
	checker.Register("indexes", health.Indexes(indexStates(router), false))
	checker.Register("kafka", health.Ping(func(ctx context.Context) error { return kafka.Ping(ctx, cfg.Kafka) }, health.StatusDown))

	var registry consumer.Registry
	if cfg.Postgres.Host != "" {
		pg, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		if err := consumer.EnsureSchema(ctx, pg); err != nil {
			slog.Error("failed to create registry schema", "error", err)
			os.Exit(1)
		}
		registry = consumer.NewPostgresRegistry(pg.DB)
		checker.Register("postgres", health.Ping(pg.Ping, health.StatusDegraded))
		slog.Info("document registry enabled", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	}

	completeProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
	defer completeProducer.Close()
	invalidateProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CacheInvalidate)
	defer invalidateProducer.Close()
	notices := kafka.Fanout{completeProducer, invalidateProducer}
	router.OnFlush(func(ev indexer.FlushEvent) {
		if m != nil {
			kind := "flush"
			if ev.Merged {
				kind = "merge"
			}
			m.GenerationFlushesTotal.WithLabelValues(ev.IndexName, kind).Inc()
			reportIndexes(m, router)
		}
		pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := notices.Publish(pubCtx, kafka.Event{Key: ev.IndexName, Value: ev}); err != nil {
			slog.Error("failed to publish flush notice", "index_name", ev.IndexName, "generation", ev.Generation, "error", err)
		}
	})

	var observe func(indexName, status string)
	if m != nil {
		observe = func(indexName, status string) {
			m.DocsIndexedTotal.WithLabelValues(indexName, status).Inc()
		}
	}
	kafkaConsumer := kafka.NewConsumer(
		cfg.Kafka,
		cfg.Kafka.Topics.CrawlDocuments,
		consumer.HandleMessage(router, registry, observe),
		kafka.FromFirstOffset(),
		kafka.WithRetry(resilience.DefaultRetry),
	)
	indexConsumer := consumer.New(kafkaConsumer)

	flushed := router.StartFlushLoop(ctx, cfg.Indexer.FlushInterval)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.HandleFunc("GET /api/v1/indexes", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(router.Stats()); err != nil {
			slog.Error("failed to write index stats", "error", err)
		}
	})
	var chain http.Handler = mux
	chain = middleware.RequestID(chain)
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}
	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		slog.Info("indexer status server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("status server error", "error", err)
		}
	}()

	slog.Info("indexer service ready, consuming from kafka",
		"topic", cfg.Kafka.Topics.CrawlDocuments,
		"group", cfg.Kafka.ConsumerGroup,
	)
	if err := indexConsumer.Start(ctx); err != nil {
		slog.Error("consumer error", "error", err)
		stop()
	}

	<-flushed
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("status server shutdown error", "error", err)
	}
	slog.Info("indexer service stopped")
}

func reportIndexes(m *metrics.Metrics, router *shard.Router) {
	for _, st := range router.Stats() {
		m.GenerationsPerIndex.WithLabelValues(st.IndexName).Set(float64(st.Generations))
		m.IndexDocuments.WithLabelValues(st.IndexName).Set(float64(st.Docs + st.LinkDocs))
	}
}

func indexStates(router *shard.Router) func() []health.IndexState {
	return func() []health.IndexState {
		stats := router.Stats()
		states := make([]health.IndexState, len(stats))
		for i, st := range stats {
			states[i] = health.IndexState{Name: st.IndexName, Generations: st.Generations, Docs: st.Docs + st.LinkDocs}
		}
		return states
	}
}
