// Command analytics starts the cluster-wide query statistics service.
//
// Every searcher publishes its query events on the query stats topic. This
// service reads all of them in one consumer group, aggregates them (latency
// percentiles, per-stage timings, cache hit rate, zero-result and top
// queries) and serves GET /api/v1/stats. With postgres.host set, snapshots
// are saved every tracing.snapshotInterval and listed at
// GET /api/v1/stats/history.
//
// Usage:
//
//	go run ./cmd/analytics [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/quarrysearch/quarry/internal/analytics"
	"github.com/quarrysearch/quarry/internal/analytics/aggregator"
	"github.com/quarrysearch/quarry/pkg/config"
	"github.com/quarrysearch/quarry/pkg/health"
	"github.com/quarrysearch/quarry/pkg/kafka"
	"github.com/quarrysearch/quarry/pkg/logger"
	"github.com/quarrysearch/quarry/pkg/middleware"
	"github.com/quarrysearch/quarry/pkg/postgres"
)

// clusterMachineID labels snapshots of the whole cluster's statistics.
const clusterMachineID = "cluster"

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup("analytics", cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting analytics service", "port", cfg.Server.Port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	agg := analytics.NewAggregator()
	kcfg := cfg.Kafka
	kcfg.ConsumerGroup = cfg.Kafka.ConsumerGroup + "-analytics"
	consumer := kafka.NewConsumer(kcfg, cfg.Kafka.Topics.QueryStats, analytics.HandleEvent(agg))
	defer consumer.Close()
	go func() {
		if err := consumer.Start(ctx); err != nil {
			slog.Error("query stats consumer error", "error", err)
		}
	}()
	slog.Info("analytics aggregator started", "topic", cfg.Kafka.Topics.QueryStats, "group", kcfg.ConsumerGroup)

	statsHandler := analytics.NewHandler(agg)
	checker := health.NewChecker()
	checker.Register("kafka", health.Ping(func(ctx context.Context) error { return kafka.Ping(ctx, cfg.Kafka) }, health.StatusDown))

	if cfg.Postgres.Host != "" {
		pg, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			slog.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		store := aggregator.NewStore(pg.DB, clusterMachineID)
		if err := store.EnsureSchema(ctx); err != nil {
			slog.Error("failed to create snapshot schema", "error", err)
			os.Exit(1)
		}
		store.StartPeriodicSave(ctx, agg, cfg.Tracing.SnapshotInterval)
		statsHandler.WithHistory(func(ctx context.Context, limit int) (any, error) {
			return store.ListSnapshots(ctx, limit)
		})
		checker.Register("postgres", health.Ping(pg.Ping, health.StatusDegraded))
		slog.Info("statistics snapshots enabled", "interval", cfg.Tracing.SnapshotInterval)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/stats", statsHandler.Stats)
	mux.HandleFunc("GET /api/v1/stats/history", statsHandler.History)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("analytics service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("analytics service stopped")
}
