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
	"time"

	"github.com/quarrysearch/quarry/internal/analytics"
	"github.com/quarrysearch/quarry/internal/analytics/aggregator"
	"github.com/quarrysearch/quarry/internal/indexer/index"
	"github.com/quarrysearch/quarry/internal/indexer/shard"
	"github.com/quarrysearch/quarry/internal/searcher/cache"
	"github.com/quarrysearch/quarry/internal/searcher/executor"
	"github.com/quarrysearch/quarry/internal/searcher/handler"
	"github.com/quarrysearch/quarry/internal/searcher/iterator"
	"github.com/quarrysearch/quarry/internal/searcher/parser"
	"github.com/quarrysearch/quarry/internal/searcher/savepoint"
	"github.com/quarrysearch/quarry/pkg/config"
	"github.com/quarrysearch/quarry/pkg/health"
	"github.com/quarrysearch/quarry/pkg/kafka"
	"github.com/quarrysearch/quarry/pkg/logger"
	"github.com/quarrysearch/quarry/pkg/metrics"
	"github.com/quarrysearch/quarry/pkg/middleware"
	"github.com/quarrysearch/quarry/pkg/postgres"
	pkgredis "github.com/quarrysearch/quarry/pkg/redis"
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

	logger.Setup("searcher", cfg.Logging.Level, cfg.Logging.Format)
	if cfg.Search.MachineID == "" {
		cfg.Search.MachineID, _ = os.Hostname()
	}
	slog.Info("starting search service",
		"port", cfg.Server.Port,
		"machine_id", cfg.Search.MachineID,
		"partitions", len(cfg.Network.Partitions),
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
	slog.Info("indexes opened", "data_dir", cfg.Indexer.DataDir, "indexes", names)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		m.ObservePostingsDecoded(index.PostingsDecoded)
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	checker := health.NewChecker()
	checker.Register("indexes", health.Indexes(func() []health.IndexState {
		stats := router.Stats()
		states := make([]health.IndexState, len(stats))
		for i, st := range stats {
			states[i] = health.IndexState{Name: st.IndexName, Generations: st.Generations, Docs: st.Docs + st.LinkDocs}
		}
		return states
	}, len(cfg.Network.Partitions) > 0))

	var execOpts []executor.Option
	var handlerOpts []handler.Option
	if m != nil {
		handlerOpts = append(handlerOpts, handler.WithMetrics(m))
	}

	var queryCache *cache.QueryCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = pkgredis.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, page caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis)
			execOpts = append(execOpts, executor.WithCache(queryCache))
			handlerOpts = append(handlerOpts, handler.WithCache(queryCache))
			checker.Register("redis", health.Ping(redisClient.Ping, health.StatusDegraded))
			slog.Info("page cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	if cfg.Search.SavePointPath != "" {
		savePoints, err := savepoint.Open(cfg.Search.SavePointPath)
		if err != nil {
			slog.Error("failed to open save points", "path", cfg.Search.SavePointPath, "error", err)
			os.Exit(1)
		}
		defer savePoints.Close()
		execOpts = append(execOpts, executor.WithSavePoints(savePoints))
	}

	if len(cfg.Network.Partitions) > 0 {
		clients := partitionClients(cfg, m)
		var observe func(string, error)
		if m != nil {
			observe = m.PartitionOutcome
		}
		execOpts = append(execOpts, executor.WithPartitions(clients, observe))
		breakers := make([]*resilience.CircuitBreaker, len(clients))
		for i, c := range clients {
			breakers[i] = c.(*iterator.HTTPPartitionClient).Breaker()
		}
		checker.Register("partitions", health.Partitions(breakers))
	}

	if cfg.Search.MixesFile != "" {
		mixes, err := parser.LoadMixes(cfg.Search.MixesFile)
		if err != nil {
			slog.Error("failed to load mixes", "error", err)
			os.Exit(1)
		}
		handlerOpts = append(handlerOpts, handler.WithMixes(mixes))
		slog.Info("mixes loaded", "count", len(mixes))
	}

	// Every searcher keeps its own statistics and drops its own cache, so
	// each reads the query stats and invalidation topics in its own group.
	searcherKafka := cfg.Kafka
	searcherKafka.ConsumerGroup = cfg.Kafka.ConsumerGroup + "-" + cfg.Search.MachineID

	agg := analytics.NewAggregator()
	statsHandler := analytics.NewHandler(agg)
	if cfg.Tracing.Enabled {
		statsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.QueryStats)
		defer statsProducer.Close()
		collector := analytics.NewCollector(statsProducer, 10000)
		collector.Start(ctx)
		defer collector.Close()
		handlerOpts = append(handlerOpts, handler.WithCollector(collector), handler.WithTracing(cfg.Tracing))

		statsConsumer := kafka.NewConsumer(searcherKafka, cfg.Kafka.Topics.QueryStats, analytics.HandleEvent(agg))
		defer statsConsumer.Close()
		go func() {
			if err := statsConsumer.Start(ctx); err != nil {
				slog.Error("query stats consumer error", "error", err)
			}
		}()
		slog.Info("query statistics enabled", "topic", cfg.Kafka.Topics.QueryStats, "sample_rate", cfg.Tracing.SampleRate)

		if cfg.Postgres.Host != "" {
			pg, err := postgres.New(ctx, cfg.Postgres)
			if err != nil {
				slog.Error("failed to connect to postgres", "error", err)
				os.Exit(1)
			}
			defer pg.Close()
			store := aggregator.NewStore(pg.DB, cfg.Search.MachineID)
			if err := store.EnsureSchema(ctx); err != nil {
				slog.Error("failed to create snapshot schema", "error", err)
				os.Exit(1)
			}
			store.StartPeriodicSave(ctx, agg, cfg.Tracing.SnapshotInterval)
			statsHandler.WithHistory(func(ctx context.Context, limit int) (any, error) {
				return store.ListSnapshots(ctx, limit)
			})
			checker.Register("postgres", health.Ping(pg.Ping, health.StatusDegraded))
		}
	}

	if queryCache != nil {
		invalidateConsumer := kafka.NewConsumer(searcherKafka, cfg.Kafka.Topics.CacheInvalidate,
			cache.HandleInvalidate(queryCache, router.ReloadAll))
		defer invalidateConsumer.Close()
		go func() {
			if err := invalidateConsumer.Start(ctx); err != nil {
				slog.Error("cache invalidation consumer error", "error", err)
			}
		}()
	}
	if cfg.Search.ReloadInterval > 0 {
		router.StartReloadLoop(ctx, cfg.Search.ReloadInterval, func(loaded int) {
			slog.Info("generations reloaded", "loaded", loaded)
			if queryCache != nil {
				if _, err := queryCache.Invalidate(ctx); err != nil {
					slog.Error("cache invalidation after reload failed", "error", err)
				}
			}
		})
	}

	model := executor.New(router, cfg.Search, execOpts...)
	h := handler.New(model, cfg.Search, handlerOpts...)

	mux := http.NewServeMux()
	h.Routes(mux)
	mux.HandleFunc("GET /api/v1/stats", statsHandler.Stats)
	mux.HandleFunc("GET /api/v1/stats/history", statsHandler.History)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	if cfg.Server.RateLimitPerMinute > 0 {
		chain = middleware.RateLimit(middleware.NewLimiter(cfg.Server.RateLimitPerMinute, time.Minute))(chain)
	}
	chain = middleware.RequestID(chain)
	if m != nil {
		chain = middleware.Metrics(m)(chain)
	}

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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}

// partitionClients builds one breaker-guarded client per configured
// partition, reporting breaker state changes to m.
func partitionClients(cfg *config.Config, m *metrics.Metrics) []iterator.PartitionClient {
	breakerCfg := resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.Network.BreakerFailureThreshold,
		ResetTimeout:     cfg.Network.BreakerResetTimeout,
	}
	retryCfg := resilience.PartitionRetry(cfg.Network.RetryMaxAttempts, cfg.Network.RetryInitialDelay)
	clients := make([]iterator.PartitionClient, 0, len(cfg.Network.Partitions))
	for _, addr := range cfg.Network.Partitions {
		c := iterator.NewHTTPPartitionClient(addr, cfg.Search.TimeoutPerPartition, breakerCfg, retryCfg)
		if m != nil {
			m.CircuitBreakerState.WithLabelValues(c.Breaker().Name()).Set(0)
			c.Breaker().OnStateChange(func(name string, s resilience.State) {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(s))
			})
		}
		clients = append(clients, c)
	}
	return clients
}
