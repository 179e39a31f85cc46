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

	"github.com/nectic/terrier-core/internal/analytics"
	"github.com/nectic/terrier-core/internal/searcher"
	"github.com/nectic/terrier-core/internal/searcher/cache"
	"github.com/nectic/terrier-core/internal/searcher/handler"
	"github.com/nectic/terrier-core/pkg/config"
	"github.com/nectic/terrier-core/pkg/health"
	"github.com/nectic/terrier-core/pkg/kafka"
	"github.com/nectic/terrier-core/pkg/logger"
	"github.com/nectic/terrier-core/pkg/metrics"
	"github.com/nectic/terrier-core/pkg/middleware"
	pkgredis "github.com/nectic/terrier-core/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port, "index", cfg.Index.Path)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
	}

	engine, err := searcher.Open(ctx, cfg, m)
	if err != nil {
		slog.Error("failed to open search engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	var redisClient *pkgredis.Client
	redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
	var queryCache *cache.QueryCache
	if err != nil {
		slog.Warn("redis unavailable, caching in process only", "error", err)
		queryCache = cache.New(nil, cfg.Redis, m)
	} else {
		defer redisClient.Close()
		queryCache = cache.New(redisClient, cfg.Redis, m)
		slog.Info("search cache enabled",
			"addr", cfg.Redis.Addr,
			"ttl", cfg.Redis.CacheTTL,
			"local_size", cfg.Redis.LocalSize,
		)
	}

	aggregator := analytics.NewAggregator()
	var collector *analytics.Collector
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.QueryEvents)
		defer producer.Close()
		collector = analytics.NewCollector(producer, aggregator, 10000)

		eventConsumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.QueryEvents, aggregator.HandleMessage)
		go func() {
			if err := eventConsumer.Start(ctx); err != nil {
				slog.Error("query event consumer error", "error", err)
			}
		}()
		slog.Info("analytics publishing to kafka", "topic", cfg.Kafka.Topics.QueryEvents)
	} else {
		collector = analytics.NewCollector(nil, aggregator, 10000)
	}
	collector.Start(ctx)
	defer collector.Close()

	h := handler.New(engine.Executor, queryCache, collector, cfg.Batch.MaxResults)
	if cfg.Kafka.Enabled {
		reloads := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete, h.OnIndexComplete)
		go func() {
			if err := reloads.Start(ctx); err != nil {
				slog.Error("index-complete consumer error", "error", err)
			}
		}()
	}
	analyticsH := analytics.NewHandler(aggregator)

	checker := health.NewChecker()
	checker.Register("index", func(ctx context.Context) health.ComponentHealth {
		src := engine.Executor.Manager().Index()
		if src == nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: "no index loaded"}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: string(src.Handle())}
	})
	checker.Register("translation_store", health.Ping(engine.Ping, true))
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		return health.Ping(redisClient.Ping, false)(ctx)
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /api/v1/analytics", analyticsH.Stats)
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var limiter *middleware.Limiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewLimiter(ctx, cfg.Server.RateLimit, time.Minute)
	}

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.RateLimit(limiter)(chain)
	chain = middleware.Metrics(m)(chain)
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

	slog.Info("search service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("search service stopped")
}
