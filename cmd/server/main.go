package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/ignite/lead-router/internal/api"
	"github.com/ignite/lead-router/internal/capacity"
	"github.com/ignite/lead-router/internal/catalog"
	"github.com/ignite/lead-router/internal/config"
	"github.com/ignite/lead-router/internal/dedupe"
	"github.com/ignite/lead-router/internal/dispatch"
	"github.com/ignite/lead-router/internal/ledger"
	"github.com/ignite/lead-router/internal/matcher"
	"github.com/ignite/lead-router/internal/pipeline"
	"github.com/ignite/lead-router/internal/pkg/distlock"
	"github.com/ignite/lead-router/internal/pkg/httpretry"
	"github.com/ignite/lead-router/internal/pkg/logger"
	"github.com/ignite/lead-router/internal/repository/postgres"
	"github.com/ignite/lead-router/internal/vertical"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.Redact())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional backing services. Each has an in-process fallback.
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("redis unreachable", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		logger.Info("redis connected", "addr", opts.Addr)
	}

	var db *sql.DB
	if cfg.Database.URL != "" {
		db, err = sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			logger.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxOpenConns / 2)
		db.SetConnMaxLifetime(30 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Error("database unreachable", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		logger.Info("database connected")
	}

	// Capacity and dedupe state
	ttl := cfg.Engine.ReservationTTL()
	var (
		tracker capacity.Tracker
		index   dedupe.Index
	)
	if redisClient != nil {
		tracker = capacity.NewRedisTracker(redisClient, ttl)
		index = dedupe.NewRedisIndex(redisClient)
	} else {
		tracker = capacity.NewMemoryTracker(ttl)
		mem := dedupe.NewMemoryIndex()
		go mem.Start(ctx, cfg.Engine.SweepInterval())
		index = mem
	}

	// Ledger
	var sinks []ledger.Sink
	var sqsSink *ledger.SQSSink
	var s3Client *s3.Client
	if cfg.Ledger.SQSQueueURL != "" || cfg.Ledger.ArchiveBucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Ledger.ArchiveRegion))
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		if cfg.Ledger.SQSQueueURL != "" {
			sqsSink = ledger.NewSQSSink(sqs.NewFromConfig(awsCfg), cfg.Ledger.SQSQueueURL)
			sinks = append(sinks, sqsSink)
			logger.Info("ledger events publishing to SQS", "queue", cfg.Ledger.SQSQueueURL)
		}
		if cfg.Ledger.ArchiveBucket != "" {
			s3Client = s3.NewFromConfig(awsCfg)
		}
	}

	var store ledger.Store = ledger.NewMemoryStore()
	if db != nil {
		store = postgres.NewLedgerRepo(db)
	}
	led := ledger.New(store, sinks...)

	// Catalog
	registry := vertical.NewRegistry()
	var cat *catalog.Catalog
	if db != nil {
		repo := postgres.NewCatalogRepo(db)
		cat = catalog.New(registry, repo)
		refresher := catalog.NewRefresher(cat, repo, cfg.Engine.CatalogRefresh())
		if err := refresher.Refresh(ctx); err != nil {
			logger.Error("initial catalog load failed", "error", err)
			os.Exit(1)
		}
		go refresher.Start(ctx)
	} else {
		cat = catalog.New(registry, nil)
	}

	// Engine
	retries := max(cfg.Dispatch.MaxRetries, 0)
	base := cfg.Dispatch.RetryBaseDelay()
	doer := httpretry.NewRetryClient(&http.Client{}, retries).WithBackoff(base, 10*base, base)
	breakers := dispatch.NewBreakers(cfg.Dispatch.BreakerThreshold, cfg.Dispatch.BreakerCooldown())
	dispatcher := dispatch.NewDispatcher(dispatch.NewHTTPClient(doer), tracker, led, breakers, cfg.Dispatch.Timeout())
	m := matcher.New(cat, tracker, cfg.Engine.MatchWorkers)
	p := pipeline.New(registry, index, m, dispatcher, tracker, led, pipeline.Config{
		DedupeWindow: cfg.Engine.DedupeWindow(),
	})

	// Background jobs
	reapLock := distlock.NewLock(redisClient, db, "leadrouter:reaper", cfg.Engine.ReapInterval())
	go capacity.NewReaper(tracker, reapLock, cfg.Engine.ReapInterval()).Start(ctx)

	var archiver *ledger.Archiver
	if s3Client != nil {
		archiveLock := distlock.NewLock(redisClient, db, "leadrouter:archive", 10*time.Minute)
		archiver = ledger.NewArchiver(led, s3Client, cfg.Ledger.ArchiveBucket, cfg.Ledger.ArchiveInterval(), archiveLock)
		go archiver.Start(ctx)
		logger.Info("ledger archive enabled", "bucket", cfg.Ledger.ArchiveBucket, "interval", cfg.Ledger.ArchiveInterval().String())
	}

	// HTTP
	handlers := api.NewHandlers(p, cat, tracker, led)
	handlers.SetBreakers(breakers)
	if archiver != nil {
		handlers.SetArchiver(archiver)
	}
	var bucketHeader api.BucketHeader
	if s3Client != nil {
		bucketHeader = s3Client
	}
	handlers.SetHealthChecker(api.NewHealthChecker(db, redisClient, bucketHeader, cfg.Ledger.ArchiveBucket))
	server := api.NewServer(cfg.Server, handlers)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("starting server", "addr", server.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// In-flight leads finish before background jobs stop.
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	cancel()
	if sqsSink != nil {
		sqsSink.Close()
	}
	logger.Info("server stopped")
}
