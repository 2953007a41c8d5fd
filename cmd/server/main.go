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

	"github.com/legends-of-valor/internal/activity"
	"github.com/legends-of-valor/internal/auction"
	"github.com/legends-of-valor/internal/catalog"
	"github.com/legends-of-valor/internal/combat"
	"github.com/legends-of-valor/internal/config"
	"github.com/legends-of-valor/internal/domain"
	"github.com/legends-of-valor/internal/handler"
	"github.com/legends-of-valor/internal/kafka"
	"github.com/legends-of-valor/internal/ledger"
	"github.com/legends-of-valor/internal/memory"
	"github.com/legends-of-valor/internal/metrics"
	"github.com/legends-of-valor/internal/postgres"
	"github.com/legends-of-valor/internal/redis"
	"github.com/legends-of-valor/internal/websocket"
	"github.com/legends-of-valor/internal/worker"
	"golang.org/x/time/rate"
)

// gameStore is everything the engines persist
type gameStore interface {
	ledger.Store
	combat.Store
	auction.Store
	activity.EventStore
}

// eventSink receives the activity events of both engines
type eventSink interface {
	Record(ctx context.Context, event domain.ActivityEvent)
}

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, usedDefaults, err := config.LoadOrDefault(*configPath)
	if err != nil {
		slog.Error("invalid config file", "path", *configPath, "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := cfg.Log.NewLogger(os.Stdout)
	slog.SetDefault(logger)
	if usedDefaults {
		logger.Warn("config file not found, using defaults", "path", *configPath)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		logger.Error("failed to load catalog", "path", cfg.Catalog.Path, "error", err)
		os.Exit(1)
	}
	logger.Info("catalog loaded", "skills", len(cat.Skills()))

	m := metrics.New()

	// Storage
	var store gameStore
	checks := map[string]handler.Pinger{}
	switch cfg.Storage.Driver {
	case "memory":
		logger.Warn("using in-memory storage, state is lost on restart")
		store = memory.NewStore()
	default:
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer repo.Close()
		logger.Info("connected to PostgreSQL")

		if err := repo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		store = repo
		checks["postgres"] = repo
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	feed := activity.NewRecorder(store, logger)
	feed.SetBroadcaster(wsHub)
	wsHub.SetHistory(feed)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	ledgerSvc := ledger.NewService(store, cat, logger)
	combatEngine := combat.NewEngine(store, ledgerSvc, &cfg.Combat, logger)
	combatEngine.SetMetrics(m)
	auctionEngine := auction.NewEngine(store, ledgerSvc, cat, &cfg.Auction, logger)
	auctionEngine.SetMetrics(m)

	auctionWorker := worker.NewAuctionWorker(auctionEngine, &cfg.Scheduler, logger)

	// Redis snapshot cache and bid board
	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		cache, err := redis.NewCache(&cfg.Redis, logger)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer cache.Close()
		logger.Info("connected to Redis")

		combatEngine.SetCache(cache)
		auctionEngine.SetBoard(cache)
		auctionWorker.SetBoard(cache)
		checks["redis"] = cache

		if err := auctionWorker.SyncBoard(ctx); err != nil {
			logger.Warn("failed to restore bid board on startup", "error", err)
		}
	}

	// Activity events go straight to the recorder unless Kafka carries them
	var sink eventSink = feed
	var kafkaConsumer *kafka.Consumer
	var publisher *kafka.Publisher
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka activity feed",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		publisher, kafkaConsumer, err = startKafka(cfg, feed, logger)
		if err != nil {
			logger.Warn("failed to start Kafka, recording activity directly", "error", err)
		} else {
			sink = publisher
			logger.Info("Kafka activity feed started")
		}
	}
	combatEngine.SetNotifier(sink)
	auctionEngine.SetNotifier(sink)

	if cfg.Scheduler.Enabled {
		if err := auctionWorker.Start(ctx); err != nil {
			logger.Error("failed to start auction worker", "error", err)
			os.Exit(1)
		}
	}

	httpHandler := handler.NewHandler(combatEngine, auctionEngine, ledgerSvc, cat, feed, wsHub, logger)
	httpHandler.SetMetrics(m)
	httpHandler.SetBidLimiter(handler.NewBidderRateLimiter(rate.Limit(cfg.Auction.BidRatePerSecond), cfg.Auction.BidBurst))
	for name, p := range checks {
		httpHandler.AddReadinessCheck(name, p)
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Server.Port, "storage", cfg.Storage.Driver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	if err := auctionWorker.Stop(); err != nil {
		logger.Error("failed to stop auction worker", "error", err)
	}

	// Flush queued events before the consumer goes away
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("failed to close Kafka publisher", "error", err)
		}
	}
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	wsHub.Stop()
	cancel()

	logger.Info("server stopped")
}

// startKafka wires the publisher used by the engines and the consumer that
// feeds the recorder
func startKafka(cfg *config.Config, feed *activity.Recorder, logger *slog.Logger) (*kafka.Publisher, *kafka.Consumer, error) {
	consumer, err := kafka.NewConsumer(&cfg.Kafka, feed, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating consumer: %w", err)
	}
	if err := consumer.Start(); err != nil {
		return nil, nil, fmt.Errorf("starting consumer: %w", err)
	}

	publisher, err := kafka.NewPublisher(&cfg.Kafka, logger)
	if err != nil {
		if stopErr := consumer.Stop(); stopErr != nil {
			logger.Warn("failed to stop Kafka consumer", "error", stopErr)
		}
		return nil, nil, fmt.Errorf("creating publisher: %w", err)
	}
	return publisher, consumer, nil
}
