package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"todoflow/internal/backend"
	"todoflow/internal/config"
	"todoflow/internal/event"
	"todoflow/internal/httpserver"
	"todoflow/internal/ledger"
	"todoflow/internal/publisher"
	"todoflow/internal/recurring"
	"todoflow/pkg/db"
	"todoflow/pkg/logger"
	"todoflow/pkg/mq"
	redisclient "todoflow/pkg/redis"
)

const taskEventsQueue = "recurring-task.task-events.q"

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting recurring-task-service...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.String("mq_url", cfg.MQ.URL),
	)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// DB
	log.Info("Initializing database connection...")
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()
	log.Info("Database connection established successfully")

	// Redis (fast-path dedup)
	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	// Idempotency ledger
	deduper := ledger.NewDeduper(rdb, cfg.LedgerRetention(), log)
	led := ledger.New(ledger.NewPostgresStore(dbConn), log).WithDeduper(deduper)
	go led.RunCleanup(rootCtx, cfg.LedgerCleanupInterval(), cfg.LedgerRetention())

	// Backend client
	client := backend.NewClient(cfg.Backend.URL, recurring.ConsumerID, cfg.Backend.TokenSecret,
		time.Duration(cfg.Backend.TimeoutSecs)*time.Second)

	// Handler
	handler := recurring.NewHandler(led, client, log)

	// MQ Consumer for task events
	log.Info("Initializing MQ consumer for task events...",
		zap.String("queue", taskEventsQueue),
		zap.String("routing_key", event.TopicTaskEvents),
	)
	consumer, err := mq.NewConsumer(cfg.MQ.URL, taskEventsQueue, event.TopicTaskEvents, log)
	if err != nil {
		log.Fatal("Failed to init consumer", zap.Error(err))
	}

	consumer.SetHandler(handler.Handle)

	go func() {
		log.Info("Starting task events consumer...")
		if err := consumer.StartConsuming(rootCtx); err != nil {
			log.Fatal("Task events consumer failed", zap.Error(err))
		}
	}()
	log.Info("Task events consumer started successfully")

	// Fallback retrier for events this service publishes
	broker, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer broker.Close()

	fallback := publisher.NewPostgresFallbackStore(dbConn)
	pub := publisher.NewEventPublisher(broker, fallback, log,
		publisher.WithMaxRetries(cfg.Publisher.RetryMax))
	go pub.RunFallbackRetrier(rootCtx, cfg.FallbackRetryInterval())

	// HTTP server (health, metrics, subscription discovery)
	subs := []httpserver.Subscription{
		{Topic: event.TopicTaskEvents, Queue: taskEventsQueue, Route: event.TopicTaskEvents},
	}
	router := httpserver.NewRouter(dbConn, rdb, broker, subs)
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router.Engine,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("recurring-task-service is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down recurring-task-service gracefully...")

	consumer.Stop()
	rootCancel()

	log.Info("Shutting down HTTP server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	log.Info("recurring-task-service shutdown complete")
}
