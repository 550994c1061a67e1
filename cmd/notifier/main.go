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
	"todoflow/internal/notify"
	"todoflow/internal/publisher"
	"todoflow/internal/scheduler"
	"todoflow/pkg/db"
	"todoflow/pkg/logger"
	"todoflow/pkg/mq"
	redisclient "todoflow/pkg/redis"
)

const remindersQueue = "notification.reminders.q"

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting notification-service...",
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

	// Redis (fast-path dedup + sent-reminder tracking)
	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	// Idempotency ledger
	deduper := ledger.NewDeduper(rdb, cfg.LedgerRetention(), log)
	led := ledger.New(ledger.NewPostgresStore(dbConn), log).WithDeduper(deduper)
	go led.RunCleanup(rootCtx, cfg.LedgerCleanupInterval(), cfg.LedgerRetention())

	// Backend client
	client := backend.NewClient(cfg.Backend.URL, notify.ConsumerID, cfg.Backend.TokenSecret,
		time.Duration(cfg.Backend.TimeoutSecs)*time.Second)

	// Dispatcher
	deliverer := notify.NewLogDeliverer(log)
	dispatcher := notify.NewDispatcher(led, client, deliverer, log)
	go dispatcher.RunFlusher(rootCtx, cfg.FlushInterval())

	// MQ Consumer for reminder events
	log.Info("Initializing MQ consumer for reminder events...",
		zap.String("queue", remindersQueue),
		zap.String("routing_key", event.TopicReminders),
	)
	consumer, err := mq.NewConsumer(cfg.MQ.URL, remindersQueue, event.TopicReminders, log)
	if err != nil {
		log.Fatal("Failed to init consumer", zap.Error(err))
	}

	consumer.SetHandler(dispatcher.Handle)

	go func() {
		log.Info("Starting reminder events consumer...")
		if err := consumer.StartConsuming(rootCtx); err != nil {
			log.Fatal("Reminder events consumer failed", zap.Error(err))
		}
	}()
	log.Info("Reminder events consumer started successfully")

	// MQ Publisher + reminder scheduler
	broker, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer broker.Close()

	fallback := publisher.NewPostgresFallbackStore(dbConn)
	pub := publisher.NewEventPublisher(broker, fallback, log,
		publisher.WithMaxRetries(cfg.Publisher.RetryMax))
	go pub.RunFallbackRetrier(rootCtx, cfg.FallbackRetryInterval())

	tracker := scheduler.NewRedisTracker(rdb, log)
	sched := scheduler.New(client, pub, tracker, log).
		WithScanInterval(cfg.ScanInterval()).
		WithLookahead(cfg.Lookahead())
	go sched.Run(rootCtx)

	// HTTP server (health, metrics, subscription discovery)
	subs := []httpserver.Subscription{
		{Topic: event.TopicReminders, Queue: remindersQueue, Route: event.TopicReminders},
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

	log.Info("notification-service is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down notification-service gracefully...")

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

	log.Info("notification-service shutdown complete")
}
