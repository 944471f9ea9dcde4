/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the class booking server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and environment configuration
  2. Open the store selected by STORE_DRIVER
  3. Start the notification dispatcher (AMQP or log sink)
  4. Build the booking engine, catalog and HTTP handler
  5. Start the maintenance scheduler
  6. Start server with graceful shutdown

ENVIRONMENT:
  See config/config.go for the full list. Common ones:
    STORE_DRIVER   memory | sqlite | postgres (default: memory)
    SQLITE_PATH    SQLite file, ":memory:" for in-memory
    DATABASE_URL   PostgreSQL DSN
    AMQP_URL       RabbitMQ URL, empty logs notifications instead
    REDIS_ADDR     Shared rate limiting, empty limits per process

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler and drain pending notifications
  4. Close store and broker connections
  5. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - config/config.go: Settings
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/warp/class-booking/api"
	"github.com/warp/class-booking/booking"
	"github.com/warp/class-booking/booking/store"
	"github.com/warp/class-booking/catalog"
	"github.com/warp/class-booking/config"
	"github.com/warp/class-booking/logging"
	"github.com/warp/class-booking/metrics"
	"github.com/warp/class-booking/notify"
	"github.com/warp/class-booking/store/postgres"
	"github.com/warp/class-booking/store/sqlite"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.WithError(err).Warn("failed to read .env")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logrus.WithError(err).Fatal("invalid logging configuration")
	}

	ctx := context.Background()

	// Initialize store
	txStore, health, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.WithError(err).WithField("driver", cfg.StoreDriver).Fatal("failed to initialize store")
	}
	defer closeStore()
	log.WithField("driver", cfg.StoreDriver).Info("store ready")

	// Notifications
	sink, closeSink := openSink(cfg, log)
	defer closeSink()
	dispatcher := notify.NewDispatcher(sink, notify.Options{
		Buffer: cfg.NotifyBuffer,
		OnDrop: metrics.NotificationDropped,
	}, log)
	dispatcher.Start()

	// Domain services
	observer := metrics.Recorder{}
	engine := booking.NewEngine(txStore,
		booking.WithNotifier(dispatcher),
		booking.WithObserver(observer),
		booking.WithLogger(log),
		booking.WithLateCancelWindow(cfg.LateCancelWindow),
		booking.WithMaxPromotionAttempts(cfg.MaxPromotionAttempts),
	)
	cat := catalog.NewService(txStore, booking.SystemClock, log)
	handler := api.NewHandler(engine, cat, log)

	// Create router
	rdb := api.NewRedisClient(ctx, cfg.RedisAddr, log)
	if rdb != nil {
		defer rdb.Close()
	}
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.CORSOrigins,
		Auth:        api.NewAuthenticator(cfg.AuthJWTSecret),
		Limiter:     api.NewRateLimiter(rdb, cfg.RateLimitRPS, cfg.RateLimitBurst, log),
		Health:      health,
	})

	scheduler, err := api.NewScheduler(engine, observer, api.Schedules{
		CreditExpiry:  cfg.CreditSweepSchedule,
		WaitlistPurge: cfg.WaitlistPurgeSchedule,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("failed to configure scheduler")
	}
	scheduler.Start()

	// Create server
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		log.Warn("scheduler jobs still running at shutdown")
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("notifications dropped at shutdown")
	}

	log.Info("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (booking.TxStore, func(context.Context) error, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s.Ping, func() { s.Close() }, nil
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		return s, s.Ping, func() { s.Close() }, nil
	case config.DriverMemory:
		return store.NewMemory(), nil, func() {}, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func openSink(cfg *config.Config, log logrus.FieldLogger) (notify.Sink, func()) {
	if cfg.AMQPURL == "" {
		return notify.NewLogSink(log), func() {}
	}
	sink, err := notify.NewAMQPSink(cfg.AMQPURL, cfg.NotifyExchange)
	if err != nil {
		log.WithError(err).Warn("amqp unavailable, logging notifications instead")
		return notify.NewLogSink(log), func() {}
	}
	return sink, func() { sink.Close() }
}
