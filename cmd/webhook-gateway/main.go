package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/stackfi/pool-indexer/internal/adapter"
	"github.com/stackfi/pool-indexer/internal/config"
	"github.com/stackfi/pool-indexer/internal/gateway"
	"github.com/stackfi/pool-indexer/internal/logger"
	"github.com/stackfi/pool-indexer/internal/queue"
	"github.com/stackfi/pool-indexer/internal/store"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadGatewayConfig(*configFile, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize logger with sentry integration
	err = logger.Initialize(logger.Config{
		Debug:           cfg.Debug,
		SentryDSN:       cfg.SentryDSN,
		BreadcrumbLevel: zapcore.InfoLevel,
		Tags: map[string]string{
			"service": "webhook-gateway",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting webhook gateway")

	// Connect to database for the read API
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.Fatal("Failed to configure connection pool", zap.Error(err))
	}
	dataStore := store.NewPGStore(db)

	jsonAdapter := adapter.NewJSON()
	clock := adapter.NewClock()

	// Connect to the event stream
	publisher, err := queue.NewPublisher(queue.PublisherConfig{
		URL:            cfg.NATS.URL,
		StreamName:     cfg.NATS.StreamName,
		ConnectionName: "webhook-gateway",
		MaxReconnects:  cfg.NATS.MaxReconnects,
		ReconnectWait:  cfg.NATS.ReconnectWait,
	}, adapter.NewNatsJetStream(), jsonAdapter)
	if err != nil {
		logger.Fatal("Failed to connect to NATS", zap.Error(err), zap.String("url", cfg.NATS.URL))
	}
	defer publisher.Close()
	logger.InfoCtx(ctx, "Connected to event stream",
		zap.String("url", cfg.NATS.URL),
		zap.String("stream", cfg.NATS.StreamName))

	// Connect to Redis for webhook throttling; the gateway still serves
	// without it, just unthrottled
	var limiter adapter.RedisRateLimiter
	redisClient := adapter.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.WarnCtx(ctx, "Redis unavailable, webhook rate limiting disabled", zap.Error(err))
	} else {
		limiter = redisClient.NewRateLimiter()
		defer func() { _ = redisClient.Close() }()
	}

	handler := gateway.NewHandler(cfg.Webhook.Secret, dataStore, publisher, jsonAdapter, clock)

	srv := gateway.New(gateway.Config{
		Debug:        cfg.Debug,
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
		RateLimit:    cfg.Webhook.RateLimit,
	}, handler, limiter)

	// Start server in a goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()

	// Wait for interrupt signal to gracefully shut down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "server"))
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, zap.String("component", "server"))
	}

	logger.Info("Webhook gateway stopped")
}
