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
	"github.com/stackfi/pool-indexer/internal/chain"
	"github.com/stackfi/pool-indexer/internal/config"
	"github.com/stackfi/pool-indexer/internal/ingest"
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
	cfg, err := config.LoadWorkerConfig(*configFile, *envPath)
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
			"service": "queue-worker",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting queue worker")

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	if err := store.ConfigureConnectionPool(db, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, cfg.Database.ConnMaxLifetime, cfg.Database.ConnMaxIdleTime); err != nil {
		logger.Fatal("Failed to configure connection pool", zap.Error(err))
	}
	if err := store.AutoMigrate(db); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}
	dataStore := store.NewPGStore(db)

	clock := adapter.NewClock()

	// Chain access for tier reads and webhook deposit corroboration
	var chainClient chain.ChainClient
	var approval chain.ApprovalChecker
	if cfg.Ethereum.RPCURL != "" {
		ethClient, err := adapter.NewEthClientDialer().Dial(ctx, cfg.Ethereum.RPCURL)
		if err != nil {
			logger.Fatal("Failed to connect to Ethereum RPC", zap.Error(err), zap.String("url", cfg.Ethereum.RPCURL))
		}
		chainClient = chain.NewClient(cfg.Ethereum.ChainID, ethClient)
		defer chainClient.Close()

		// Allowances are read against each pool's own asset. Production
		// refuses uncorroborated deposits, development lets them through
		// when the read fails.
		approval = chain.NewApprovalChecker(chainClient, cfg.Approval.Timeout, !cfg.IsProduction())
	} else {
		logger.WarnCtx(ctx, "Ethereum RPC not configured, tier reads and approval checks disabled")
	}

	handler := ingest.NewHandler(dataStore, chainClient, approval)

	worker, err := queue.NewWorker(queue.WorkerConfig{
		URL:               cfg.NATS.URL,
		StreamName:        cfg.NATS.StreamName,
		ConnectionName:    "queue-worker",
		MaxReconnects:     cfg.NATS.MaxReconnects,
		ReconnectWait:     cfg.NATS.ReconnectWait,
		AckWait:           cfg.NATS.AckWait,
		ImmediateConsumer: cfg.Queue.ImmediateConsumer,
		DelayedConsumer:   cfg.Queue.DelayedConsumer,
		MaxDeliver:        cfg.Queue.MaxDeliver,
		SettleDelay:       cfg.Queue.SettleDelay,
		PoolSize:          cfg.Queue.WorkerPoolSize,
	}, adapter.NewNatsJetStream(), adapter.NewJSON(), dataStore, handler, clock)
	if err != nil {
		logger.Fatal("Failed to connect to NATS", zap.Error(err), zap.String("url", cfg.NATS.URL))
	}
	defer worker.Close()
	logger.InfoCtx(ctx, "Connected to event stream",
		zap.String("url", cfg.NATS.URL),
		zap.String("stream", cfg.NATS.StreamName))

	// Run worker in a goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := worker.Run(ctx); err != nil && err != context.Canceled {
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
		logger.ErrorCtx(ctx, err, zap.String("component", "worker"))
	}
	cancel()

	logger.Info("Queue worker stopped")
}
