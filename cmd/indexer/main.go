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
	"github.com/stackfi/pool-indexer/internal/store"
	"github.com/stackfi/pool-indexer/internal/watcher"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "config/", "Path to environment files")
)

func main() {
	flag.Parse()

	// Load configuration
	config.ChdirRepoRoot()
	cfg, err := config.LoadIndexerConfig(*configFile, *envPath)
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
			"service": "indexer",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(2 * time.Second)
	logger.InfoCtx(ctx, "Starting pool indexer")

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

	// Connect to the chain
	ethClient, err := adapter.NewEthClientDialer().Dial(ctx, cfg.Ethereum.RPCURL)
	if err != nil {
		logger.Fatal("Failed to connect to Ethereum RPC", zap.Error(err), zap.String("url", cfg.Ethereum.RPCURL))
	}
	chainClient := chain.NewClient(cfg.Ethereum.ChainID, ethClient)
	defer chainClient.Close()
	logger.InfoCtx(ctx, "Connected to chain",
		zap.Uint64("chain_id", cfg.Ethereum.ChainID),
		zap.String("rpc_url", cfg.Ethereum.RPCURL))

	clock := adapter.NewClock()
	head := chain.NewHeadProvider(chainClient, chain.HeadConfig{
		TTL:         cfg.Ethereum.BlockHeadTTL,
		StaleWindow: cfg.Ethereum.BlockHeadStaleWindow,
	}, clock)
	fetcher := chain.NewLogFetcher(chainClient, cfg.Ethereum.MaxBlockRange)

	// Watcher-sourced events are chain-verified already, no approval
	// corroboration on this path
	handler := ingest.NewHandler(dataStore, chainClient, nil)

	watchers := []watcher.Watcher{
		watcher.NewDepositWatcher(watcher.LogWatcherConfig{
			ChainID:        cfg.Ethereum.ChainID,
			Interval:       cfg.Watcher.DepositInterval,
			StartBlock:     cfg.Ethereum.StartBlock,
			MaxBlockRange:  cfg.Ethereum.MaxBlockRange,
			ExtraAddresses: cfg.Contracts.OpenPools,
		}, dataStore, fetcher, head, handler, clock),

		watcher.NewLockedPositionWatcher(watcher.LogWatcherConfig{
			ChainID:        cfg.Ethereum.ChainID,
			Interval:       cfg.Watcher.LockedInterval,
			StartBlock:     cfg.Ethereum.StartBlock,
			MaxBlockRange:  cfg.Ethereum.MaxBlockRange,
			ExtraAddresses: cfg.Contracts.LockedPools,
		}, dataStore, fetcher, head, handler, clock),

		watcher.NewReconciler(watcher.ReconcilerConfig{
			ChainID:  cfg.Ethereum.ChainID,
			CronSpec: cfg.Watcher.ReconcileCron,
		}, dataStore, chainClient, head),
	}

	if cfg.Contracts.PoolFactory != "" {
		watchers = append(watchers, watcher.NewPoolCreationWatcher(watcher.PoolCreationConfig{
			ChainID:        cfg.Ethereum.ChainID,
			Interval:       cfg.Watcher.PoolCreationInterval,
			FactoryAddress: cfg.Contracts.PoolFactory,
		}, dataStore, chainClient, head, clock))
	} else {
		logger.WarnCtx(ctx, "Pool factory address not configured, pool creation watcher disabled")
	}

	// Start all watchers
	errCh := make(chan error, len(watchers))
	for _, w := range watchers {
		go func() {
			if err := w.Start(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", w.Name(), err)
			}
		}()
	}

	// Wait for interrupt signal to gracefully shut down
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.InfoCtx(ctx, "Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.ErrorCtx(ctx, err, zap.String("component", "watcher"))
	}
	cancel()

	// Stop watchers with a fresh timeout context
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	for _, w := range watchers {
		if err := w.Stop(shutdownCtx); err != nil {
			logger.Error(err, zap.String("watcher", w.Name()))
		}
	}

	logger.Info("Pool indexer stopped")
}
