package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/stackfi/pool-indexer/internal/adapter"
	"github.com/stackfi/pool-indexer/internal/chain"
	"github.com/stackfi/pool-indexer/internal/domain"
	"github.com/stackfi/pool-indexer/internal/ingest"
	"github.com/stackfi/pool-indexer/internal/logger"
	"github.com/stackfi/pool-indexer/internal/store"
	"github.com/stackfi/pool-indexer/internal/store/schema"
)

// LogWatcherConfig holds configuration shared by the event log watchers
type LogWatcherConfig struct {
	ChainID       uint64
	Interval      time.Duration
	StartBlock    uint64
	MaxBlockRange uint64

	// ExtraAddresses are statically configured pool contracts indexed in
	// addition to the pools registered in the store
	ExtraAddresses []string
}

// logWatcher polls contract logs for one pool kind, advancing a per-watcher
// checkpoint after each cycle. One instance per (chain, indexer type).
type logWatcher struct {
	name        string
	indexerType schema.IndexerType
	poolKind    domain.PoolKind
	topics      []common.Hash

	config  LogWatcherConfig
	store   store.Store
	fetcher chain.LogFetcher
	head    chain.HeadProvider
	handler *ingest.Handler
	clock   adapter.Clock

	running   atomic.Bool
	stopChan  chan struct{}
	stoppedCh chan struct{}
}

// NewDepositWatcher creates the watcher covering open pool deposit,
// withdrawal and fee allocation events.
func NewDepositWatcher(
	cfg LogWatcherConfig,
	st store.Store,
	fetcher chain.LogFetcher,
	head chain.HeadProvider,
	handler *ingest.Handler,
	clock adapter.Clock,
) Watcher {
	return &logWatcher{
		name:        "deposit-watcher",
		indexerType: schema.IndexerTypeDeposit,
		poolKind:    domain.PoolKindOpen,
		topics:      chain.OpenPoolTopics(),
		config:      cfg,
		store:       st,
		fetcher:     fetcher,
		head:        head,
		handler:     handler,
		clock:       clock,
		stopChan:    make(chan struct{}),
		stoppedCh:   make(chan struct{}),
	}
}

// NewLockedPositionWatcher creates the watcher covering locked pool position
// lifecycle events.
func NewLockedPositionWatcher(
	cfg LogWatcherConfig,
	st store.Store,
	fetcher chain.LogFetcher,
	head chain.HeadProvider,
	handler *ingest.Handler,
	clock adapter.Clock,
) Watcher {
	return &logWatcher{
		name:        "locked-position-watcher",
		indexerType: schema.IndexerTypeLocked,
		poolKind:    domain.PoolKindLocked,
		topics:      chain.LockedPoolTopics(),
		config:      cfg,
		store:       st,
		fetcher:     fetcher,
		head:        head,
		handler:     handler,
		clock:       clock,
		stopChan:    make(chan struct{}),
		stoppedCh:   make(chan struct{}),
	}
}

// Name returns the watcher's name
func (w *logWatcher) Name() string {
	return w.name
}

// Start begins the watcher's main loop
func (w *logWatcher) Start(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return fmt.Errorf("watcher already running")
	}
	defer func() {
		w.running.Store(false)
		close(w.stoppedCh)
	}()

	logger.InfoCtx(ctx, "starting log watcher",
		zap.String("watcher", w.name),
		zap.Uint64("chain_id", w.config.ChainID),
		zap.Duration("interval", w.config.Interval),
		zap.Uint64("max_block_range", w.config.MaxBlockRange),
	)

	for {
		select {
		case <-ctx.Done():
			logger.InfoCtx(ctx, "log watcher stopping due to context cancellation",
				zap.String("watcher", w.name), zap.Error(ctx.Err()))
			return nil
		case <-w.stopChan:
			logger.InfoCtx(ctx, "log watcher stop requested", zap.String("watcher", w.name))
			return nil
		default:
			if err := w.runCycle(ctx); err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.ErrorCtx(ctx, err, zap.String("watcher", w.name))
				}
			}
			if !w.sleep(ctx, w.config.Interval) {
				return nil
			}
		}
	}
}

// Stop gracefully stops the watcher with timeout support
func (w *logWatcher) Stop(ctx context.Context) error {
	if !w.running.CompareAndSwap(true, false) {
		return nil // Already stopped
	}

	logger.InfoCtx(ctx, "stopping log watcher", zap.String("watcher", w.name))
	close(w.stopChan)

	select {
	case <-w.stoppedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runCycle processes one bounded block window. The checkpoint advances only
// after every log in the window was attempted, so a crash mid-window replays
// the whole window and the tx hash guard absorbs the duplicates.
func (w *logWatcher) runCycle(ctx context.Context) error {
	checkpoint, err := w.store.GetCheckpoint(ctx, w.config.ChainID, w.indexerType)
	if err != nil {
		return fmt.Errorf("failed to get checkpoint: %w", err)
	}
	if checkpoint == 0 && w.config.StartBlock > 0 {
		// First run starts at the configured deploy block, not genesis
		checkpoint = w.config.StartBlock - 1
	}

	head, err := w.head.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain head: %w", err)
	}
	if head <= checkpoint {
		return nil
	}

	fromBlock := checkpoint + 1
	toBlock := min(head, checkpoint+w.config.MaxBlockRange)

	addresses := w.trackedAddresses(ctx)
	if len(addresses) == 0 {
		// Nothing to index yet; still advance so the window stays bounded
		return w.advanceCheckpoint(ctx, toBlock)
	}

	logs, err := w.fetcher.FetchLogs(ctx, addresses, w.topics, fromBlock, toBlock)
	if err != nil {
		return fmt.Errorf("failed to fetch logs for %d-%d: %w", fromBlock, toBlock, err)
	}

	handled := 0
	failed := 0
	for _, vLog := range logs {
		blockTime, err := w.head.BlockTime(ctx, vLog.BlockNumber)
		if err != nil {
			logger.ErrorCtx(ctx, err,
				zap.String("watcher", w.name),
				zap.Uint64("block_number", vLog.BlockNumber))
			failed++
			continue
		}

		event, err := chain.DecodePoolLog(w.config.ChainID, vLog, blockTime)
		if err != nil {
			logger.WarnCtx(ctx, "skipping undecodable log",
				zap.String("watcher", w.name),
				zap.String("tx_hash", vLog.TxHash.Hex()),
				zap.Error(err))
			failed++
			continue
		}

		if err := w.handler.Handle(ctx, event, schema.SourceWatcher); err != nil {
			logger.ErrorCtx(ctx, err,
				zap.String("watcher", w.name),
				zap.String("event", string(event.Type)),
				zap.String("tx_hash", event.TxHash))
			failed++
			continue
		}
		handled++
	}

	if handled > 0 || failed > 0 {
		logger.InfoCtx(ctx, "log watcher cycle complete",
			zap.String("watcher", w.name),
			zap.Uint64("from_block", fromBlock),
			zap.Uint64("to_block", toBlock),
			zap.Int("handled", handled),
			zap.Int("failed", failed),
		)
	}

	return w.advanceCheckpoint(ctx, toBlock)
}

// advanceCheckpoint persists the new checkpoint, retrying transient store
// failures. Losing the write would make the next cycle refetch a window the
// tx hash guard already absorbed, so a few retries are cheaper than a replay.
func (w *logWatcher) advanceCheckpoint(ctx context.Context, toBlock uint64) error {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 1 * time.Second
	expBackoff.MaxElapsedTime = 30 * time.Second

	return backoff.RetryNotify(
		func() error {
			return w.store.AdvanceCheckpoint(ctx, w.config.ChainID, w.indexerType, toBlock)
		},
		backoff.WithContext(expBackoff, ctx),
		func(err error, next time.Duration) {
			logger.WarnCtx(ctx, "checkpoint write failed, retrying",
				zap.String("watcher", w.name),
				zap.Uint64("to_block", toBlock),
				zap.Duration("next_attempt", next),
				zap.Error(err))
		},
	)
}

// trackedAddresses merges registered active pools with statically configured
// contracts, deduplicated case-insensitively
func (w *logWatcher) trackedAddresses(ctx context.Context) []string {
	seen := make(map[string]struct{})
	addresses := make([]string, 0, len(w.config.ExtraAddresses))

	pools, err := w.store.ListActivePools(ctx, w.config.ChainID, w.poolKind)
	if err != nil {
		logger.ErrorCtx(ctx, err, zap.String("watcher", w.name))
	} else {
		for _, pool := range pools {
			key := common.HexToAddress(pool.ContractAddress).Hex()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			addresses = append(addresses, pool.ContractAddress)
		}
	}

	for _, addr := range w.config.ExtraAddresses {
		key := common.HexToAddress(addr).Hex()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		addresses = append(addresses, addr)
	}

	return addresses
}

// sleep waits for the duration, interruptible by context or stop signal
func (w *logWatcher) sleep(ctx context.Context, duration time.Duration) bool {
	select {
	case <-w.clock.After(duration):
		return true
	case <-ctx.Done():
		return false
	case <-w.stopChan:
		return false
	}
}
