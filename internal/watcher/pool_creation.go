package watcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/stackfi/pool-indexer/internal/adapter"
	"github.com/stackfi/pool-indexer/internal/chain"
	"github.com/stackfi/pool-indexer/internal/domain"
	"github.com/stackfi/pool-indexer/internal/logger"
	"github.com/stackfi/pool-indexer/internal/store"
	"github.com/stackfi/pool-indexer/internal/store/schema"
)

// poolMatchWindow bounds how far back an off-chain announcement may lie and
// still be matched to a freshly deployed contract. Announcements older than
// this are considered stale rather than candidates.
const poolMatchWindow = 5 * time.Minute

// PoolCreationConfig holds configuration for the pool creation watcher
type PoolCreationConfig struct {
	ChainID        uint64
	Interval       time.Duration
	FactoryAddress string
}

// poolCreationWatcher polls the factory registry for newly deployed pool
// contracts and binds them to pending announcements. The factory emits no
// usable creation event, so detection is read-based: poolCount() grows, the
// new indexes are read back with pools(i).
type poolCreationWatcher struct {
	config PoolCreationConfig
	store  store.Store
	chain  chain.ChainClient
	head   chain.HeadProvider
	clock  adapter.Clock

	// knownCount is the registry size after the last completed cycle
	knownCount uint64

	running   atomic.Bool
	stopChan  chan struct{}
	stoppedCh chan struct{}
}

// NewPoolCreationWatcher creates the registry polling watcher
func NewPoolCreationWatcher(
	cfg PoolCreationConfig,
	st store.Store,
	chainClient chain.ChainClient,
	head chain.HeadProvider,
	clock adapter.Clock,
) Watcher {
	return &poolCreationWatcher{
		config:    cfg,
		store:     st,
		chain:     chainClient,
		head:      head,
		clock:     clock,
		stopChan:  make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Name returns the watcher's name
func (w *poolCreationWatcher) Name() string {
	return "pool-creation-watcher"
}

// Start begins the watcher's main loop
func (w *poolCreationWatcher) Start(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return fmt.Errorf("watcher already running")
	}
	defer func() {
		w.running.Store(false)
		close(w.stoppedCh)
	}()

	logger.InfoCtx(ctx, "starting pool creation watcher",
		zap.Uint64("chain_id", w.config.ChainID),
		zap.String("factory", w.config.FactoryAddress),
		zap.Duration("interval", w.config.Interval),
	)

	// The registry cursor survives restarts through the checkpoint table;
	// the stored "block" is the registry index here, not a block number
	if cursor, err := w.store.GetCheckpoint(ctx, w.config.ChainID, schema.IndexerTypePoolCreation); err == nil {
		w.knownCount = cursor
	}

	for {
		select {
		case <-ctx.Done():
			logger.InfoCtx(ctx, "pool creation watcher stopping due to context cancellation", zap.Error(ctx.Err()))
			return nil
		case <-w.stopChan:
			logger.InfoCtx(ctx, "pool creation watcher stop requested")
			return nil
		default:
			if err := w.runCycle(ctx); err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.ErrorCtx(ctx, err, zap.String("watcher", w.Name()))
				}
			}
			if !w.sleep(ctx, w.config.Interval) {
				return nil
			}
		}
	}
}

// Stop gracefully stops the watcher with timeout support
func (w *poolCreationWatcher) Stop(ctx context.Context) error {
	if !w.running.CompareAndSwap(true, false) {
		return nil
	}

	logger.InfoCtx(ctx, "stopping pool creation watcher")
	close(w.stopChan)

	select {
	case <-w.stoppedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runCycle compares the registry size against the known count and binds every
// new contract to its pending announcement.
func (w *poolCreationWatcher) runCycle(ctx context.Context) error {
	count, err := w.chain.PoolCount(ctx, w.config.FactoryAddress)
	if err != nil {
		return fmt.Errorf("failed to read pool count: %w", err)
	}
	if count <= w.knownCount {
		return nil
	}

	logger.InfoCtx(ctx, "new pools registered",
		zap.Uint64("known", w.knownCount),
		zap.Uint64("count", count))

	bound := w.knownCount
	for i := w.knownCount; i < count; i++ {
		if err := w.bindPoolAt(ctx, i); err != nil {
			logger.ErrorCtx(ctx, err,
				zap.String("watcher", w.Name()),
				zap.Uint64("registry_index", i))
			// Stop at the first failed index so nothing is skipped; the next
			// cycle resumes from here
			break
		}
		bound = i + 1
	}

	if bound > w.knownCount {
		w.knownCount = bound
		if err := w.store.AdvanceCheckpoint(ctx, w.config.ChainID, schema.IndexerTypePoolCreation, bound); err != nil {
			return fmt.Errorf("failed to advance registry cursor: %w", err)
		}
	}

	return nil
}

// bindPoolAt reads one registry slot and matches it to a pending announcement
func (w *poolCreationWatcher) bindPoolAt(ctx context.Context, index uint64) error {
	address, err := w.chain.PoolAt(ctx, w.config.FactoryAddress, index)
	if err != nil {
		return fmt.Errorf("failed to read pool at index %d: %w", index, err)
	}

	// Replays after a cursor reset land here; the bind below is idempotent
	// but the asset reads are not free
	if _, err := w.store.GetPoolByAddress(ctx, w.config.ChainID, address); err == nil {
		return nil
	}

	asset, err := w.chain.PoolAsset(ctx, address)
	if err != nil {
		return fmt.Errorf("failed to read asset for pool %s: %w", address, err)
	}

	decimals, err := w.chain.AssetDecimals(ctx, asset)
	if err != nil {
		return fmt.Errorf("failed to read decimals for asset %s: %w", asset, err)
	}

	head, err := w.head.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain head: %w", err)
	}

	pool, err := w.store.BindPoolContract(ctx, store.BindPoolInput{
		ChainID:       w.config.ChainID,
		PoolAddress:   address,
		AssetAddress:  asset,
		AssetDecimals: decimals,
		StartBlock:    head,
		MatchWindow:   poolMatchWindow,
	})
	if err != nil {
		if errors.Is(err, domain.ErrPoolNotFound) {
			// A contract without a matching announcement is not ours to index
			logger.WarnCtx(ctx, "deployed pool has no pending announcement, skipping",
				zap.String("address", address),
				zap.String("asset", asset))
			return nil
		}
		return fmt.Errorf("failed to bind pool %s: %w", address, err)
	}

	logger.InfoCtx(ctx, "pool activated",
		zap.Int64("pool_id", pool.ID),
		zap.String("address", address),
		zap.String("kind", string(pool.Kind)),
		zap.String("asset", asset))
	return nil
}

// sleep waits for the duration, interruptible by context or stop signal
func (w *poolCreationWatcher) sleep(ctx context.Context, duration time.Duration) bool {
	select {
	case <-w.clock.After(duration):
		return true
	case <-ctx.Done():
		return false
	case <-w.stopChan:
		return false
	}
}
