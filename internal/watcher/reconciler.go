package watcher

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/stackfi/pool-indexer/internal/chain"
	"github.com/stackfi/pool-indexer/internal/domain"
	"github.com/stackfi/pool-indexer/internal/logger"
	"github.com/stackfi/pool-indexer/internal/store"
	"github.com/stackfi/pool-indexer/internal/store/schema"
)

// reconcileConcurrency bounds how many pools are reconciled at once
const reconcileConcurrency = 4

// ReconcilerConfig holds configuration for the TVL reconciler
type ReconcilerConfig struct {
	ChainID uint64

	// CronSpec schedules reconciliation runs, standard five-field cron syntax
	CronSpec string
}

// reconciler periodically overwrites each pool's incrementally maintained
// aggregates with authoritative chain reads. Incremental drift from missed or
// double-applied events converges on every run instead of accumulating.
type reconciler struct {
	config ReconcilerConfig
	store  store.Store
	chain  chain.ChainClient
	head   chain.HeadProvider
	cron   *cron.Cron

	running   atomic.Bool
	stopChan  chan struct{}
	stoppedCh chan struct{}
}

// NewReconciler creates the scheduled TVL reconciler
func NewReconciler(
	cfg ReconcilerConfig,
	st store.Store,
	chainClient chain.ChainClient,
	head chain.HeadProvider,
) Watcher {
	return &reconciler{
		config:    cfg,
		store:     st,
		chain:     chainClient,
		head:      head,
		stopChan:  make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Name returns the watcher's name
func (r *reconciler) Name() string {
	return "tvl-reconciler"
}

// Start schedules reconciliation runs and blocks until stopped
func (r *reconciler) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("reconciler already running")
	}
	defer func() {
		r.running.Store(false)
		close(r.stoppedCh)
	}()

	r.cron = cron.New()
	if _, err := r.cron.AddFunc(r.config.CronSpec, func() {
		if err := r.reconcileAll(ctx); err != nil {
			logger.ErrorCtx(ctx, err, zap.String("watcher", r.Name()))
		}
	}); err != nil {
		return fmt.Errorf("invalid reconcile cron spec %q: %w", r.config.CronSpec, err)
	}

	logger.InfoCtx(ctx, "starting tvl reconciler",
		zap.Uint64("chain_id", r.config.ChainID),
		zap.String("cron", r.config.CronSpec),
	)
	r.cron.Start()

	select {
	case <-ctx.Done():
		logger.InfoCtx(ctx, "tvl reconciler stopping due to context cancellation", zap.Error(ctx.Err()))
	case <-r.stopChan:
		logger.InfoCtx(ctx, "tvl reconciler stop requested")
	}

	// Wait for an in-flight run to finish
	<-r.cron.Stop().Done()
	return nil
}

// Stop gracefully stops the reconciler with timeout support
func (r *reconciler) Stop(ctx context.Context) error {
	if !r.running.CompareAndSwap(true, false) {
		return nil
	}

	logger.InfoCtx(ctx, "stopping tvl reconciler")
	close(r.stopChan)

	select {
	case <-r.stoppedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// reconcileAll syncs every active pool. Pools are independent; a failing pool
// is logged and skipped so one bad contract cannot starve the rest.
func (r *reconciler) reconcileAll(ctx context.Context) error {
	pools, err := r.store.ListActivePools(ctx, r.config.ChainID, "")
	if err != nil {
		return fmt.Errorf("failed to list active pools: %w", err)
	}
	if len(pools) == 0 {
		return nil
	}

	head, err := r.head.LatestBlock(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain head: %w", err)
	}

	// Each pool costs a couple of chain reads, so a small worker pool keeps
	// the run short without hammering the RPC endpoint
	workers := pond.NewPool(reconcileConcurrency, pond.WithContext(ctx))
	var synced atomic.Int64
	for i := range pools {
		pool := &pools[i]
		workers.Submit(func() {
			if err := r.reconcilePool(ctx, pool, head); err != nil {
				logger.ErrorCtx(ctx, err,
					zap.Int64("pool_id", pool.ID),
					zap.String("address", pool.ContractAddress))
				return
			}
			synced.Add(1)
		})
	}
	workers.StopAndWait()

	logger.InfoCtx(ctx, "reconciliation run complete",
		zap.Int("pools", len(pools)),
		zap.Int64("synced", synced.Load()),
		zap.Uint64("block", head))
	return nil
}

// reconcilePool overwrites one pool's TVL and NAV from chain reads
func (r *reconciler) reconcilePool(ctx context.Context, pool *schema.Pool, head uint64) error {
	input := store.StatsSyncInput{
		PoolID:          pool.ID,
		LastSyncedBlock: head,
	}

	switch pool.Kind {
	case domain.PoolKindOpen:
		raised, err := r.chain.TotalRaised(ctx, pool.ContractAddress)
		if err != nil {
			return fmt.Errorf("failed to read totalRaised: %w", err)
		}
		nav, err := r.chain.NAV(ctx, pool.ContractAddress)
		if err != nil {
			return fmt.Errorf("failed to read nav: %w", err)
		}
		input.TVL = domain.ScaleAmount(raised, pool.AssetDecimals)
		input.NAV = domain.ScaleAmount(nav, pool.AssetDecimals)

	case domain.PoolKindLocked:
		principal, err := r.chain.TotalPrincipal(ctx, pool.ContractAddress)
		if err != nil {
			return fmt.Errorf("failed to read totalPrincipal: %w", err)
		}
		input.TVL = domain.ScaleAmount(principal, pool.AssetDecimals)

	default:
		return fmt.Errorf("unknown pool kind %q", pool.Kind)
	}

	return r.syncWithRetry(ctx, input)
}

// syncWithRetry writes the synced aggregates with exponential backoff. The
// chain reads already succeeded at this point; losing them to a transient
// database hiccup would postpone convergence a whole schedule tick.
func (r *reconciler) syncWithRetry(ctx context.Context, input store.StatsSyncInput) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 2 * time.Minute
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.5

	operation := func() error {
		return r.store.SyncPoolStats(ctx, input)
	}

	notifyOnError := func(err error, duration time.Duration) {
		logger.WarnCtx(ctx, "stats sync failed, retrying",
			zap.Int64("pool_id", input.PoolID),
			zap.Duration("next_retry_in", duration),
			zap.Error(err),
		)
	}

	return backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notifyOnError)
}
