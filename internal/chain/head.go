package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stackfi/pool-indexer/internal/adapter"
	"github.com/stackfi/pool-indexer/internal/logger"
)

// headInfo represents a cached chain head observation
type headInfo struct {
	Number     uint64
	ObservedAt time.Time
}

// HeadProvider provides cached access to the latest block number and block
// timestamps. It reduces RPC calls to the chain provider by caching the head
// for a configurable TTL period.
//
//go:generate mockgen -source=head.go -destination=../mocks/head_provider.go -package=mocks -mock_names=HeadProvider=MockHeadProvider
type HeadProvider interface {
	// LatestBlock returns the latest block number, potentially from cache
	LatestBlock(ctx context.Context) (uint64, error)

	// BlockTime returns the timestamp of the given block, potentially from cache
	BlockTime(ctx context.Context, number uint64) (time.Time, error)
}

// HeadConfig holds configuration for the HeadProvider
type HeadConfig struct {
	// TTL is how long to cache the head block number
	TTL time.Duration

	// StaleWindow is how long to keep serving stale data if fetching fails.
	// If the cached head is older than this and the fetch fails, return error.
	StaleWindow time.Duration
}

// headProvider implements HeadProvider with TTL-based caching
type headProvider struct {
	client ChainClient
	config HeadConfig
	clock  adapter.Clock

	mu   sync.RWMutex
	head *headInfo

	// blockTimes caches block number to timestamp; block timestamps are
	// immutable so entries never expire, only get evicted
	timesMu    sync.Mutex
	blockTimes map[uint64]time.Time
}

const blockTimeCacheLimit = 4096

// NewHeadProvider creates a new HeadProvider with caching
func NewHeadProvider(client ChainClient, config HeadConfig, clock adapter.Clock) HeadProvider {
	return &headProvider{
		client:     client,
		config:     config,
		clock:      clock,
		blockTimes: make(map[uint64]time.Time),
	}
}

// LatestBlock returns the latest block number, using cache if valid
func (p *headProvider) LatestBlock(ctx context.Context) (uint64, error) {
	p.mu.RLock()
	cached := p.head
	p.mu.RUnlock()

	now := p.clock.Now()

	if cached != nil && now.Sub(cached.ObservedAt) < p.config.TTL {
		logger.DebugCtx(ctx, "using cached head", zap.Uint64("block_number", cached.Number))
		return cached.Number, nil
	}

	header, err := p.client.HeaderByNumber(ctx, nil)
	if err != nil {
		// Fetch failed, fall back to stale cache inside the stale window
		if cached != nil && now.Sub(cached.ObservedAt) < p.config.StaleWindow {
			logger.DebugCtx(ctx, "using stale head", zap.Uint64("block_number", cached.Number))
			return cached.Number, nil
		}
		return 0, fmt.Errorf("failed to fetch chain head and no valid cache available: %w", err)
	}

	number := header.Number.Uint64()

	p.mu.Lock()
	p.head = &headInfo{
		Number:     number,
		ObservedAt: now,
	}
	p.mu.Unlock()

	return number, nil
}

// BlockTime returns the timestamp of the given block, using cache if present
func (p *headProvider) BlockTime(ctx context.Context, number uint64) (time.Time, error) {
	p.timesMu.Lock()
	if t, ok := p.blockTimes[number]; ok {
		p.timesMu.Unlock()
		return t, nil
	}
	p.timesMu.Unlock()

	header, err := p.client.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to fetch header for block %d: %w", number, err)
	}

	t := p.clock.Unix(int64(header.Time), 0) //nolint:gosec,G115 // header.Time is a uint64 from geth which is safe to cast

	p.timesMu.Lock()
	if len(p.blockTimes) >= blockTimeCacheLimit {
		p.blockTimes = make(map[uint64]time.Time)
	}
	p.blockTimes[number] = t
	p.timesMu.Unlock()

	return t, nil
}
