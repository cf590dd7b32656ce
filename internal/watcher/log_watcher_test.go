package watcher

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackfi/pool-indexer/internal/adapter"
	"github.com/stackfi/pool-indexer/internal/domain"
	"github.com/stackfi/pool-indexer/internal/ingest"
	"github.com/stackfi/pool-indexer/internal/logger"
	"github.com/stackfi/pool-indexer/internal/store"
	"github.com/stackfi/pool-indexer/internal/store/schema"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	code := m.Run()
	os.Exit(code)
}

const poolAddress = "0x2222222222222222222222222222222222222222"

// watcherStore backs one watcher cycle with in-memory state
type watcherStore struct {
	store.Store

	checkpoint    uint64
	advancedTo    []uint64
	pools         []schema.Pool
	recordedTxns  []schema.Transaction
	knownTxHashes map[string]bool
}

func newWatcherStore(checkpoint uint64, pools ...schema.Pool) *watcherStore {
	return &watcherStore{
		checkpoint:    checkpoint,
		pools:         pools,
		knownTxHashes: map[string]bool{},
	}
}

func (s *watcherStore) WithinTransaction(_ context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

func (s *watcherStore) GetCheckpoint(_ context.Context, _ uint64, _ schema.IndexerType) (uint64, error) {
	return s.checkpoint, nil
}

func (s *watcherStore) AdvanceCheckpoint(_ context.Context, _ uint64, _ schema.IndexerType, block uint64) error {
	if block > s.checkpoint {
		s.checkpoint = block
	}
	s.advancedTo = append(s.advancedTo, block)
	return nil
}

func (s *watcherStore) ListActivePools(_ context.Context, _ uint64, _ domain.PoolKind) ([]schema.Pool, error) {
	return s.pools, nil
}

func (s *watcherStore) GetPoolByAddress(_ context.Context, _ uint64, address string) (*schema.Pool, error) {
	for i := range s.pools {
		if s.pools[i].ContractAddress == address {
			return &s.pools[i], nil
		}
	}
	return nil, domain.ErrPoolNotFound
}

func (s *watcherStore) RecordTransaction(_ context.Context, txn *schema.Transaction) (bool, error) {
	if s.knownTxHashes[txn.TxHash] {
		return false, nil
	}
	s.knownTxHashes[txn.TxHash] = true
	s.recordedTxns = append(s.recordedTxns, *txn)
	return true, nil
}

func (s *watcherStore) ApplyPositionDelta(_ context.Context, _ store.PositionDeltaInput) (bool, error) {
	return false, nil
}

func (s *watcherStore) BumpPoolStats(_ context.Context, _ store.StatsDeltaInput) error {
	return nil
}

// fetchCall records one FetchLogs invocation
type fetchCall struct {
	addresses []string
	fromBlock uint64
	toBlock   uint64
}

type stubFetcher struct {
	logs  []types.Log
	calls []fetchCall
}

func (f *stubFetcher) FetchLogs(_ context.Context, addresses []string, _ []common.Hash, fromBlock, toBlock uint64) ([]types.Log, error) {
	f.calls = append(f.calls, fetchCall{addresses, fromBlock, toBlock})
	return f.logs, nil
}

type stubHead struct {
	head      uint64
	blockTime time.Time
}

func (h *stubHead) LatestBlock(_ context.Context) (uint64, error) {
	return h.head, nil
}

func (h *stubHead) BlockTime(_ context.Context, _ uint64) (time.Time, error) {
	return h.blockTime, nil
}

func activePool() schema.Pool {
	return schema.Pool{
		ID:              1,
		ChainID:         8453,
		ContractAddress: poolAddress,
		Kind:            domain.PoolKindOpen,
		Status:          schema.PoolStatusActive,
		AssetDecimals:   6,
	}
}

func depositLog(txHash string, block uint64) types.Log {
	data := append(
		common.LeftPadBytes(big.NewInt(1000000000).Bytes(), 32),
		common.LeftPadBytes(big.NewInt(950000000).Bytes(), 32)...)

	return types.Log{
		Address: common.HexToAddress(poolAddress),
		Topics: []common.Hash{
			crypto.Keccak256Hash([]byte("Deposited(address,uint256,uint256)")),
			common.BytesToHash(common.HexToAddress("0x1111111111111111111111111111111111111111").Bytes()),
		},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.HexToHash(txHash),
	}
}

func newTestWatcher(st *watcherStore, fetcher *stubFetcher, head *stubHead, cfg LogWatcherConfig) *logWatcher {
	handler := ingest.NewHandler(st, nil, nil)
	return NewDepositWatcher(cfg, st, fetcher, head, handler, adapter.NewClock()).(*logWatcher)
}

func TestRunCycle(t *testing.T) {
	ctx := context.Background()
	cfg := LogWatcherConfig{ChainID: 8453, MaxBlockRange: 50}

	t.Run("clamps the window to the max block range", func(t *testing.T) {
		st := newWatcherStore(100, activePool())
		fetcher := &stubFetcher{}
		w := newTestWatcher(st, fetcher, &stubHead{head: 1000}, cfg)

		err := w.runCycle(ctx)
		require.NoError(t, err)

		require.Len(t, fetcher.calls, 1)
		assert.Equal(t, uint64(101), fetcher.calls[0].fromBlock)
		assert.Equal(t, uint64(150), fetcher.calls[0].toBlock)
		assert.Equal(t, []uint64{150}, st.advancedTo)
	})

	t.Run("stops at the head when it is closer than the range", func(t *testing.T) {
		st := newWatcherStore(100, activePool())
		fetcher := &stubFetcher{}
		w := newTestWatcher(st, fetcher, &stubHead{head: 120}, cfg)

		err := w.runCycle(ctx)
		require.NoError(t, err)

		require.Len(t, fetcher.calls, 1)
		assert.Equal(t, uint64(120), fetcher.calls[0].toBlock)
	})

	t.Run("does nothing when caught up to the head", func(t *testing.T) {
		st := newWatcherStore(1000, activePool())
		fetcher := &stubFetcher{}
		w := newTestWatcher(st, fetcher, &stubHead{head: 1000}, cfg)

		err := w.runCycle(ctx)
		require.NoError(t, err)

		assert.Empty(t, fetcher.calls)
		assert.Empty(t, st.advancedTo)
	})

	t.Run("first run starts at the configured start block", func(t *testing.T) {
		st := newWatcherStore(0, activePool())
		fetcher := &stubFetcher{}
		startCfg := cfg
		startCfg.StartBlock = 500
		w := newTestWatcher(st, fetcher, &stubHead{head: 1000}, startCfg)

		err := w.runCycle(ctx)
		require.NoError(t, err)

		require.Len(t, fetcher.calls, 1)
		assert.Equal(t, uint64(500), fetcher.calls[0].fromBlock)
		assert.Equal(t, uint64(549), fetcher.calls[0].toBlock)
	})

	t.Run("advances past an empty window with no tracked pools", func(t *testing.T) {
		st := newWatcherStore(100)
		fetcher := &stubFetcher{}
		w := newTestWatcher(st, fetcher, &stubHead{head: 1000}, cfg)

		err := w.runCycle(ctx)
		require.NoError(t, err)

		assert.Empty(t, fetcher.calls)
		assert.Equal(t, []uint64{150}, st.advancedTo)
	})

	t.Run("decodes and handles fetched logs", func(t *testing.T) {
		st := newWatcherStore(100, activePool())
		fetcher := &stubFetcher{logs: []types.Log{
			depositLog("0xaaa", 110),
			depositLog("0xbbb", 115),
		}}
		w := newTestWatcher(st, fetcher, &stubHead{head: 1000, blockTime: time.Now()}, cfg)

		err := w.runCycle(ctx)
		require.NoError(t, err)

		require.Len(t, st.recordedTxns, 2)
		assert.Equal(t, schema.SourceWatcher, st.recordedTxns[0].Source)
		assert.Equal(t, []uint64{150}, st.advancedTo)
	})

	t.Run("undecodable logs do not block the checkpoint", func(t *testing.T) {
		bogus := types.Log{
			Address:     common.HexToAddress(poolAddress),
			Topics:      []common.Hash{crypto.Keccak256Hash([]byte("Unknown(address)"))},
			BlockNumber: 110,
		}
		st := newWatcherStore(100, activePool())
		fetcher := &stubFetcher{logs: []types.Log{bogus, depositLog("0xccc", 112)}}
		w := newTestWatcher(st, fetcher, &stubHead{head: 1000, blockTime: time.Now()}, cfg)

		err := w.runCycle(ctx)
		require.NoError(t, err)

		assert.Len(t, st.recordedTxns, 1)
		assert.Equal(t, []uint64{150}, st.advancedTo)
	})
}

func TestTrackedAddresses(t *testing.T) {
	ctx := context.Background()

	t.Run("merges registered pools with configured extras", func(t *testing.T) {
		st := newWatcherStore(0, activePool())
		cfg := LogWatcherConfig{
			ChainID:        8453,
			MaxBlockRange:  50,
			ExtraAddresses: []string{"0x3333333333333333333333333333333333333333"},
		}
		w := newTestWatcher(st, &stubFetcher{}, &stubHead{}, cfg)

		addresses := w.trackedAddresses(ctx)
		assert.Len(t, addresses, 2)
	})

	t.Run("deduplicates case-insensitively", func(t *testing.T) {
		st := newWatcherStore(0, activePool())
		cfg := LogWatcherConfig{
			ChainID:        8453,
			MaxBlockRange:  50,
			ExtraAddresses: []string{"0x2222222222222222222222222222222222222222"},
		}
		w := newTestWatcher(st, &stubFetcher{}, &stubHead{}, cfg)

		addresses := w.trackedAddresses(ctx)
		assert.Len(t, addresses, 1)
	})
}
