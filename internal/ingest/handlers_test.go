package ingest

import (
	"context"
	"fmt"
	"maps"
	"math/big"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackfi/pool-indexer/internal/chain"
	"github.com/stackfi/pool-indexer/internal/domain"
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

type closeCall struct {
	onchainID uint64
	state     schema.LockedPositionState
	payout    decimal.Decimal
	penalty   decimal.Decimal
}

// fakeStore records every mutation the handler issues. Embedding the Store
// interface keeps the fake small; unimplemented methods panic when reached.
type fakeStore struct {
	store.Store

	pool *schema.Pool

	recordedTxns   []schema.Transaction
	knownTxHashes  map[string]bool
	positionDeltas []store.PositionDeltaInput
	newHolder      bool
	statsDeltas    []store.StatsDeltaInput

	locked        map[uint64]*schema.LockedPosition
	nextLockedID  int64
	createdLocked []schema.LockedPosition
	closedCalls   []closeCall
	links         [][2]int64
	upfrontPaid   []decimal.Decimal

	// Transient-failure injection, counted down per call
	createLockedFailures int
	bumpStatsFailures    int
}

func newFakeStore(pool *schema.Pool) *fakeStore {
	return &fakeStore{
		pool:          pool,
		knownTxHashes: map[string]bool{},
		locked:        map[uint64]*schema.LockedPosition{},
		nextLockedID:  1,
	}
}

// WithinTransaction mimics rollback by restoring the recorded state when fn
// fails; failure-injection counters are left alone so they count real calls
func (f *fakeStore) WithinTransaction(_ context.Context, fn func(tx store.Store) error) error {
	txns := slices.Clone(f.recordedTxns)
	hashes := maps.Clone(f.knownTxHashes)
	deltas := slices.Clone(f.positionDeltas)
	stats := slices.Clone(f.statsDeltas)
	locked := maps.Clone(f.locked)
	nextID := f.nextLockedID
	created := slices.Clone(f.createdLocked)
	closed := slices.Clone(f.closedCalls)
	links := slices.Clone(f.links)
	upfront := slices.Clone(f.upfrontPaid)

	if err := fn(f); err != nil {
		f.recordedTxns = txns
		f.knownTxHashes = hashes
		f.positionDeltas = deltas
		f.statsDeltas = stats
		f.locked = locked
		f.nextLockedID = nextID
		f.createdLocked = created
		f.closedCalls = closed
		f.links = links
		f.upfrontPaid = upfront
		return err
	}
	return nil
}

func (f *fakeStore) GetPoolByAddress(_ context.Context, _ uint64, address string) (*schema.Pool, error) {
	if f.pool == nil || f.pool.ContractAddress != address {
		return nil, domain.ErrPoolNotFound
	}
	return f.pool, nil
}

func (f *fakeStore) RecordTransaction(_ context.Context, txn *schema.Transaction) (bool, error) {
	if f.knownTxHashes[txn.TxHash] {
		return false, nil
	}
	f.knownTxHashes[txn.TxHash] = true
	f.recordedTxns = append(f.recordedTxns, *txn)
	return true, nil
}

func (f *fakeStore) ApplyPositionDelta(_ context.Context, input store.PositionDeltaInput) (bool, error) {
	f.positionDeltas = append(f.positionDeltas, input)
	return f.newHolder, nil
}

func (f *fakeStore) BumpPoolStats(_ context.Context, input store.StatsDeltaInput) error {
	if f.bumpStatsFailures > 0 {
		f.bumpStatsFailures--
		return fmt.Errorf("connection reset")
	}
	f.statsDeltas = append(f.statsDeltas, input)
	return nil
}

func (f *fakeStore) CreateLockedPosition(_ context.Context, position *schema.LockedPosition) (bool, error) {
	if f.createLockedFailures > 0 {
		f.createLockedFailures--
		return false, fmt.Errorf("connection reset")
	}
	if _, exists := f.locked[position.OnchainID]; exists {
		return false, nil
	}
	position.ID = f.nextLockedID
	f.nextLockedID++
	f.locked[position.OnchainID] = position
	f.createdLocked = append(f.createdLocked, *position)
	return true, nil
}

func (f *fakeStore) GetLockedPosition(_ context.Context, _ int64, onchainID uint64) (*schema.LockedPosition, error) {
	position, ok := f.locked[onchainID]
	if !ok {
		return nil, domain.ErrPositionNotFound
	}
	return position, nil
}

func (f *fakeStore) CloseLockedPosition(_ context.Context, _ int64, onchainID uint64, state schema.LockedPositionState, payout, penalty decimal.Decimal) error {
	f.closedCalls = append(f.closedCalls, closeCall{onchainID, state, payout, penalty})
	return nil
}

func (f *fakeStore) LinkRollover(_ context.Context, predecessorID, successorID int64) error {
	f.links = append(f.links, [2]int64{predecessorID, successorID})
	return nil
}

func (f *fakeStore) SetAutoRollover(_ context.Context, _ int64, _ uint64, _ bool) error {
	return nil
}

func (f *fakeStore) RecordUpfrontInterest(_ context.Context, _ int64, _ uint64, interest decimal.Decimal) error {
	f.upfrontPaid = append(f.upfrontPaid, interest)
	return nil
}

func (f *fakeStore) RecordFeeAllocation(_ context.Context, _ *schema.FeeAllocationLog) (bool, error) {
	return true, nil
}

// fakeChain serves tier reads without RPC
type fakeChain struct {
	chain.ChainClient

	tier    *domain.Tier
	tierErr error
}

func (f *fakeChain) CurrentTier(_ context.Context, _ string) (*domain.Tier, error) {
	return f.tier, f.tierErr
}

// fakeApproval answers allowance corroboration with a fixed verdict and
// records the token the check ran against
type fakeApproval struct {
	allowed bool
	token   string
}

func (f *fakeApproval) HasApproval(_ context.Context, token, _, _ string, _ *big.Int) (bool, error) {
	f.token = token
	return f.allowed, nil
}

func openPool() *schema.Pool {
	return &schema.Pool{
		ID:              1,
		ChainID:         8453,
		ContractAddress: "0x2222222222222222222222222222222222222222",
		Kind:            domain.PoolKindOpen,
		Status:          schema.PoolStatusActive,
		AssetDecimals:   6,
	}
}

func lockedPool() *schema.Pool {
	pool := openPool()
	pool.Kind = domain.PoolKindLocked
	return pool
}

func depositEvent() *domain.PoolEvent {
	return &domain.PoolEvent{
		Type:            domain.EventTypeDeposit,
		ChainID:         8453,
		ContractAddress: "0x2222222222222222222222222222222222222222",
		TxHash:          "0xaaa",
		BlockNumber:     100,
		Timestamp:       time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		User:            "0x1111111111111111111111111111111111111111",
		Amount:          big.NewInt(1000000000), // 1000 with 6 decimals
		Shares:          big.NewInt(950000000),
	}
}

func TestHandleDeposit(t *testing.T) {
	ctx := context.Background()

	t.Run("records the transaction and bumps aggregates", func(t *testing.T) {
		st := newFakeStore(openPool())
		st.newHolder = true
		handler := NewHandler(st, nil, nil)

		err := handler.Handle(ctx, depositEvent(), schema.SourceWatcher)
		require.NoError(t, err)

		require.Len(t, st.recordedTxns, 1)
		txn := st.recordedTxns[0]
		assert.Equal(t, "0xaaa", txn.TxHash)
		assert.Equal(t, domain.EventTypeDeposit, txn.EventType)
		assert.Equal(t, schema.SourceWatcher, txn.Source)
		assert.True(t, txn.Amount.Equal(decimal.NewFromInt(1000)))
		assert.True(t, txn.Shares.Equal(decimal.NewFromInt(950)))

		require.Len(t, st.positionDeltas, 1)
		assert.True(t, st.positionDeltas[0].SharesDelta.Equal(decimal.NewFromInt(950)))
		assert.True(t, st.positionDeltas[0].DepositedDelta.Equal(decimal.NewFromInt(1000)))

		require.Len(t, st.statsDeltas, 1)
		assert.True(t, st.statsDeltas[0].TVLDelta.Equal(decimal.NewFromInt(1000)))
		assert.Equal(t, int64(1), st.statsDeltas[0].InvestorsDelta)
	})

	t.Run("returning holders do not bump unique investors", func(t *testing.T) {
		st := newFakeStore(openPool())
		st.newHolder = false
		handler := NewHandler(st, nil, nil)

		err := handler.Handle(ctx, depositEvent(), schema.SourceWatcher)
		require.NoError(t, err)

		require.Len(t, st.statsDeltas, 1)
		assert.Zero(t, st.statsDeltas[0].InvestorsDelta)
	})

	t.Run("duplicate tx hash leaves aggregates untouched", func(t *testing.T) {
		st := newFakeStore(openPool())
		st.knownTxHashes["0xaaa"] = true
		handler := NewHandler(st, nil, nil)

		err := handler.Handle(ctx, depositEvent(), schema.SourceWatcher)
		require.NoError(t, err)

		assert.Empty(t, st.recordedTxns)
		assert.Empty(t, st.positionDeltas)
		assert.Empty(t, st.statsDeltas)
	})

	t.Run("webhook deposits without allowance are rejected", func(t *testing.T) {
		st := newFakeStore(openPool())
		handler := NewHandler(st, nil, &fakeApproval{allowed: false})

		err := handler.Handle(ctx, depositEvent(), schema.SourceWebhook)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not corroborated")
		assert.Empty(t, st.recordedTxns)
	})

	t.Run("allowance is read against the pool's own asset", func(t *testing.T) {
		pool := openPool()
		pool.AssetAddress = "0x4444444444444444444444444444444444444444"
		st := newFakeStore(pool)
		approval := &fakeApproval{allowed: true}
		handler := NewHandler(st, nil, approval)

		err := handler.Handle(ctx, depositEvent(), schema.SourceWebhook)
		require.NoError(t, err)
		assert.Equal(t, pool.AssetAddress, approval.token)
	})

	t.Run("watcher deposits skip the allowance check", func(t *testing.T) {
		st := newFakeStore(openPool())
		handler := NewHandler(st, nil, &fakeApproval{allowed: false})

		err := handler.Handle(ctx, depositEvent(), schema.SourceWatcher)
		require.NoError(t, err)
		assert.Len(t, st.recordedTxns, 1)
	})
}

func TestHandleWithdrawal(t *testing.T) {
	ctx := context.Background()

	st := newFakeStore(openPool())
	handler := NewHandler(st, nil, nil)

	event := depositEvent()
	event.Type = domain.EventTypeWithdrawal
	event.TxHash = "0xbbb"
	event.Amount = big.NewInt(500000000)
	event.Shares = big.NewInt(475000000)

	err := handler.Handle(ctx, event, schema.SourceWebhook)
	require.NoError(t, err)

	require.Len(t, st.positionDeltas, 1)
	assert.True(t, st.positionDeltas[0].SharesDelta.Equal(decimal.NewFromInt(-475)))
	assert.True(t, st.positionDeltas[0].WithdrawnDelta.Equal(decimal.NewFromInt(500)))

	require.Len(t, st.statsDeltas, 1)
	assert.True(t, st.statsDeltas[0].TVLDelta.Equal(decimal.NewFromInt(-500)))
	assert.True(t, st.statsDeltas[0].SharesDelta.Equal(decimal.NewFromInt(-475)))
	assert.True(t, st.statsDeltas[0].WithdrawnDelta.Equal(decimal.NewFromInt(500)))
}

func TestHandlePositionCreated(t *testing.T) {
	ctx := context.Background()

	st := newFakeStore(lockedPool())
	chainClient := &fakeChain{tier: &domain.Tier{
		APYBps:       800,
		DurationDays: 90,
		InterestMode: domain.InterestModeUpfront,
	}}
	handler := NewHandler(st, chainClient, nil)

	event := &domain.PoolEvent{
		Type:            domain.EventTypePositionCreated,
		ChainID:         8453,
		ContractAddress: "0x2222222222222222222222222222222222222222",
		TxHash:          "0xccc",
		Timestamp:       time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		User:            "0x1111111111111111111111111111111111111111",
		Amount:          big.NewInt(5000000000), // principal 5000
		UpfrontInterest: big.NewInt(50000000),   // interest 50
		PositionID:      42,
		LockEndTime:     uint64(time.Date(2026, 10, 30, 0, 0, 0, 0, time.UTC).Unix()),
	}

	err := handler.Handle(ctx, event, schema.SourceWatcher)
	require.NoError(t, err)

	require.Len(t, st.createdLocked, 1)
	position := st.createdLocked[0]
	assert.Equal(t, uint64(42), position.OnchainID)
	assert.True(t, position.Principal.Equal(decimal.NewFromInt(5000)))
	assert.True(t, position.Invested.Equal(decimal.NewFromInt(4950)))
	assert.True(t, position.ExpectedPayout.Equal(decimal.NewFromInt(5000)))
	assert.Equal(t, domain.InterestModeUpfront, position.InterestMode)
	assert.Equal(t, schema.LockedStateActive, position.State)

	// Only the working amount enters TVL
	require.Len(t, st.statsDeltas, 1)
	assert.True(t, st.statsDeltas[0].TVLDelta.Equal(decimal.NewFromInt(4950)))
	assert.True(t, st.statsDeltas[0].DepositedDelta.Equal(decimal.NewFromInt(5000)))
}

func TestHandlePositionRedeemed(t *testing.T) {
	ctx := context.Background()

	redemptionEvent := func() *domain.PoolEvent {
		return &domain.PoolEvent{
			Type:            domain.EventTypePositionRedeemed,
			ChainID:         8453,
			ContractAddress: "0x2222222222222222222222222222222222222222",
			TxHash:          "0xddd",
			Timestamp:       time.Date(2026, 10, 30, 0, 0, 0, 0, time.UTC),
			User:            "0x1111111111111111111111111111111111111111",
			Amount:          big.NewInt(5000000000),
			PositionID:      42,
		}
	}

	newRedeemStore := func() *fakeStore {
		st := newFakeStore(lockedPool())
		st.locked[42] = &schema.LockedPosition{
			ID:        1,
			PoolID:    1,
			OnchainID: 42,
			Invested:  decimal.NewFromInt(4950),
		}
		return st
	}

	t.Run("closes the position and releases its working amount", func(t *testing.T) {
		st := newRedeemStore()
		handler := NewHandler(st, nil, nil)

		err := handler.Handle(ctx, redemptionEvent(), schema.SourceWebhook)
		require.NoError(t, err)

		require.Len(t, st.closedCalls, 1)
		assert.Equal(t, uint64(42), st.closedCalls[0].onchainID)
		assert.Equal(t, schema.LockedStateRedeemed, st.closedCalls[0].state)
		assert.True(t, st.closedCalls[0].payout.Equal(decimal.NewFromInt(5000)))

		require.Len(t, st.statsDeltas, 1)
		assert.True(t, st.statsDeltas[0].TVLDelta.Equal(decimal.NewFromInt(-4950)))
		assert.True(t, st.statsDeltas[0].WithdrawnDelta.Equal(decimal.NewFromInt(5000)))
	})

	t.Run("transient stats failure rolls the gate back for redelivery", func(t *testing.T) {
		st := newRedeemStore()
		st.bumpStatsFailures = 1
		handler := NewHandler(st, nil, nil)

		err := handler.Handle(ctx, redemptionEvent(), schema.SourceWebhook)
		require.Error(t, err)
		assert.Empty(t, st.recordedTxns)
		assert.Empty(t, st.closedCalls)

		err = handler.Handle(ctx, redemptionEvent(), schema.SourceWebhook)
		require.NoError(t, err)

		require.Len(t, st.closedCalls, 1)
		require.Len(t, st.statsDeltas, 1)
		assert.True(t, st.statsDeltas[0].TVLDelta.Equal(decimal.NewFromInt(-4950)))
	})
}

func TestHandleRollover(t *testing.T) {
	ctx := context.Background()

	rolloverEvent := func() *domain.PoolEvent {
		return &domain.PoolEvent{
			Type:            domain.EventTypeRollover,
			ChainID:         8453,
			ContractAddress: "0x2222222222222222222222222222222222222222",
			TxHash:          "0xeee",
			Timestamp:       time.Date(2026, 10, 30, 0, 0, 0, 0, time.UTC),
			User:            "0x1111111111111111111111111111111111111111",
			Amount:          big.NewInt(5000000000),
			PositionID:      42,
			NewPositionID:   43,
		}
	}

	t.Run("pre-creates the successor and links the chain", func(t *testing.T) {
		st := newFakeStore(lockedPool())
		st.locked[42] = &schema.LockedPosition{
			ID:        7,
			PoolID:    1,
			OnchainID: 42,
			Invested:  decimal.NewFromInt(4950),
		}
		st.nextLockedID = 8
		chainClient := &fakeChain{tier: &domain.Tier{
			APYBps:       1000,
			DurationDays: 365,
			InterestMode: domain.InterestModeMaturity,
		}}
		handler := NewHandler(st, chainClient, nil)

		err := handler.Handle(ctx, rolloverEvent(), schema.SourceWebhook)
		require.NoError(t, err)

		require.Len(t, st.createdLocked, 1)
		successor := st.createdLocked[0]
		assert.Equal(t, uint64(43), successor.OnchainID)
		assert.True(t, successor.Principal.Equal(decimal.NewFromInt(5000)))
		assert.True(t, successor.Invested.Equal(decimal.NewFromInt(5000)))
		assert.True(t, successor.ExpectedPayout.Equal(decimal.NewFromInt(5500)))

		require.Len(t, st.links, 1)
		assert.Equal(t, [2]int64{7, 8}, st.links[0])

		// Principal stays invested; only the working amount delta moves TVL
		require.Len(t, st.statsDeltas, 1)
		assert.True(t, st.statsDeltas[0].TVLDelta.Equal(decimal.NewFromInt(50)))
		assert.True(t, st.statsDeltas[0].DepositedDelta.Equal(decimal.NewFromInt(5000)))
	})

	t.Run("failed tier read leaves no transaction row behind", func(t *testing.T) {
		st := newFakeStore(lockedPool())
		st.locked[42] = &schema.LockedPosition{ID: 7, OnchainID: 42}
		chainClient := &fakeChain{tierErr: fmt.Errorf("rpc timeout")}
		handler := NewHandler(st, chainClient, nil)

		err := handler.Handle(ctx, rolloverEvent(), schema.SourceWebhook)
		require.Error(t, err)

		assert.Empty(t, st.recordedTxns)
		assert.Empty(t, st.createdLocked)
	})

	t.Run("transient successor failure rolls the gate back for redelivery", func(t *testing.T) {
		st := newFakeStore(lockedPool())
		st.locked[42] = &schema.LockedPosition{
			ID:        7,
			PoolID:    1,
			OnchainID: 42,
			Invested:  decimal.NewFromInt(4950),
		}
		st.nextLockedID = 8
		st.createLockedFailures = 1
		chainClient := &fakeChain{tier: &domain.Tier{
			APYBps:       1000,
			DurationDays: 365,
			InterestMode: domain.InterestModeMaturity,
		}}
		handler := NewHandler(st, chainClient, nil)

		err := handler.Handle(ctx, rolloverEvent(), schema.SourceWebhook)
		require.Error(t, err)

		// The failed delivery must not leave the idempotency gate behind,
		// or the redelivery would skip the successor for good
		assert.Empty(t, st.recordedTxns)
		assert.False(t, st.knownTxHashes["0xeee"])

		err = handler.Handle(ctx, rolloverEvent(), schema.SourceWebhook)
		require.NoError(t, err)

		require.Len(t, st.createdLocked, 1)
		assert.Equal(t, uint64(43), st.createdLocked[0].OnchainID)
		require.Len(t, st.links, 1)
		require.Len(t, st.statsDeltas, 1)
	})

	t.Run("duplicate rollover stops after the gate", func(t *testing.T) {
		st := newFakeStore(lockedPool())
		st.locked[42] = &schema.LockedPosition{ID: 7, OnchainID: 42}
		st.knownTxHashes["0xeee"] = true
		chainClient := &fakeChain{tier: &domain.Tier{
			APYBps:       1000,
			DurationDays: 365,
			InterestMode: domain.InterestModeMaturity,
		}}
		handler := NewHandler(st, chainClient, nil)

		err := handler.Handle(ctx, rolloverEvent(), schema.SourceWebhook)
		require.NoError(t, err)

		assert.Empty(t, st.createdLocked)
		assert.Empty(t, st.links)
		assert.Empty(t, st.statsDeltas)
	})
}

func TestHandleUpfrontInterestPaid(t *testing.T) {
	ctx := context.Background()

	st := newFakeStore(lockedPool())
	handler := NewHandler(st, nil, nil)

	event := &domain.PoolEvent{
		Type:            domain.EventTypeUpfrontInterestPaid,
		ChainID:         8453,
		ContractAddress: "0x2222222222222222222222222222222222222222",
		TxHash:          "0xccc", // shares the creation tx hash
		Timestamp:       time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		User:            "0x1111111111111111111111111111111111111111",
		Amount:          big.NewInt(50000000),
		PositionID:      42,
	}

	err := handler.Handle(ctx, event, schema.SourceWebhook)
	require.NoError(t, err)

	// The synthetic suffix keeps it distinct from the creation row
	require.Len(t, st.recordedTxns, 1)
	assert.Equal(t, "0xccc#upfront", st.recordedTxns[0].TxHash)

	require.Len(t, st.upfrontPaid, 1)
	assert.True(t, st.upfrontPaid[0].Equal(decimal.NewFromInt(50)))
}

func TestHandleUnknownEventType(t *testing.T) {
	st := newFakeStore(openPool())
	handler := NewHandler(st, nil, nil)

	event := depositEvent()
	event.Type = domain.EventType("tier_upgraded")

	err := handler.Handle(context.Background(), event, schema.SourceWebhook)
	assert.ErrorContains(t, err, "no handler for event type")
}

func TestPositionEconomics(t *testing.T) {
	t.Run("upfront mode works the remainder and returns principal", func(t *testing.T) {
		invested, payout := positionEconomics(
			decimal.NewFromInt(5000), decimal.NewFromInt(50),
			&domain.Tier{APYBps: 800, DurationDays: 90, InterestMode: domain.InterestModeUpfront})

		assert.True(t, invested.Equal(decimal.NewFromInt(4950)), invested.String())
		assert.True(t, payout.Equal(decimal.NewFromInt(5000)), payout.String())
	})

	t.Run("maturity mode accrues simple interest on the full principal", func(t *testing.T) {
		invested, payout := positionEconomics(
			decimal.NewFromInt(10000), decimal.Zero,
			&domain.Tier{APYBps: 1000, DurationDays: 365, InterestMode: domain.InterestModeMaturity})

		assert.True(t, invested.Equal(decimal.NewFromInt(10000)), invested.String())
		assert.True(t, payout.Equal(decimal.NewFromInt(11000)), payout.String())
	})

	t.Run("maturity interest is prorated by duration", func(t *testing.T) {
		_, payout := positionEconomics(
			decimal.NewFromInt(10000), decimal.Zero,
			&domain.Tier{APYBps: 1000, DurationDays: 73, InterestMode: domain.InterestModeMaturity})

		// 10% APY over 73/365 of a year is 2%
		assert.True(t, payout.Equal(decimal.NewFromInt(10200)), payout.String())
	})
}
