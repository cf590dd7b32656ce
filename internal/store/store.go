package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/stackfi/pool-indexer/internal/domain"
	"github.com/stackfi/pool-indexer/internal/store/schema"
)

// PositionDeltaInput describes an incremental change to a holder's open pool
// position. Deltas are scaled decimals; withdrawal deltas are negative on
// SharesDelta and positive on WithdrawnDelta.
type PositionDeltaInput struct {
	PoolID         int64
	UserAddress    string
	SharesDelta    decimal.Decimal
	DepositedDelta decimal.Decimal
	WithdrawnDelta decimal.Decimal
}

// StatsDeltaInput describes an incremental change to a pool's aggregates
type StatsDeltaInput struct {
	PoolID         int64
	TVLDelta       decimal.Decimal
	SharesDelta    decimal.Decimal
	DepositedDelta decimal.Decimal
	WithdrawnDelta decimal.Decimal
	InvestorsDelta int64
}

// StatsSyncInput describes an authoritative overwrite of a pool's aggregates
// from chain reads, performed by the reconciler.
type StatsSyncInput struct {
	PoolID          int64
	TVL             decimal.Decimal
	NAV             decimal.Decimal
	LastSyncedBlock uint64
}

// CreatePendingPoolInput announces a pool before its contract is deployed
type CreatePendingPoolInput struct {
	ChainID       uint64
	Kind          domain.PoolKind
	Name          string
	AssetAddress  string
	AssetDecimals int32
}

// BindPoolInput binds a deployed pool contract to a pending pool record.
// Matching is heuristic: same asset address, announced within MatchWindow.
type BindPoolInput struct {
	ChainID       uint64
	PoolAddress   string
	AssetAddress  string
	AssetDecimals int32
	StartBlock    uint64
	MatchWindow   time.Duration
}

// TransactionFilter narrows transaction listings for the read API
type TransactionFilter struct {
	PoolID      int64
	UserAddress string
	EventType   domain.EventType
	Limit       int
	Offset      int
}

// Store defines the interface for all database operations
//
//go:generate mockgen -source=store.go -destination=../mocks/store.go -package=mocks -mock_names=Store=MockStore
type Store interface {
	// WithinTransaction runs fn against a Store bound to one database
	// transaction. Any error from fn rolls back every write it performed.
	WithinTransaction(ctx context.Context, fn func(tx Store) error) error

	// GetCheckpoint retrieves the last processed block for a watcher,
	// returning 0 when no checkpoint exists yet
	GetCheckpoint(ctx context.Context, chainID uint64, indexerType schema.IndexerType) (uint64, error)

	// AdvanceCheckpoint upserts the watcher checkpoint. The stored block only
	// ever moves forward; a smaller value leaves the row untouched.
	AdvanceCheckpoint(ctx context.Context, chainID uint64, indexerType schema.IndexerType, block uint64) error

	// RecordTransaction inserts a transaction row, returning false when a row
	// with the same tx hash already exists. This is the idempotency guard
	// shared by the watcher and webhook paths.
	RecordTransaction(ctx context.Context, txn *schema.Transaction) (bool, error)

	// ApplyPositionDelta upserts a holder's open pool position with the given
	// deltas, clamping the share balance at zero. Returns true when the
	// holder had no prior position in the pool.
	ApplyPositionDelta(ctx context.Context, input PositionDeltaInput) (bool, error)

	// BumpPoolStats applies incremental deltas to a pool's aggregates
	BumpPoolStats(ctx context.Context, input StatsDeltaInput) error

	// SyncPoolStats overwrites a pool's TVL and NAV from authoritative chain
	// reads, recording the block the values were observed at
	SyncPoolStats(ctx context.Context, input StatsSyncInput) error

	// CreatePendingPool creates a pool record awaiting contract deployment
	CreatePendingPool(ctx context.Context, input CreatePendingPoolInput) (*schema.Pool, error)

	// BindPoolContract matches a deployed contract to the oldest pending pool
	// announced for the same asset within the match window, activating it and
	// creating its stats row. Returns ErrPoolNotFound when nothing is
	// pending. Idempotent on (chain, address).
	BindPoolContract(ctx context.Context, input BindPoolInput) (*schema.Pool, error)

	// GetPoolByAddress retrieves a pool by its contract address
	GetPoolByAddress(ctx context.Context, chainID uint64, address string) (*schema.Pool, error)

	// GetPoolByID retrieves a pool by primary key
	GetPoolByID(ctx context.Context, id int64) (*schema.Pool, error)

	// ListActivePools lists active pools on a chain, optionally by kind
	ListActivePools(ctx context.Context, chainID uint64, kind domain.PoolKind) ([]schema.Pool, error)

	// GetPoolStats retrieves a pool's aggregates
	GetPoolStats(ctx context.Context, poolID int64) (*schema.PoolStats, error)

	// GetPosition retrieves a holder's open pool position
	GetPosition(ctx context.Context, poolID int64, userAddress string) (*schema.Position, error)

	// ListTransactions lists transactions matching the filter, newest first
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]schema.Transaction, error)

	// CreateLockedPosition inserts a locked position, returning false when a
	// row with the same (pool, onchain id) already exists
	CreateLockedPosition(ctx context.Context, position *schema.LockedPosition) (bool, error)

	// GetLockedPosition retrieves a locked position by its on-chain id
	GetLockedPosition(ctx context.Context, poolID int64, onchainID uint64) (*schema.LockedPosition, error)

	// ListLockedPositionsByUser lists a user's locked positions, newest first
	ListLockedPositionsByUser(ctx context.Context, userAddress string) ([]schema.LockedPosition, error)

	// CloseLockedPosition transitions an active position to redeemed or
	// early_exited, recording the payout and penalty. Closing an already
	// closed position is a no-op.
	CloseLockedPosition(ctx context.Context, poolID int64, onchainID uint64, state schema.LockedPositionState, payout, penalty decimal.Decimal) error

	// SetAutoRollover toggles a position's auto-rollover flag
	SetAutoRollover(ctx context.Context, poolID int64, onchainID uint64, enabled bool) error

	// LinkRollover marks the predecessor rolled_over and cross-links it with
	// its successor position
	LinkRollover(ctx context.Context, predecessorID, successorID int64) error

	// RecordUpfrontInterest sets the upfront interest actually paid on a
	// position, recomputing its invested amount
	RecordUpfrontInterest(ctx context.Context, poolID int64, onchainID uint64, interest decimal.Decimal) error

	// RecordFeeAllocation inserts a fee allocation audit row, returning false
	// when the tx hash was already recorded
	RecordFeeAllocation(ctx context.Context, log *schema.FeeAllocationLog) (bool, error)

	// RecordFailedEvent parks a queue message that exhausted its deliveries
	RecordFailedEvent(ctx context.Context, event *schema.FailedEvent) error

	// ListFailedEvents lists parked messages, newest first
	ListFailedEvents(ctx context.Context, limit int) ([]schema.FailedEvent, error)
}
