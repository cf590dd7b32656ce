package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/stackfi/pool-indexer/internal/domain"
	"github.com/stackfi/pool-indexer/internal/store/schema"
)

type pgStore struct {
	db *gorm.DB
}

// NewPGStore creates a new PostgreSQL store instance
func NewPGStore(db *gorm.DB) Store {
	return &pgStore{db: db}
}

// ConfigureConnectionPool configures the connection pool settings for a GORM
// database connection. Zero values fall back to reasonable defaults.
func ConfigureConnectionPool(db *gorm.DB, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if maxOpenConns == 0 {
		maxOpenConns = 20
	}
	if maxIdleConns == 0 {
		maxIdleConns = 5
	}
	if connMaxLifetime == 0 {
		connMaxLifetime = 5 * time.Minute
	}
	if connMaxIdleTime == 0 {
		connMaxIdleTime = 10 * time.Minute
	}
	if maxIdleConns > maxOpenConns {
		maxIdleConns = maxOpenConns
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	return nil
}

// AutoMigrate creates or updates the database schema
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&schema.Checkpoint{},
		&schema.Pool{},
		&schema.PoolStats{},
		&schema.Transaction{},
		&schema.Position{},
		&schema.LockedPosition{},
		&schema.FeeAllocationLog{},
		&schema.FailedEvent{},
	)
}

// WithinTransaction runs fn against a store bound to a single transaction
func (s *pgStore) WithinTransaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&pgStore{db: tx})
	})
}

// GetCheckpoint retrieves the last processed block for a watcher
func (s *pgStore) GetCheckpoint(ctx context.Context, chainID uint64, indexerType schema.IndexerType) (uint64, error) {
	var cp schema.Checkpoint
	err := s.db.WithContext(ctx).
		Where("chain_id = ? AND indexer_type = ?", chainID, indexerType).
		First(&cp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil // No checkpoint yet, watcher starts from its configured block
		}
		return 0, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	return cp.LastBlock, nil
}

// AdvanceCheckpoint upserts the watcher checkpoint, never rewinding it
func (s *pgStore) AdvanceCheckpoint(ctx context.Context, chainID uint64, indexerType schema.IndexerType, block uint64) error {
	cp := schema.Checkpoint{
		ChainID:     chainID,
		IndexerType: indexerType,
		LastBlock:   block,
		UpdatedAt:   time.Now(),
	}

	// GREATEST keeps the checkpoint monotonic under concurrent writers
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "chain_id"}, {Name: "indexer_type"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"last_block": gorm.Expr("GREATEST(checkpoints.last_block, EXCLUDED.last_block)"),
			"updated_at": gorm.Expr("now()"),
		}),
	}).Create(&cp).Error
	if err != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", err)
	}

	return nil
}

// RecordTransaction inserts a transaction row, skipping duplicates on tx_hash
func (s *pgStore) RecordTransaction(ctx context.Context, txn *schema.Transaction) (bool, error) {
	// ON CONFLICT DO NOTHING on tx_hash: whichever ingestion path lands the
	// row first wins, the other observes ID == 0 and skips its mutations
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_hash"}},
		DoNothing: true,
	}).Clauses(clause.Returning{Columns: []clause.Column{}}).
		Create(txn).Error
	if err != nil {
		return false, fmt.Errorf("failed to record transaction: %w", err)
	}

	return txn.ID != 0, nil
}

// ApplyPositionDelta upserts a holder's open pool position
func (s *pgStore) ApplyPositionDelta(ctx context.Context, input PositionDeltaInput) (bool, error) {
	newHolder := false

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		position := schema.Position{
			PoolID:         input.PoolID,
			UserAddress:    input.UserAddress,
			Shares:         decimal.Max(input.SharesDelta, decimal.Zero),
			TotalDeposited: input.DepositedDelta,
			TotalWithdrawn: input.WithdrawnDelta,
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_address"}, {Name: "pool_id"}},
			DoNothing: true,
		}).Clauses(clause.Returning{Columns: []clause.Column{}}).
			Create(&position).Error; err != nil {
			return fmt.Errorf("failed to create position: %w", err)
		}

		// If ID is 0 the position already existed, apply deltas in place
		if position.ID == 0 {
			if err := tx.Model(&schema.Position{}).
				Where("pool_id = ? AND user_address = ?", input.PoolID, input.UserAddress).
				Updates(map[string]interface{}{
					"shares":          gorm.Expr("GREATEST(shares + ?, 0)", input.SharesDelta),
					"total_deposited": gorm.Expr("total_deposited + ?", input.DepositedDelta),
					"total_withdrawn": gorm.Expr("total_withdrawn + ?", input.WithdrawnDelta),
					"updated_at":      gorm.Expr("now()"),
				}).Error; err != nil {
				return fmt.Errorf("failed to update position: %w", err)
			}
			return nil
		}

		newHolder = true
		return nil
	})

	return newHolder, err
}

// BumpPoolStats applies incremental deltas to a pool's aggregates
func (s *pgStore) BumpPoolStats(ctx context.Context, input StatsDeltaInput) error {
	result := s.db.WithContext(ctx).Model(&schema.PoolStats{}).
		Where("pool_id = ?", input.PoolID).
		Updates(map[string]interface{}{
			"tvl":              gorm.Expr("GREATEST(tvl + ?, 0)", input.TVLDelta),
			"total_shares":     gorm.Expr("GREATEST(total_shares + ?, 0)", input.SharesDelta),
			"total_deposited":  gorm.Expr("total_deposited + ?", input.DepositedDelta),
			"total_withdrawn":  gorm.Expr("total_withdrawn + ?", input.WithdrawnDelta),
			"unique_investors": gorm.Expr("unique_investors + ?", input.InvestorsDelta),
			"updated_at":       gorm.Expr("now()"),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to bump pool stats: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: no stats row for pool %d", domain.ErrPoolNotFound, input.PoolID)
	}

	return nil
}

// SyncPoolStats overwrites a pool's TVL and NAV from chain reads
func (s *pgStore) SyncPoolStats(ctx context.Context, input StatsSyncInput) error {
	result := s.db.WithContext(ctx).Model(&schema.PoolStats{}).
		Where("pool_id = ?", input.PoolID).
		Updates(map[string]interface{}{
			"tvl":               input.TVL,
			"nav":               input.NAV,
			"last_synced_block": input.LastSyncedBlock,
			"updated_at":        gorm.Expr("now()"),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to sync pool stats: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: no stats row for pool %d", domain.ErrPoolNotFound, input.PoolID)
	}

	return nil
}

// CreatePendingPool creates a pool record awaiting contract deployment
func (s *pgStore) CreatePendingPool(ctx context.Context, input CreatePendingPoolInput) (*schema.Pool, error) {
	pool := schema.Pool{
		ChainID:       input.ChainID,
		Kind:          input.Kind,
		Status:        schema.PoolStatusPending,
		Name:          input.Name,
		AssetAddress:  input.AssetAddress,
		AssetDecimals: input.AssetDecimals,
	}

	if err := s.db.WithContext(ctx).Create(&pool).Error; err != nil {
		return nil, fmt.Errorf("failed to create pending pool: %w", err)
	}

	return &pool, nil
}

// BindPoolContract matches a deployed contract to a pending pool announced
// for the same asset within the match window
func (s *pgStore) BindPoolContract(ctx context.Context, input BindPoolInput) (*schema.Pool, error) {
	var bound *schema.Pool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Already bound: idempotent replay of the same detection
		var existing schema.Pool
		err := tx.Where("chain_id = ? AND contract_address = ?", input.ChainID, input.PoolAddress).
			First(&existing).Error
		if err == nil {
			bound = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("failed to look up pool: %w", err)
		}

		// Heuristic match: oldest pending announcement for the same asset
		// inside the recency window, locked against concurrent binders.
		// Unsound if two pools share an asset and deploy close together;
		// the window keeps the blast radius small.
		now := time.Now()
		var pending schema.Pool
		err = tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("chain_id = ? AND status = ? AND contract_address = '' AND asset_address = ? AND created_at > ?",
				input.ChainID, schema.PoolStatusPending, input.AssetAddress, now.Add(-input.MatchWindow)).
			Order("created_at ASC").
			First(&pending).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrPoolNotFound
			}
			return fmt.Errorf("failed to match pending pool: %w", err)
		}

		if err := tx.Model(&pending).Updates(map[string]interface{}{
			"contract_address": input.PoolAddress,
			"status":           schema.PoolStatusActive,
			"start_block":      input.StartBlock,
			"asset_decimals":   input.AssetDecimals,
			"activated_at":     now,
		}).Error; err != nil {
			return fmt.Errorf("failed to activate pending pool: %w", err)
		}
		if err := tx.First(&pending, pending.ID).Error; err != nil {
			return fmt.Errorf("failed to reload pool: %w", err)
		}
		bound = &pending

		// Every active pool carries a stats row
		stats := schema.PoolStats{PoolID: bound.ID}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pool_id"}},
			DoNothing: true,
		}).Create(&stats).Error; err != nil {
			return fmt.Errorf("failed to create pool stats: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return bound, nil
}

// GetPoolByAddress retrieves a pool by its contract address
func (s *pgStore) GetPoolByAddress(ctx context.Context, chainID uint64, address string) (*schema.Pool, error) {
	var pool schema.Pool
	err := s.db.WithContext(ctx).
		Where("chain_id = ? AND contract_address = ?", chainID, address).
		First(&pool).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPoolNotFound
		}
		return nil, fmt.Errorf("failed to get pool: %w", err)
	}

	return &pool, nil
}

// GetPoolByID retrieves a pool by primary key
func (s *pgStore) GetPoolByID(ctx context.Context, id int64) (*schema.Pool, error) {
	var pool schema.Pool
	err := s.db.WithContext(ctx).First(&pool, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPoolNotFound
		}
		return nil, fmt.Errorf("failed to get pool: %w", err)
	}

	return &pool, nil
}

// ListActivePools lists active pools on a chain, optionally filtered by kind
func (s *pgStore) ListActivePools(ctx context.Context, chainID uint64, kind domain.PoolKind) ([]schema.Pool, error) {
	query := s.db.WithContext(ctx).
		Where("chain_id = ? AND status = ?", chainID, schema.PoolStatusActive)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}

	var pools []schema.Pool
	if err := query.Order("id ASC").Find(&pools).Error; err != nil {
		return nil, fmt.Errorf("failed to list pools: %w", err)
	}

	return pools, nil
}

// GetPoolStats retrieves a pool's aggregates
func (s *pgStore) GetPoolStats(ctx context.Context, poolID int64) (*schema.PoolStats, error) {
	var stats schema.PoolStats
	err := s.db.WithContext(ctx).Where("pool_id = ?", poolID).First(&stats).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPoolNotFound
		}
		return nil, fmt.Errorf("failed to get pool stats: %w", err)
	}

	return &stats, nil
}

// GetPosition retrieves a holder's open pool position
func (s *pgStore) GetPosition(ctx context.Context, poolID int64, userAddress string) (*schema.Position, error) {
	var position schema.Position
	err := s.db.WithContext(ctx).
		Where("pool_id = ? AND user_address = ?", poolID, userAddress).
		First(&position).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPositionNotFound
		}
		return nil, fmt.Errorf("failed to get position: %w", err)
	}

	return &position, nil
}

// ListTransactions lists transactions matching the filter, newest first
func (s *pgStore) ListTransactions(ctx context.Context, filter TransactionFilter) ([]schema.Transaction, error) {
	query := s.db.WithContext(ctx).Model(&schema.Transaction{})
	if filter.PoolID != 0 {
		query = query.Where("pool_id = ?", filter.PoolID)
	}
	if filter.UserAddress != "" {
		query = query.Where("user_address = ?", filter.UserAddress)
	}
	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var txns []schema.Transaction
	err := query.Order("block_number DESC, log_index DESC").
		Limit(limit).Offset(filter.Offset).
		Find(&txns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	return txns, nil
}

// CreateLockedPosition inserts a locked position, skipping duplicates
func (s *pgStore) CreateLockedPosition(ctx context.Context, position *schema.LockedPosition) (bool, error) {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pool_id"}, {Name: "onchain_id"}},
		DoNothing: true,
	}).Clauses(clause.Returning{Columns: []clause.Column{}}).
		Create(position).Error
	if err != nil {
		return false, fmt.Errorf("failed to create locked position: %w", err)
	}

	return position.ID != 0, nil
}

// GetLockedPosition retrieves a locked position by its on-chain id
func (s *pgStore) GetLockedPosition(ctx context.Context, poolID int64, onchainID uint64) (*schema.LockedPosition, error) {
	var position schema.LockedPosition
	err := s.db.WithContext(ctx).
		Where("pool_id = ? AND onchain_id = ?", poolID, onchainID).
		First(&position).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPositionNotFound
		}
		return nil, fmt.Errorf("failed to get locked position: %w", err)
	}

	return &position, nil
}

// ListLockedPositionsByUser lists a user's locked positions, newest first
func (s *pgStore) ListLockedPositionsByUser(ctx context.Context, userAddress string) ([]schema.LockedPosition, error) {
	var positions []schema.LockedPosition
	err := s.db.WithContext(ctx).
		Where("user_address = ?", userAddress).
		Order("created_at DESC").
		Find(&positions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list locked positions: %w", err)
	}

	return positions, nil
}

// CloseLockedPosition transitions an active position to a terminal state
func (s *pgStore) CloseLockedPosition(ctx context.Context, poolID int64, onchainID uint64, state schema.LockedPositionState, payout, penalty decimal.Decimal) error {
	// Guarding on state = active makes replays of the same close event no-ops
	result := s.db.WithContext(ctx).Model(&schema.LockedPosition{}).
		Where("pool_id = ? AND onchain_id = ? AND state = ?", poolID, onchainID, schema.LockedStateActive).
		Updates(map[string]interface{}{
			"state":       state,
			"payout":      payout,
			"penalty_fee": penalty,
			"updated_at":  gorm.Expr("now()"),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to close locked position: %w", result.Error)
	}

	return nil
}

// SetAutoRollover toggles a position's auto-rollover flag
func (s *pgStore) SetAutoRollover(ctx context.Context, poolID int64, onchainID uint64, enabled bool) error {
	result := s.db.WithContext(ctx).Model(&schema.LockedPosition{}).
		Where("pool_id = ? AND onchain_id = ?", poolID, onchainID).
		Updates(map[string]interface{}{
			"auto_rollover": enabled,
			"updated_at":    gorm.Expr("now()"),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to set auto rollover: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: pool %d onchain id %d", domain.ErrPositionNotFound, poolID, onchainID)
	}

	return nil
}

// LinkRollover cross-links a predecessor position with its successor
func (s *pgStore) LinkRollover(ctx context.Context, predecessorID, successorID int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&schema.LockedPosition{}).
			Where("id = ?", predecessorID).
			Updates(map[string]interface{}{
				"state":          schema.LockedStateRolledOver,
				"rolled_into_id": successorID,
				"updated_at":     gorm.Expr("now()"),
			}).Error; err != nil {
			return fmt.Errorf("failed to mark predecessor rolled over: %w", err)
		}

		if err := tx.Model(&schema.LockedPosition{}).
			Where("id = ?", successorID).
			Updates(map[string]interface{}{
				"rolled_from_id": predecessorID,
				"updated_at":     gorm.Expr("now()"),
			}).Error; err != nil {
			return fmt.Errorf("failed to back-link successor: %w", err)
		}

		return nil
	})
}

// RecordUpfrontInterest sets the interest actually paid on a position
func (s *pgStore) RecordUpfrontInterest(ctx context.Context, poolID int64, onchainID uint64, interest decimal.Decimal) error {
	result := s.db.WithContext(ctx).Model(&schema.LockedPosition{}).
		Where("pool_id = ? AND onchain_id = ?", poolID, onchainID).
		Updates(map[string]interface{}{
			"upfront_interest": interest,
			"invested":         gorm.Expr("principal - ?", interest),
			"updated_at":       gorm.Expr("now()"),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to record upfront interest: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: pool %d onchain id %d", domain.ErrPositionNotFound, poolID, onchainID)
	}

	return nil
}

// RecordFeeAllocation inserts a fee allocation audit row, skipping duplicates
func (s *pgStore) RecordFeeAllocation(ctx context.Context, log *schema.FeeAllocationLog) (bool, error) {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_hash"}},
		DoNothing: true,
	}).Clauses(clause.Returning{Columns: []clause.Column{}}).
		Create(log).Error
	if err != nil {
		return false, fmt.Errorf("failed to record fee allocation: %w", err)
	}

	return log.ID != 0, nil
}

// RecordFailedEvent parks a queue message that exhausted its deliveries
func (s *pgStore) RecordFailedEvent(ctx context.Context, event *schema.FailedEvent) error {
	if err := s.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to record failed event: %w", err)
	}

	return nil
}

// ListFailedEvents lists parked messages, newest first
func (s *pgStore) ListFailedEvents(ctx context.Context, limit int) ([]schema.FailedEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var events []schema.FailedEvent
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list failed events: %w", err)
	}

	return events, nil
}
