package schema

import "time"

// IndexerType identifies which watcher owns a checkpoint row
type IndexerType string

const (
	// IndexerTypeDeposit is the open pool deposit/withdrawal watcher
	IndexerTypeDeposit IndexerType = "deposit"
	// IndexerTypeLocked is the locked position watcher
	IndexerTypeLocked IndexerType = "locked"
	// IndexerTypePoolCreation is the factory pool creation watcher
	IndexerTypePoolCreation IndexerType = "pool_creation"
)

// Checkpoint represents the checkpoints table - one row per (chain, watcher)
// recording the last fully processed block. The stored block only moves
// forward; concurrent writers cannot rewind it.
type Checkpoint struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// ChainID is the EVM chain numeric identifier
	ChainID uint64 `gorm:"column:chain_id;not null;uniqueIndex:idx_checkpoints_chain_indexer,priority:1"`
	// IndexerType identifies the watcher that owns this checkpoint
	IndexerType IndexerType `gorm:"column:indexer_type;not null;type:text;uniqueIndex:idx_checkpoints_chain_indexer,priority:2"`
	// LastBlock is the highest block number fully processed by the watcher
	LastBlock uint64 `gorm:"column:last_block;not null;default:0"`
	// UpdatedAt is the timestamp of the last checkpoint advance
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`
}

// TableName specifies the table name for the Checkpoint model
func (Checkpoint) TableName() string {
	return "checkpoints"
}
