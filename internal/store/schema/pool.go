package schema

import (
	"time"

	"github.com/stackfi/pool-indexer/internal/domain"
)

// PoolStatus represents the lifecycle status of a pool record
type PoolStatus string

const (
	// PoolStatusPending is a pool announced off-chain but not yet matched to
	// its deployed contract
	PoolStatusPending PoolStatus = "pending"
	// PoolStatusActive is a pool bound to a deployed contract and indexed
	PoolStatusActive PoolStatus = "active"
)

// Pool represents the pools table - one row per investment pool contract
type Pool struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// ChainID is the EVM chain numeric identifier
	ChainID uint64 `gorm:"column:chain_id;not null;uniqueIndex:idx_pools_chain_address,priority:1"`
	// ContractAddress is the pool contract address; empty while pending
	ContractAddress string `gorm:"column:contract_address;not null;type:text;uniqueIndex:idx_pools_chain_address,priority:2"`
	// Kind distinguishes open share pools from locked term pools
	Kind domain.PoolKind `gorm:"column:kind;not null;type:text"`
	// Status is pending until the factory watcher matches the deployed contract
	Status PoolStatus `gorm:"column:status;not null;type:text;default:'pending';index"`
	// Name is the display name announced at creation
	Name string `gorm:"column:name;type:text"`
	// AssetAddress is the ERC20 asset the pool denominates in
	AssetAddress string `gorm:"column:asset_address;type:text"`
	// AssetDecimals is the ERC20 decimals used to scale raw on-chain amounts
	AssetDecimals int32 `gorm:"column:asset_decimals;not null;default:6"`
	// StartBlock is the block the pool contract was deployed at
	StartBlock uint64 `gorm:"column:start_block;not null;default:0"`
	// ActivatedAt is when the pool transitioned from pending to active
	ActivatedAt *time.Time `gorm:"column:activated_at"`
	// CreatedAt is the timestamp when this record was first created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`

	// Associations
	Stats *PoolStats `gorm:"foreignKey:PoolID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for the Pool model
func (Pool) TableName() string {
	return "pools"
}
