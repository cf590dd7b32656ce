package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// FeeAllocationLog represents the fee_allocation_logs table - an audit trail
// of escrow fund allocations. Rows here never mutate pool aggregates.
type FeeAllocationLog struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// PoolID references the pool whose escrow allocated funds
	PoolID int64 `gorm:"column:pool_id;not null;index"`
	// Recipient is the address the funds went to
	Recipient string `gorm:"column:recipient;not null;type:text"`
	// Amount is the scaled allocated amount
	Amount decimal.Decimal `gorm:"column:amount;not null;type:numeric(38,18);default:0"`
	// Fee is the scaled fee taken on the allocation
	Fee decimal.Decimal `gorm:"column:fee;not null;type:numeric(38,18);default:0"`
	// TxHash is the on-chain transaction hash
	TxHash string `gorm:"column:tx_hash;not null;uniqueIndex;type:text"`
	// BlockNumber is the block the allocation was emitted in
	BlockNumber uint64 `gorm:"column:block_number;not null"`
	// OccurredAt is the block timestamp of the allocation
	OccurredAt time.Time `gorm:"column:occurred_at;not null"`
	// CreatedAt is the timestamp when this record was first indexed
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
}

// TableName specifies the table name for the FeeAllocationLog model
func (FeeAllocationLog) TableName() string {
	return "fee_allocation_logs"
}
