package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// PoolStats represents the pool_stats table - per-pool running aggregates
// maintained incrementally by the mutation handlers and corrected by the
// reconciler against chain reads.
type PoolStats struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// PoolID references the pool this row aggregates
	PoolID int64 `gorm:"column:pool_id;not null;uniqueIndex"`
	// TVL is the scaled total value locked
	TVL decimal.Decimal `gorm:"column:tvl;not null;type:numeric(38,18);default:0"`
	// TotalShares is the outstanding share supply for open pools
	TotalShares decimal.Decimal `gorm:"column:total_shares;not null;type:numeric(38,18);default:0"`
	// TotalDeposited is the cumulative scaled deposit volume
	TotalDeposited decimal.Decimal `gorm:"column:total_deposited;not null;type:numeric(38,18);default:0"`
	// TotalWithdrawn is the cumulative scaled withdrawal volume
	TotalWithdrawn decimal.Decimal `gorm:"column:total_withdrawn;not null;type:numeric(38,18);default:0"`
	// UniqueInvestors counts distinct depositor addresses
	UniqueInvestors int64 `gorm:"column:unique_investors;not null;default:0"`
	// NAV is the last synced net asset value per share
	NAV decimal.Decimal `gorm:"column:nav;not null;type:numeric(38,18);default:0"`
	// LastSyncedBlock is the block the reconciler last verified against
	LastSyncedBlock uint64 `gorm:"column:last_synced_block;not null;default:0"`
	// UpdatedAt is the timestamp of the last aggregate mutation
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`
}

// TableName specifies the table name for the PoolStats model
func (PoolStats) TableName() string {
	return "pool_stats"
}
