package schema

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/stackfi/pool-indexer/internal/domain"
)

// LockedPositionState is the lifecycle state of a locked position
type LockedPositionState string

const (
	// LockedStateActive is a position accruing until its lock end
	LockedStateActive LockedPositionState = "active"
	// LockedStateRedeemed is a position paid out at maturity
	LockedStateRedeemed LockedPositionState = "redeemed"
	// LockedStateEarlyExited is a position exited before maturity with a penalty
	LockedStateEarlyExited LockedPositionState = "early_exited"
	// LockedStateRolledOver is a matured position whose principal moved into a
	// successor position
	LockedStateRolledOver LockedPositionState = "rolled_over"
)

// LockedPosition represents the locked_positions table - one row per on-chain
// term position in a locked pool.
type LockedPosition struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// PoolID references the locked pool
	PoolID int64 `gorm:"column:pool_id;not null;uniqueIndex:idx_locked_positions_pool_onchain,priority:1"`
	// OnchainID is the position id assigned by the pool contract
	OnchainID uint64 `gorm:"column:onchain_id;not null;uniqueIndex:idx_locked_positions_pool_onchain,priority:2"`
	// UserAddress is the position owner's address
	UserAddress string `gorm:"column:user_address;not null;type:text;index"`
	// Principal is the scaled principal committed at creation
	Principal decimal.Decimal `gorm:"column:principal;not null;type:numeric(38,18);default:0"`
	// Invested is the scaled amount actually working in the pool. For UPFRONT
	// positions this is principal minus the interest paid out at creation.
	Invested decimal.Decimal `gorm:"column:invested;not null;type:numeric(38,18);default:0"`
	// UpfrontInterest is the scaled interest paid at creation, zero for MATURITY
	UpfrontInterest decimal.Decimal `gorm:"column:upfront_interest;not null;type:numeric(38,18);default:0"`
	// ExpectedPayout is the scaled amount due at maturity
	ExpectedPayout decimal.Decimal `gorm:"column:expected_payout;not null;type:numeric(38,18);default:0"`
	// APYBps is the tier APY in basis points at creation time
	APYBps uint64 `gorm:"column:apy_bps;not null;default:0"`
	// DurationDays is the tier lock duration at creation time
	DurationDays uint64 `gorm:"column:duration_days;not null;default:0"`
	// InterestMode is UPFRONT or MATURITY
	InterestMode domain.InterestMode `gorm:"column:interest_mode;not null;type:text"`
	// LockEndTime is when the position matures
	LockEndTime time.Time `gorm:"column:lock_end_time;not null"`
	// State is the position lifecycle state
	State LockedPositionState `gorm:"column:state;not null;type:text;default:'active';index"`
	// AutoRollover is whether the position rolls into a new term at maturity
	AutoRollover bool `gorm:"column:auto_rollover;not null;default:false"`
	// RolledIntoID references the successor position after a rollover
	RolledIntoID *int64 `gorm:"column:rolled_into_id"`
	// RolledFromID references the predecessor position this one was rolled from
	RolledFromID *int64 `gorm:"column:rolled_from_id"`
	// Payout is the scaled amount actually paid at redemption or early exit
	Payout *decimal.Decimal `gorm:"column:payout;type:numeric(38,18)"`
	// PenaltyFee is the scaled early exit penalty
	PenaltyFee decimal.Decimal `gorm:"column:penalty_fee;not null;type:numeric(38,18);default:0"`
	// CreatedAt is the timestamp when this record was first indexed
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
	// UpdatedAt is the timestamp of the last state change
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`
}

// TableName specifies the table name for the LockedPosition model
func (LockedPosition) TableName() string {
	return "locked_positions"
}
