package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position represents the positions table - one row per (user, open pool)
// holding the user's running share balance and volume totals.
type Position struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// PoolID references the open pool
	PoolID int64 `gorm:"column:pool_id;not null;uniqueIndex:idx_positions_user_pool,priority:2"`
	// UserAddress is the holder's address
	UserAddress string `gorm:"column:user_address;not null;type:text;uniqueIndex:idx_positions_user_pool,priority:1"`
	// Shares is the scaled current share balance; clamped at zero
	Shares decimal.Decimal `gorm:"column:shares;not null;type:numeric(38,18);default:0"`
	// TotalDeposited is the cumulative scaled deposit volume for this holder
	TotalDeposited decimal.Decimal `gorm:"column:total_deposited;not null;type:numeric(38,18);default:0"`
	// TotalWithdrawn is the cumulative scaled withdrawal volume for this holder
	TotalWithdrawn decimal.Decimal `gorm:"column:total_withdrawn;not null;type:numeric(38,18);default:0"`
	// CreatedAt is the timestamp when this record was first created
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
	// UpdatedAt is the timestamp of the last balance mutation
	UpdatedAt time.Time `gorm:"column:updated_at;not null;default:now()"`
}

// TableName specifies the table name for the Position model
func (Position) TableName() string {
	return "positions"
}
