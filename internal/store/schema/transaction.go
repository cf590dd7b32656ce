package schema

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/stackfi/pool-indexer/internal/domain"
)

// TransactionSource identifies which ingestion path recorded a transaction
type TransactionSource string

const (
	// SourceWatcher marks rows recorded by the on-chain poll watchers
	SourceWatcher TransactionSource = "watcher"
	// SourceWebhook marks rows recorded via the webhook gateway
	SourceWebhook TransactionSource = "webhook"
)

// Transaction represents the transactions table - one row per observed pool
// event. The unique tx_hash constraint is the idempotency guard shared by the
// watcher and webhook ingestion paths: whichever path lands first wins, the
// other becomes a no-op.
type Transaction struct {
	// ID is the internal database primary key
	ID int64 `gorm:"column:id;primaryKey;autoIncrement"`
	// TxHash is the on-chain transaction hash
	TxHash string `gorm:"column:tx_hash;not null;uniqueIndex;type:text"`
	// ChainID is the EVM chain numeric identifier
	ChainID uint64 `gorm:"column:chain_id;not null"`
	// PoolID references the pool the event belongs to
	PoolID int64 `gorm:"column:pool_id;not null;index"`
	// EventType is the normalized event kind
	EventType domain.EventType `gorm:"column:event_type;not null;type:text;index"`
	// UserAddress is the depositor / position owner address
	UserAddress string `gorm:"column:user_address;not null;type:text;index"`
	// Amount is the scaled asset amount
	Amount decimal.Decimal `gorm:"column:amount;not null;type:numeric(38,18);default:0"`
	// Shares is the scaled share quantity for open pool events
	Shares decimal.Decimal `gorm:"column:shares;not null;type:numeric(38,18);default:0"`
	// Fee is the scaled allocation fee or early exit penalty
	Fee decimal.Decimal `gorm:"column:fee;not null;type:numeric(38,18);default:0"`
	// BlockNumber is the block the event was emitted in
	BlockNumber uint64 `gorm:"column:block_number;not null"`
	// LogIndex is the event's position within the block
	LogIndex uint `gorm:"column:log_index;not null;default:0"`
	// Source identifies the ingestion path that recorded this row
	Source TransactionSource `gorm:"column:source;not null;type:text"`
	// OccurredAt is the block timestamp of the event
	OccurredAt time.Time `gorm:"column:occurred_at;not null"`
	// CreatedAt is the timestamp when this record was first indexed
	CreatedAt time.Time `gorm:"column:created_at;not null;default:now()"`
}

// TableName specifies the table name for the Transaction model
func (Transaction) TableName() string {
	return "transactions"
}
