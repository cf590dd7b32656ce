package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// EventType identifies a decoded pool contract event
type EventType string

const (
	// EventTypeDeposit is emitted when a user deposits assets into an open pool
	EventTypeDeposit EventType = "deposit"
	// EventTypeWithdrawal is emitted when a user redeems shares from an open pool
	EventTypeWithdrawal EventType = "withdrawal"
	// EventTypeFundsAllocated is emitted by the pool escrow when raised funds are
	// allocated; indexed for fee auditing only, never mutates aggregates
	EventTypeFundsAllocated EventType = "funds_allocated"
	// EventTypePositionCreated is emitted when a locked position is opened
	EventTypePositionCreated EventType = "position_created"
	// EventTypePositionRedeemed is emitted when a locked position is redeemed at maturity
	EventTypePositionRedeemed EventType = "position_redeemed"
	// EventTypeEarlyExit is emitted when a locked position exits before maturity
	EventTypeEarlyExit EventType = "early_exit"
	// EventTypeRollover is emitted when a matured position rolls into a new one
	EventTypeRollover EventType = "rollover"
	// EventTypeAutoRolloverSet is emitted when a user toggles auto-rollover
	EventTypeAutoRolloverSet EventType = "auto_rollover_set"
	// EventTypeUpfrontInterestPaid is emitted when upfront interest is paid out at creation
	EventTypeUpfrontInterestPaid EventType = "upfront_interest_paid"
)

// InterestMode is how a locked position pays interest
type InterestMode string

const (
	// InterestModeUpfront pays interest at creation; principal is returned at maturity
	InterestModeUpfront InterestMode = "UPFRONT"
	// InterestModeMaturity pays principal plus accrued interest at maturity
	InterestModeMaturity InterestMode = "MATURITY"
)

// PoolEvent is a decoded on-chain pool event, normalized across contracts.
// Amounts are raw on-chain integers; scaling by the pool's asset decimals
// happens in the mutation handlers.
type PoolEvent struct {
	Type            EventType
	ChainID         uint64
	ContractAddress string
	TxHash          string
	BlockNumber     uint64
	LogIndex        uint
	Timestamp       time.Time

	// User is the depositor / position owner address, when the event carries one
	User string
	// Amount is assets for deposits/withdrawals, principal for position
	// creation, payout for redemptions and early exits
	Amount *big.Int
	// Shares is the share quantity for open pool events
	Shares *big.Int
	// Fee is the allocation fee or early-exit penalty
	Fee *big.Int
	// UpfrontInterest is the interest paid at creation for UPFRONT positions
	UpfrontInterest *big.Int

	PositionID    uint64
	NewPositionID uint64
	LockEndTime   uint64
	Enabled       bool
}

// PoolKind distinguishes open share-based pools from locked term pools
type PoolKind string

const (
	PoolKindOpen   PoolKind = "open"
	PoolKindLocked PoolKind = "locked"
)

// Tier describes the locked pool tier active at position creation time.
// The position-created event alone does not carry this; it requires a read call.
type Tier struct {
	APYBps       uint64
	DurationDays uint64
	InterestMode InterestMode
}

// ScaleAmount converts a raw on-chain integer amount into a decimal using the
// pool's recorded asset decimals. Never hardcode the exponent.
func ScaleAmount(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}
