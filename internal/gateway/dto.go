package gateway

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/stackfi/pool-indexer/internal/store/schema"
)

// PoolDTO is the API representation of a pool
type PoolDTO struct {
	ID              int64      `json:"id"`
	ChainID         uint64     `json:"chain_id"`
	ContractAddress string     `json:"contract_address,omitempty"`
	Kind            string     `json:"kind"`
	Status          string     `json:"status"`
	Name            string     `json:"name"`
	AssetAddress    string     `json:"asset_address"`
	AssetDecimals   int32      `json:"asset_decimals"`
	ActivatedAt     *time.Time `json:"activated_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// PoolStatsDTO is the API representation of a pool's aggregates
type PoolStatsDTO struct {
	PoolID          int64           `json:"pool_id"`
	TVL             decimal.Decimal `json:"tvl"`
	TotalShares     decimal.Decimal `json:"total_shares"`
	TotalDeposited  decimal.Decimal `json:"total_deposited"`
	TotalWithdrawn  decimal.Decimal `json:"total_withdrawn"`
	UniqueInvestors int64           `json:"unique_investors"`
	NAV             decimal.Decimal `json:"nav"`
	LastSyncedBlock uint64          `json:"last_synced_block"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// PositionDTO is the API representation of an open pool position
type PositionDTO struct {
	PoolID         int64           `json:"pool_id"`
	UserAddress    string          `json:"user_address"`
	Shares         decimal.Decimal `json:"shares"`
	TotalDeposited decimal.Decimal `json:"total_deposited"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// TransactionDTO is the API representation of an indexed transaction
type TransactionDTO struct {
	ID          int64           `json:"id"`
	TxHash      string          `json:"tx_hash"`
	ChainID     uint64          `json:"chain_id"`
	PoolID      int64           `json:"pool_id"`
	EventType   string          `json:"event_type"`
	UserAddress string          `json:"user_address"`
	Amount      decimal.Decimal `json:"amount"`
	Shares      decimal.Decimal `json:"shares"`
	Fee         decimal.Decimal `json:"fee"`
	BlockNumber uint64          `json:"block_number"`
	Source      string          `json:"source"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// LockedPositionDTO is the API representation of a locked term position
type LockedPositionDTO struct {
	ID              int64            `json:"id"`
	PoolID          int64            `json:"pool_id"`
	OnchainID       uint64           `json:"onchain_id"`
	UserAddress     string           `json:"user_address"`
	Principal       decimal.Decimal  `json:"principal"`
	Invested        decimal.Decimal  `json:"invested"`
	UpfrontInterest decimal.Decimal  `json:"upfront_interest"`
	ExpectedPayout  decimal.Decimal  `json:"expected_payout"`
	APYBps          uint64           `json:"apy_bps"`
	DurationDays    uint64           `json:"duration_days"`
	InterestMode    string           `json:"interest_mode"`
	LockEndTime     time.Time        `json:"lock_end_time"`
	State           string           `json:"state"`
	AutoRollover    bool             `json:"auto_rollover"`
	RolledIntoID    *int64           `json:"rolled_into_id,omitempty"`
	RolledFromID    *int64           `json:"rolled_from_id,omitempty"`
	Payout          *decimal.Decimal `json:"payout,omitempty"`
	PenaltyFee      decimal.Decimal  `json:"penalty_fee"`
	CreatedAt       time.Time        `json:"created_at"`
}

// FailedEventDTO is the API representation of a parked queue message
type FailedEventDTO struct {
	ID         int64     `json:"id"`
	Subject    string    `json:"subject"`
	Payload    string    `json:"payload"`
	Reason     string    `json:"reason"`
	Deliveries int       `json:"deliveries"`
	CreatedAt  time.Time `json:"created_at"`
}

func toPoolDTO(pool *schema.Pool) *PoolDTO {
	return &PoolDTO{
		ID:              pool.ID,
		ChainID:         pool.ChainID,
		ContractAddress: pool.ContractAddress,
		Kind:            string(pool.Kind),
		Status:          string(pool.Status),
		Name:            pool.Name,
		AssetAddress:    pool.AssetAddress,
		AssetDecimals:   pool.AssetDecimals,
		ActivatedAt:     pool.ActivatedAt,
		CreatedAt:       pool.CreatedAt,
	}
}

func toPoolStatsDTO(stats *schema.PoolStats) *PoolStatsDTO {
	return &PoolStatsDTO{
		PoolID:          stats.PoolID,
		TVL:             stats.TVL,
		TotalShares:     stats.TotalShares,
		TotalDeposited:  stats.TotalDeposited,
		TotalWithdrawn:  stats.TotalWithdrawn,
		UniqueInvestors: stats.UniqueInvestors,
		NAV:             stats.NAV,
		LastSyncedBlock: stats.LastSyncedBlock,
		UpdatedAt:       stats.UpdatedAt,
	}
}

func toPositionDTO(position *schema.Position) *PositionDTO {
	return &PositionDTO{
		PoolID:         position.PoolID,
		UserAddress:    position.UserAddress,
		Shares:         position.Shares,
		TotalDeposited: position.TotalDeposited,
		TotalWithdrawn: position.TotalWithdrawn,
		UpdatedAt:      position.UpdatedAt,
	}
}

func toTransactionDTO(txn *schema.Transaction) *TransactionDTO {
	return &TransactionDTO{
		ID:          txn.ID,
		TxHash:      txn.TxHash,
		ChainID:     txn.ChainID,
		PoolID:      txn.PoolID,
		EventType:   string(txn.EventType),
		UserAddress: txn.UserAddress,
		Amount:      txn.Amount,
		Shares:      txn.Shares,
		Fee:         txn.Fee,
		BlockNumber: txn.BlockNumber,
		Source:      string(txn.Source),
		OccurredAt:  txn.OccurredAt,
	}
}

func toLockedPositionDTO(position *schema.LockedPosition) *LockedPositionDTO {
	return &LockedPositionDTO{
		ID:              position.ID,
		PoolID:          position.PoolID,
		OnchainID:       position.OnchainID,
		UserAddress:     position.UserAddress,
		Principal:       position.Principal,
		Invested:        position.Invested,
		UpfrontInterest: position.UpfrontInterest,
		ExpectedPayout:  position.ExpectedPayout,
		APYBps:          position.APYBps,
		DurationDays:    position.DurationDays,
		InterestMode:    string(position.InterestMode),
		LockEndTime:     position.LockEndTime,
		State:           string(position.State),
		AutoRollover:    position.AutoRollover,
		RolledIntoID:    position.RolledIntoID,
		RolledFromID:    position.RolledFromID,
		Payout:          position.Payout,
		PenaltyFee:      position.PenaltyFee,
		CreatedAt:       position.CreatedAt,
	}
}

func toFailedEventDTO(event *schema.FailedEvent) *FailedEventDTO {
	return &FailedEventDTO{
		ID:         event.ID,
		Subject:    event.Subject,
		Payload:    string(event.Payload),
		Reason:     event.Reason,
		Deliveries: event.Deliveries,
		CreatedAt:  event.CreatedAt,
	}
}
