package webhook

// Event names accepted on the webhook surface. They mirror the on-chain
// event vocabulary plus the off-chain pool announcement.
const (
	EventNameDeposit             = "deposit"
	EventNameWithdrawal          = "withdrawal"
	EventNameFundsAllocated      = "funds_allocated"
	EventNamePositionCreated     = "position_created"
	EventNamePositionRedeemed    = "position_redeemed"
	EventNameEarlyExit           = "early_exit"
	EventNameRollover            = "rollover"
	EventNameAutoRolloverSet     = "auto_rollover_set"
	EventNameUpfrontInterestPaid = "upfront_interest_paid"
	EventNamePoolAnnounced       = "pool_announced"
)

// Priority is the processing lane an inbound event is routed to
type Priority string

const (
	// PriorityImmediate routes events whose handlers can run as soon as the
	// message is consumed
	PriorityImmediate Priority = "immediate"
	// PriorityDelayed routes events that wait for on-chain settlement before
	// their handlers run
	PriorityDelayed Priority = "delayed"
)

// EventData carries the event payload. It mirrors the decoded on-chain event
// shape with raw integer amounts as decimal strings, so both ingestion paths
// converge on the same mutation handlers.
type EventData struct {
	ChainID         uint64 `json:"chain_id"`
	ContractAddress string `json:"contract_address"`
	TxHash          string `json:"tx_hash"`
	BlockNumber     uint64 `json:"block_number"`
	LogIndex        uint   `json:"log_index"`
	Timestamp       int64  `json:"timestamp"`

	UserAddress     string `json:"user_address"`
	Amount          string `json:"amount"`
	Shares          string `json:"shares"`
	Fee             string `json:"fee"`
	UpfrontInterest string `json:"upfront_interest"`

	PositionID    uint64 `json:"position_id"`
	NewPositionID uint64 `json:"new_position_id"`
	LockEndTime   uint64 `json:"lock_end_time"`
	Enabled       bool   `json:"enabled"`

	// Pool announcement fields, used by pool_announced only
	PoolKind      string `json:"pool_kind"`
	PoolName      string `json:"pool_name"`
	AssetAddress  string `json:"asset_address"`
	AssetDecimals int32  `json:"asset_decimals"`
}

// EventEnvelope is the single-event webhook body
type EventEnvelope struct {
	Event string    `json:"event" binding:"required"`
	Data  EventData `json:"data" binding:"required"`
}

// BatchEnvelope is the batch webhook body
type BatchEnvelope struct {
	Events []EventEnvelope `json:"events" binding:"required"`
}

// QueueMessage is the envelope published to the event stream
type QueueMessage struct {
	// JobID is a ulid assigned at enqueue time; it doubles as the broker-side
	// deduplication key
	JobID      string    `json:"job_id"`
	Priority   Priority  `json:"priority"`
	ReceivedAt int64     `json:"received_at"`
	Event      string    `json:"event"`
	Data       EventData `json:"data"`
}
