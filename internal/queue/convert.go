package queue

import (
	"fmt"
	"math/big"
	"time"

	"github.com/stackfi/pool-indexer/internal/domain"
	"github.com/stackfi/pool-indexer/internal/webhook"
)

// eventNameToType maps webhook event names onto the decoded event vocabulary
var eventNameToType = map[string]domain.EventType{
	webhook.EventNameDeposit:             domain.EventTypeDeposit,
	webhook.EventNameWithdrawal:          domain.EventTypeWithdrawal,
	webhook.EventNameFundsAllocated:      domain.EventTypeFundsAllocated,
	webhook.EventNamePositionCreated:     domain.EventTypePositionCreated,
	webhook.EventNamePositionRedeemed:    domain.EventTypePositionRedeemed,
	webhook.EventNameEarlyExit:           domain.EventTypeEarlyExit,
	webhook.EventNameRollover:            domain.EventTypeRollover,
	webhook.EventNameAutoRolloverSet:     domain.EventTypeAutoRolloverSet,
	webhook.EventNameUpfrontInterestPaid: domain.EventTypeUpfrontInterestPaid,
}

// toPoolEvent converts a dequeued webhook payload into the decoded event
// shape the mutation handlers consume. Amount fields arrive as raw integer
// decimal strings; scaling happens in the handlers.
func toPoolEvent(msg webhook.QueueMessage) (*domain.PoolEvent, error) {
	eventType, ok := eventNameToType[msg.Event]
	if !ok {
		return nil, fmt.Errorf("no event type for %q", msg.Event)
	}

	data := msg.Data
	if data.TxHash == "" {
		return nil, fmt.Errorf("event %q missing tx hash", msg.Event)
	}

	amount, err := parseRawAmount(data.Amount)
	if err != nil {
		return nil, fmt.Errorf("bad amount: %w", err)
	}
	shares, err := parseRawAmount(data.Shares)
	if err != nil {
		return nil, fmt.Errorf("bad shares: %w", err)
	}
	fee, err := parseRawAmount(data.Fee)
	if err != nil {
		return nil, fmt.Errorf("bad fee: %w", err)
	}
	upfront, err := parseRawAmount(data.UpfrontInterest)
	if err != nil {
		return nil, fmt.Errorf("bad upfront interest: %w", err)
	}

	return &domain.PoolEvent{
		Type:            eventType,
		ChainID:         data.ChainID,
		ContractAddress: data.ContractAddress,
		TxHash:          data.TxHash,
		BlockNumber:     data.BlockNumber,
		LogIndex:        data.LogIndex,
		Timestamp:       time.Unix(data.Timestamp, 0),
		User:            data.UserAddress,
		Amount:          amount,
		Shares:          shares,
		Fee:             fee,
		UpfrontInterest: upfront,
		PositionID:      data.PositionID,
		NewPositionID:   data.NewPositionID,
		LockEndTime:     data.LockEndTime,
		Enabled:         data.Enabled,
	}, nil
}

// parseRawAmount parses a raw integer decimal string, treating empty as zero
func parseRawAmount(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}

	value, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not a base-10 integer: %q", s)
	}

	return value, nil
}
