package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackfi/pool-indexer/internal/domain"
	"github.com/stackfi/pool-indexer/internal/webhook"
)

func TestToPoolEvent(t *testing.T) {
	t.Run("maps a deposit payload onto the decoded event shape", func(t *testing.T) {
		msg := webhook.QueueMessage{
			Priority:   webhook.PriorityImmediate,
			ReceivedAt: 1756600000,
			Event:      webhook.EventNameDeposit,
			Data: webhook.EventData{
				ChainID:         8453,
				ContractAddress: "0x2222222222222222222222222222222222222222",
				TxHash:          "0xabc",
				BlockNumber:     123456,
				LogIndex:        7,
				Timestamp:       1756590000,
				UserAddress:     "0x1111111111111111111111111111111111111111",
				Amount:          "1000000000",
				Shares:          "950000000",
			},
		}

		event, err := toPoolEvent(msg)
		require.NoError(t, err)

		assert.Equal(t, domain.EventTypeDeposit, event.Type)
		assert.Equal(t, uint64(8453), event.ChainID)
		assert.Equal(t, "0x2222222222222222222222222222222222222222", event.ContractAddress)
		assert.Equal(t, "0xabc", event.TxHash)
		assert.Equal(t, uint64(123456), event.BlockNumber)
		assert.Equal(t, uint(7), event.LogIndex)
		assert.Equal(t, time.Unix(1756590000, 0), event.Timestamp)
		assert.Equal(t, "1000000000", event.Amount.String())
		assert.Equal(t, "950000000", event.Shares.String())
	})

	t.Run("maps rollover position ids", func(t *testing.T) {
		msg := webhook.QueueMessage{
			Event: webhook.EventNameRollover,
			Data: webhook.EventData{
				TxHash:        "0xdef",
				Amount:        "5000000000",
				PositionID:    42,
				NewPositionID: 43,
				LockEndTime:   1764000000,
			},
		}

		event, err := toPoolEvent(msg)
		require.NoError(t, err)

		assert.Equal(t, domain.EventTypeRollover, event.Type)
		assert.Equal(t, uint64(42), event.PositionID)
		assert.Equal(t, uint64(43), event.NewPositionID)
		assert.Equal(t, uint64(1764000000), event.LockEndTime)
	})

	t.Run("empty amount fields become zero", func(t *testing.T) {
		msg := webhook.QueueMessage{
			Event: webhook.EventNameAutoRolloverSet,
			Data: webhook.EventData{
				TxHash:     "0xabc",
				PositionID: 42,
				Enabled:    true,
			},
		}

		event, err := toPoolEvent(msg)
		require.NoError(t, err)

		assert.True(t, event.Enabled)
		assert.Zero(t, event.Amount.Sign())
		assert.Zero(t, event.Shares.Sign())
		assert.Zero(t, event.Fee.Sign())
		assert.Zero(t, event.UpfrontInterest.Sign())
	})

	t.Run("rejects an unknown event name", func(t *testing.T) {
		msg := webhook.QueueMessage{
			Event: "tier_upgraded",
			Data:  webhook.EventData{TxHash: "0xabc"},
		}

		_, err := toPoolEvent(msg)
		assert.ErrorContains(t, err, "no event type")
	})

	t.Run("rejects a missing tx hash", func(t *testing.T) {
		msg := webhook.QueueMessage{
			Event: webhook.EventNameDeposit,
			Data:  webhook.EventData{Amount: "100"},
		}

		_, err := toPoolEvent(msg)
		assert.ErrorContains(t, err, "missing tx hash")
	})

	t.Run("rejects a non-integer amount", func(t *testing.T) {
		msg := webhook.QueueMessage{
			Event: webhook.EventNameDeposit,
			Data: webhook.EventData{
				TxHash: "0xabc",
				Amount: "1.5e9",
			},
		}

		_, err := toPoolEvent(msg)
		assert.ErrorContains(t, err, "bad amount")
	})
}
