package webhook_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stackfi/pool-indexer/internal/webhook"
)

func TestClassify(t *testing.T) {
	t.Run("routes balance mutating events to the immediate lane", func(t *testing.T) {
		immediate := []string{
			webhook.EventNameDeposit,
			webhook.EventNameWithdrawal,
			webhook.EventNameFundsAllocated,
			webhook.EventNamePositionCreated,
			webhook.EventNamePositionRedeemed,
			webhook.EventNameEarlyExit,
			webhook.EventNamePoolAnnounced,
		}

		for _, name := range immediate {
			assert.Equal(t, webhook.PriorityImmediate, webhook.Classify(name), name)
		}
	})

	t.Run("routes settlement sensitive events to the delayed lane", func(t *testing.T) {
		delayed := []string{
			webhook.EventNameRollover,
			webhook.EventNameAutoRolloverSet,
			webhook.EventNameUpfrontInterestPaid,
		}

		for _, name := range delayed {
			assert.Equal(t, webhook.PriorityDelayed, webhook.Classify(name), name)
		}
	})

	t.Run("routes unknown event names to the delayed lane", func(t *testing.T) {
		assert.Equal(t, webhook.PriorityDelayed, webhook.Classify("tier_upgraded"))
		assert.Equal(t, webhook.PriorityDelayed, webhook.Classify(""))
	})
}

func TestPrioritySubject(t *testing.T) {
	assert.Equal(t, "pool.events.immediate", webhook.PriorityImmediate.Subject())
	assert.Equal(t, "pool.events.delayed", webhook.PriorityDelayed.Subject())
}
