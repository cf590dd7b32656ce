package chain_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackfi/pool-indexer/internal/chain"
	"github.com/stackfi/pool-indexer/internal/domain"
)

// uint256Word encodes a value as a 32-byte ABI word
func uint256Word(v int64) []byte {
	return common.LeftPadBytes(big.NewInt(v).Bytes(), 32)
}

func addressTopic(addr string) common.Hash {
	return common.BytesToHash(common.HexToAddress(addr).Bytes())
}

func TestDecodePoolLog(t *testing.T) {
	blockTime := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	user := "0x1111111111111111111111111111111111111111"
	pool := common.HexToAddress("0x2222222222222222222222222222222222222222")

	t.Run("decodes a Deposited event", func(t *testing.T) {
		vLog := types.Log{
			Address: pool,
			Topics: []common.Hash{
				crypto.Keccak256Hash([]byte("Deposited(address,uint256,uint256)")),
				addressTopic(user),
			},
			Data:        append(uint256Word(1000000000), uint256Word(950000000)...),
			BlockNumber: 123456,
			TxHash:      common.HexToHash("0xabc"),
			Index:       7,
		}

		event, err := chain.DecodePoolLog(8453, vLog, blockTime)
		require.NoError(t, err)

		assert.Equal(t, domain.EventTypeDeposit, event.Type)
		assert.Equal(t, uint64(8453), event.ChainID)
		assert.Equal(t, pool.Hex(), event.ContractAddress)
		assert.Equal(t, common.HexToAddress(user).Hex(), event.User)
		assert.Equal(t, "1000000000", event.Amount.String())
		assert.Equal(t, "950000000", event.Shares.String())
		assert.Equal(t, uint64(123456), event.BlockNumber)
		assert.Equal(t, uint(7), event.LogIndex)
		assert.Equal(t, blockTime, event.Timestamp)
	})

	t.Run("decodes a PositionCreated event", func(t *testing.T) {
		lockEnd := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC).Unix()
		data := uint256Word(5000000000)
		data = append(data, uint256Word(50000000)...)
		data = append(data, uint256Word(lockEnd)...)

		vLog := types.Log{
			Address: pool,
			Topics: []common.Hash{
				crypto.Keccak256Hash([]byte("PositionCreated(address,uint256,uint256,uint256,uint256)")),
				addressTopic(user),
				common.BigToHash(big.NewInt(42)),
			},
			Data:        data,
			BlockNumber: 123460,
		}

		event, err := chain.DecodePoolLog(8453, vLog, blockTime)
		require.NoError(t, err)

		assert.Equal(t, domain.EventTypePositionCreated, event.Type)
		assert.Equal(t, uint64(42), event.PositionID)
		assert.Equal(t, "5000000000", event.Amount.String())
		assert.Equal(t, "50000000", event.UpfrontInterest.String())
		assert.Equal(t, uint64(lockEnd), event.LockEndTime) //nolint:gosec,G115
	})

	t.Run("decodes a RolledOver event with both position ids", func(t *testing.T) {
		vLog := types.Log{
			Address: pool,
			Topics: []common.Hash{
				crypto.Keccak256Hash([]byte("RolledOver(address,uint256,uint256,uint256)")),
				addressTopic(user),
				common.BigToHash(big.NewInt(42)),
				common.BigToHash(big.NewInt(43)),
			},
			Data: uint256Word(5000000000),
		}

		event, err := chain.DecodePoolLog(8453, vLog, blockTime)
		require.NoError(t, err)

		assert.Equal(t, domain.EventTypeRollover, event.Type)
		assert.Equal(t, uint64(42), event.PositionID)
		assert.Equal(t, uint64(43), event.NewPositionID)
		assert.Equal(t, "5000000000", event.Amount.String())
	})

	t.Run("decodes an AutoRolloverSet flag", func(t *testing.T) {
		vLog := types.Log{
			Address: pool,
			Topics: []common.Hash{
				crypto.Keccak256Hash([]byte("AutoRolloverSet(address,uint256,bool)")),
				addressTopic(user),
				common.BigToHash(big.NewInt(42)),
			},
			Data: uint256Word(1),
		}

		event, err := chain.DecodePoolLog(8453, vLog, blockTime)
		require.NoError(t, err)

		assert.Equal(t, domain.EventTypeAutoRolloverSet, event.Type)
		assert.True(t, event.Enabled)
	})

	t.Run("rejects an unknown topic", func(t *testing.T) {
		vLog := types.Log{
			Address: pool,
			Topics: []common.Hash{
				crypto.Keccak256Hash([]byte("SomethingElse(address)")),
				addressTopic(user),
			},
		}

		_, err := chain.DecodePoolLog(8453, vLog, blockTime)
		assert.ErrorIs(t, err, domain.ErrUnknownEventSignature)
	})

	t.Run("rejects a log with no topics", func(t *testing.T) {
		_, err := chain.DecodePoolLog(8453, types.Log{Address: pool}, blockTime)
		assert.ErrorIs(t, err, domain.ErrUnknownEventSignature)
	})

	t.Run("rejects truncated event data", func(t *testing.T) {
		vLog := types.Log{
			Address: pool,
			Topics: []common.Hash{
				crypto.Keccak256Hash([]byte("Deposited(address,uint256,uint256)")),
				addressTopic(user),
			},
			Data: uint256Word(1000000000), // one word, needs two
		}

		_, err := chain.DecodePoolLog(8453, vLog, blockTime)
		assert.ErrorContains(t, err, "invalid Deposited event")
	})
}
