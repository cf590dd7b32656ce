package chain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/stackfi/pool-indexer/internal/domain"
)

// Event signatures for the pool contracts.
var (
	// Deposited(address indexed user, uint256 amount, uint256 shares)
	depositedEventSignature = crypto.Keccak256Hash([]byte("Deposited(address,uint256,uint256)"))

	// Withdrawn(address indexed user, uint256 amount, uint256 shares)
	withdrawnEventSignature = crypto.Keccak256Hash([]byte("Withdrawn(address,uint256,uint256)"))

	// FundsAllocated(address indexed recipient, uint256 amount, uint256 fee)
	fundsAllocatedEventSignature = crypto.Keccak256Hash([]byte("FundsAllocated(address,uint256,uint256)"))

	// PositionCreated(address indexed user, uint256 indexed positionId, uint256 principal, uint256 upfrontInterest, uint256 lockEndTime)
	positionCreatedEventSignature = crypto.Keccak256Hash([]byte("PositionCreated(address,uint256,uint256,uint256,uint256)"))

	// PositionRedeemed(address indexed user, uint256 indexed positionId, uint256 payout)
	positionRedeemedEventSignature = crypto.Keccak256Hash([]byte("PositionRedeemed(address,uint256,uint256)"))

	// EarlyExited(address indexed user, uint256 indexed positionId, uint256 payout, uint256 penalty)
	earlyExitedEventSignature = crypto.Keccak256Hash([]byte("EarlyExited(address,uint256,uint256,uint256)"))

	// RolledOver(address indexed user, uint256 indexed oldPositionId, uint256 indexed newPositionId, uint256 principal)
	rolledOverEventSignature = crypto.Keccak256Hash([]byte("RolledOver(address,uint256,uint256,uint256)"))

	// AutoRolloverSet(address indexed user, uint256 indexed positionId, bool enabled)
	autoRolloverSetEventSignature = crypto.Keccak256Hash([]byte("AutoRolloverSet(address,uint256,bool)"))

	// UpfrontInterestPaid(address indexed user, uint256 indexed positionId, uint256 amount)
	upfrontInterestPaidEventSignature = crypto.Keccak256Hash([]byte("UpfrontInterestPaid(address,uint256,uint256)"))
)

// PoolEventTopics returns the topic0 filter covering every pool contract event
// the watchers track.
func PoolEventTopics() []common.Hash {
	return []common.Hash{
		depositedEventSignature,
		withdrawnEventSignature,
		fundsAllocatedEventSignature,
		positionCreatedEventSignature,
		positionRedeemedEventSignature,
		earlyExitedEventSignature,
		rolledOverEventSignature,
		autoRolloverSetEventSignature,
		upfrontInterestPaidEventSignature,
	}
}

// OpenPoolTopics returns the topic0 filter for open pool events only.
func OpenPoolTopics() []common.Hash {
	return []common.Hash{
		depositedEventSignature,
		withdrawnEventSignature,
		fundsAllocatedEventSignature,
	}
}

// LockedPoolTopics returns the topic0 filter for locked pool events only.
func LockedPoolTopics() []common.Hash {
	return []common.Hash{
		positionCreatedEventSignature,
		positionRedeemedEventSignature,
		earlyExitedEventSignature,
		rolledOverEventSignature,
		autoRolloverSetEventSignature,
		upfrontInterestPaidEventSignature,
	}
}

// word slices the i-th 32-byte word out of event data.
func word(data []byte, i int) []byte {
	return data[i*32 : (i+1)*32]
}

// DecodePoolLog decodes a raw log from an open or locked pool contract into a
// normalized pool event. The block timestamp must be supplied by the caller;
// decoding never does RPC round trips.
func DecodePoolLog(chainID uint64, vLog types.Log, blockTime time.Time) (*domain.PoolEvent, error) {
	if len(vLog.Topics) == 0 {
		return nil, fmt.Errorf("%w: log has no topics", domain.ErrUnknownEventSignature)
	}

	event := &domain.PoolEvent{
		ChainID:         chainID,
		ContractAddress: vLog.Address.Hex(),
		TxHash:          vLog.TxHash.Hex(),
		BlockNumber:     vLog.BlockNumber,
		LogIndex:        vLog.Index,
		Timestamp:       blockTime,
	}

	switch vLog.Topics[0] {
	case depositedEventSignature:
		// Deposited(address indexed user, uint256 amount, uint256 shares)
		if len(vLog.Topics) != 2 || len(vLog.Data) < 64 {
			return nil, fmt.Errorf("invalid Deposited event: %d topics, %d data bytes", len(vLog.Topics), len(vLog.Data))
		}
		event.Type = domain.EventTypeDeposit
		event.User = common.BytesToAddress(vLog.Topics[1].Bytes()).Hex()
		event.Amount = new(big.Int).SetBytes(word(vLog.Data, 0))
		event.Shares = new(big.Int).SetBytes(word(vLog.Data, 1))

	case withdrawnEventSignature:
		// Withdrawn(address indexed user, uint256 amount, uint256 shares)
		if len(vLog.Topics) != 2 || len(vLog.Data) < 64 {
			return nil, fmt.Errorf("invalid Withdrawn event: %d topics, %d data bytes", len(vLog.Topics), len(vLog.Data))
		}
		event.Type = domain.EventTypeWithdrawal
		event.User = common.BytesToAddress(vLog.Topics[1].Bytes()).Hex()
		event.Amount = new(big.Int).SetBytes(word(vLog.Data, 0))
		event.Shares = new(big.Int).SetBytes(word(vLog.Data, 1))

	case fundsAllocatedEventSignature:
		// FundsAllocated(address indexed recipient, uint256 amount, uint256 fee)
		if len(vLog.Topics) != 2 || len(vLog.Data) < 64 {
			return nil, fmt.Errorf("invalid FundsAllocated event: %d topics, %d data bytes", len(vLog.Topics), len(vLog.Data))
		}
		event.Type = domain.EventTypeFundsAllocated
		event.User = common.BytesToAddress(vLog.Topics[1].Bytes()).Hex()
		event.Amount = new(big.Int).SetBytes(word(vLog.Data, 0))
		event.Fee = new(big.Int).SetBytes(word(vLog.Data, 1))

	case positionCreatedEventSignature:
		// PositionCreated(address indexed user, uint256 indexed positionId,
		//                 uint256 principal, uint256 upfrontInterest, uint256 lockEndTime)
		if len(vLog.Topics) != 3 || len(vLog.Data) < 96 {
			return nil, fmt.Errorf("invalid PositionCreated event: %d topics, %d data bytes", len(vLog.Topics), len(vLog.Data))
		}
		event.Type = domain.EventTypePositionCreated
		event.User = common.BytesToAddress(vLog.Topics[1].Bytes()).Hex()
		event.PositionID = new(big.Int).SetBytes(vLog.Topics[2].Bytes()).Uint64()
		event.Amount = new(big.Int).SetBytes(word(vLog.Data, 0))
		event.UpfrontInterest = new(big.Int).SetBytes(word(vLog.Data, 1))
		event.LockEndTime = new(big.Int).SetBytes(word(vLog.Data, 2)).Uint64()

	case positionRedeemedEventSignature:
		// PositionRedeemed(address indexed user, uint256 indexed positionId, uint256 payout)
		if len(vLog.Topics) != 3 || len(vLog.Data) < 32 {
			return nil, fmt.Errorf("invalid PositionRedeemed event: %d topics, %d data bytes", len(vLog.Topics), len(vLog.Data))
		}
		event.Type = domain.EventTypePositionRedeemed
		event.User = common.BytesToAddress(vLog.Topics[1].Bytes()).Hex()
		event.PositionID = new(big.Int).SetBytes(vLog.Topics[2].Bytes()).Uint64()
		event.Amount = new(big.Int).SetBytes(word(vLog.Data, 0))

	case earlyExitedEventSignature:
		// EarlyExited(address indexed user, uint256 indexed positionId, uint256 payout, uint256 penalty)
		if len(vLog.Topics) != 3 || len(vLog.Data) < 64 {
			return nil, fmt.Errorf("invalid EarlyExited event: %d topics, %d data bytes", len(vLog.Topics), len(vLog.Data))
		}
		event.Type = domain.EventTypeEarlyExit
		event.User = common.BytesToAddress(vLog.Topics[1].Bytes()).Hex()
		event.PositionID = new(big.Int).SetBytes(vLog.Topics[2].Bytes()).Uint64()
		event.Amount = new(big.Int).SetBytes(word(vLog.Data, 0))
		event.Fee = new(big.Int).SetBytes(word(vLog.Data, 1))

	case rolledOverEventSignature:
		// RolledOver(address indexed user, uint256 indexed oldPositionId,
		//            uint256 indexed newPositionId, uint256 principal)
		if len(vLog.Topics) != 4 || len(vLog.Data) < 32 {
			return nil, fmt.Errorf("invalid RolledOver event: %d topics, %d data bytes", len(vLog.Topics), len(vLog.Data))
		}
		event.Type = domain.EventTypeRollover
		event.User = common.BytesToAddress(vLog.Topics[1].Bytes()).Hex()
		event.PositionID = new(big.Int).SetBytes(vLog.Topics[2].Bytes()).Uint64()
		event.NewPositionID = new(big.Int).SetBytes(vLog.Topics[3].Bytes()).Uint64()
		event.Amount = new(big.Int).SetBytes(word(vLog.Data, 0))

	case autoRolloverSetEventSignature:
		// AutoRolloverSet(address indexed user, uint256 indexed positionId, bool enabled)
		if len(vLog.Topics) != 3 || len(vLog.Data) < 32 {
			return nil, fmt.Errorf("invalid AutoRolloverSet event: %d topics, %d data bytes", len(vLog.Topics), len(vLog.Data))
		}
		event.Type = domain.EventTypeAutoRolloverSet
		event.User = common.BytesToAddress(vLog.Topics[1].Bytes()).Hex()
		event.PositionID = new(big.Int).SetBytes(vLog.Topics[2].Bytes()).Uint64()
		event.Enabled = new(big.Int).SetBytes(word(vLog.Data, 0)).Sign() != 0

	case upfrontInterestPaidEventSignature:
		// UpfrontInterestPaid(address indexed user, uint256 indexed positionId, uint256 amount)
		if len(vLog.Topics) != 3 || len(vLog.Data) < 32 {
			return nil, fmt.Errorf("invalid UpfrontInterestPaid event: %d topics, %d data bytes", len(vLog.Topics), len(vLog.Data))
		}
		event.Type = domain.EventTypeUpfrontInterestPaid
		event.User = common.BytesToAddress(vLog.Topics[1].Bytes()).Hex()
		event.PositionID = new(big.Int).SetBytes(vLog.Topics[2].Bytes()).Uint64()
		event.Amount = new(big.Int).SetBytes(word(vLog.Data, 0))

	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownEventSignature, vLog.Topics[0].Hex())
	}

	return event, nil
}
