package chain

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/stackfi/pool-indexer/internal/domain"
)

// LogFetcher fetches contract logs over a bounded block range.
//
//go:generate mockgen -source=fetcher.go -destination=../mocks/log_fetcher.go -package=mocks -mock_names=LogFetcher=MockLogFetcher
type LogFetcher interface {
	// FetchLogs returns logs for the given contracts and topic0 set in
	// [fromBlock, toBlock], ordered by block number then log index.
	// Ranges wider than the configured maximum are rejected, never split.
	FetchLogs(ctx context.Context, addresses []string, topics []common.Hash, fromBlock, toBlock uint64) ([]types.Log, error)
}

type logFetcher struct {
	client        ChainClient
	maxBlockRange uint64
}

// NewLogFetcher creates a bounded log fetcher. A fetch spanning more than
// maxBlockRange blocks fails with ErrRangeTooWide; callers clamp their cursor
// instead of relying on silent pagination.
func NewLogFetcher(client ChainClient, maxBlockRange uint64) LogFetcher {
	return &logFetcher{client: client, maxBlockRange: maxBlockRange}
}

func (f *logFetcher) FetchLogs(ctx context.Context, addresses []string, topics []common.Hash, fromBlock, toBlock uint64) ([]types.Log, error) {
	if toBlock < fromBlock {
		return nil, fmt.Errorf("invalid block range: %d-%d", fromBlock, toBlock)
	}
	if toBlock-fromBlock+1 > f.maxBlockRange {
		return nil, fmt.Errorf("%w: %d-%d spans %d blocks, max %d",
			domain.ErrRangeTooWide, fromBlock, toBlock, toBlock-fromBlock+1, f.maxBlockRange)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	addrs := make([]common.Address, 0, len(addresses))
	for _, a := range addresses {
		addrs = append(addrs, common.HexToAddress(a))
	}

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: addrs,
	}
	if len(topics) > 0 {
		query.Topics = [][]common.Hash{topics}
	}

	logs, err := f.client.FilterLogs(timeoutCtx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs for range %d-%d: %w", fromBlock, toBlock, err)
	}

	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	return logs, nil
}
