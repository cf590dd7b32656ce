package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/stackfi/pool-indexer/internal/adapter"
	"github.com/stackfi/pool-indexer/internal/domain"
)

// ChainClient wraps the read-side contract surface the watchers depend on.
//
//go:generate mockgen -source=client.go -destination=../mocks/chain_client.go -package=mocks -mock_names=ChainClient=MockChainClient
type ChainClient interface {
	// FilterLogs retrieves logs matching the filter query
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)

	// HeaderByNumber returns a header by number (nil for latest)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)

	// NAV reads the pool's net asset value per share
	NAV(ctx context.Context, poolAddress string) (*big.Int, error)

	// TotalRaised reads the open pool's cumulative raised assets
	TotalRaised(ctx context.Context, poolAddress string) (*big.Int, error)

	// TotalPrincipal reads the locked pool's outstanding principal
	TotalPrincipal(ctx context.Context, poolAddress string) (*big.Int, error)

	// CurrentTier reads the locked pool's active tier terms
	CurrentTier(ctx context.Context, poolAddress string) (*domain.Tier, error)

	// PoolCount reads the factory's registered pool count
	PoolCount(ctx context.Context, factoryAddress string) (uint64, error)

	// PoolAt reads the factory's pool address at the given index
	PoolAt(ctx context.Context, factoryAddress string, index uint64) (string, error)

	// PoolAsset reads the ERC20 asset a pool denominates in
	PoolAsset(ctx context.Context, poolAddress string) (string, error)

	// AssetDecimals reads an ERC20 token's decimals
	AssetDecimals(ctx context.Context, tokenAddress string) (int32, error)

	// Allowance reads the ERC20 allowance granted by owner to spender
	Allowance(ctx context.Context, tokenAddress, owner, spender string) (*big.Int, error)

	// Close closes the connection
	Close()
}

type chainClient struct {
	chainID uint64
	client  adapter.EthClient
}

// NewClient creates a chain client bound to a single EVM chain.
func NewClient(chainID uint64, client adapter.EthClient) ChainClient {
	return &chainClient{chainID: chainID, client: client}
}

func (c *chainClient) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return c.client.FilterLogs(ctx, query)
}

func (c *chainClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return c.client.HeaderByNumber(ctx, number)
}

// NAV reads the pool's net asset value per share
func (c *chainClient) NAV(ctx context.Context, poolAddress string) (*big.Int, error) {
	return c.callUint256(ctx, poolAddress, "nav",
		`[{"constant":true,"inputs":[],"name":"nav","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`)
}

// TotalRaised reads the open pool's cumulative raised assets
func (c *chainClient) TotalRaised(ctx context.Context, poolAddress string) (*big.Int, error) {
	return c.callUint256(ctx, poolAddress, "totalRaised",
		`[{"constant":true,"inputs":[],"name":"totalRaised","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`)
}

// TotalPrincipal reads the locked pool's outstanding principal
func (c *chainClient) TotalPrincipal(ctx context.Context, poolAddress string) (*big.Int, error) {
	return c.callUint256(ctx, poolAddress, "totalPrincipal",
		`[{"constant":true,"inputs":[],"name":"totalPrincipal","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`)
}

// CurrentTier reads the locked pool's active tier terms
func (c *chainClient) CurrentTier(ctx context.Context, poolAddress string) (*domain.Tier, error) {
	// currentTier() returns (uint256 apyBps, uint256 durationDays, uint8 mode)
	tierABI, err := abi.JSON(strings.NewReader(`[{"constant":true,"inputs":[],"name":"currentTier","outputs":[{"name":"apyBps","type":"uint256"},{"name":"durationDays","type":"uint256"},{"name":"mode","type":"uint8"}],"stateMutability":"view","type":"function"}]`))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := tierABI.Pack("currentTier")
	if err != nil {
		return nil, fmt.Errorf("failed to pack data: %w", err)
	}

	contractAddr := common.HexToAddress(poolAddress)
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &contractAddr,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call contract: %w", err)
	}

	values, err := tierABI.Unpack("currentTier", result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}
	if len(values) != 3 {
		return nil, fmt.Errorf("unexpected currentTier result arity: %d", len(values))
	}

	apyBps, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected apyBps type %T", values[0])
	}
	durationDays, ok := values[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected durationDays type %T", values[1])
	}
	mode, ok := values[2].(uint8)
	if !ok {
		return nil, fmt.Errorf("unexpected mode type %T", values[2])
	}

	interestMode := domain.InterestModeUpfront
	if mode != 0 {
		interestMode = domain.InterestModeMaturity
	}

	return &domain.Tier{
		APYBps:       apyBps.Uint64(),
		DurationDays: durationDays.Uint64(),
		InterestMode: interestMode,
	}, nil
}

// PoolCount reads the factory's registered pool count
func (c *chainClient) PoolCount(ctx context.Context, factoryAddress string) (uint64, error) {
	count, err := c.callUint256(ctx, factoryAddress, "poolCount",
		`[{"constant":true,"inputs":[],"name":"poolCount","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`)
	if err != nil {
		return 0, err
	}
	return count.Uint64(), nil
}

// PoolAt reads the factory's pool address at the given index
func (c *chainClient) PoolAt(ctx context.Context, factoryAddress string, index uint64) (string, error) {
	poolsABI, err := abi.JSON(strings.NewReader(`[{"constant":true,"inputs":[{"name":"index","type":"uint256"}],"name":"pools","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}]`))
	if err != nil {
		return "", fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := poolsABI.Pack("pools", new(big.Int).SetUint64(index))
	if err != nil {
		return "", fmt.Errorf("failed to pack data: %w", err)
	}

	contractAddr := common.HexToAddress(factoryAddress)
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &contractAddr,
		Data: data,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to call contract: %w", err)
	}

	var addr common.Address
	if err := poolsABI.UnpackIntoInterface(&addr, "pools", result); err != nil {
		return "", fmt.Errorf("failed to unpack result: %w", err)
	}

	return addr.Hex(), nil
}

// PoolAsset reads the ERC20 asset a pool denominates in
func (c *chainClient) PoolAsset(ctx context.Context, poolAddress string) (string, error) {
	assetABI, err := abi.JSON(strings.NewReader(`[{"constant":true,"inputs":[],"name":"asset","outputs":[{"name":"","type":"address"}],"stateMutability":"view","type":"function"}]`))
	if err != nil {
		return "", fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := assetABI.Pack("asset")
	if err != nil {
		return "", fmt.Errorf("failed to pack data: %w", err)
	}

	contractAddr := common.HexToAddress(poolAddress)
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &contractAddr,
		Data: data,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to call contract: %w", err)
	}

	var addr common.Address
	if err := assetABI.UnpackIntoInterface(&addr, "asset", result); err != nil {
		return "", fmt.Errorf("failed to unpack result: %w", err)
	}

	return addr.Hex(), nil
}

// AssetDecimals reads an ERC20 token's decimals
func (c *chainClient) AssetDecimals(ctx context.Context, tokenAddress string) (int32, error) {
	decimalsABI, err := abi.JSON(strings.NewReader(`[{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}]`))
	if err != nil {
		return 0, fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := decimalsABI.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("failed to pack data: %w", err)
	}

	contractAddr := common.HexToAddress(tokenAddress)
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &contractAddr,
		Data: data,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to call contract: %w", err)
	}

	var decimals uint8
	if err := decimalsABI.UnpackIntoInterface(&decimals, "decimals", result); err != nil {
		return 0, fmt.Errorf("failed to unpack result: %w", err)
	}

	return int32(decimals), nil
}

// Allowance reads the ERC20 allowance granted by owner to spender
func (c *chainClient) Allowance(ctx context.Context, tokenAddress, owner, spender string) (*big.Int, error) {
	allowanceABI, err := abi.JSON(strings.NewReader(`[{"constant":true,"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"}]`))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := allowanceABI.Pack("allowance", common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, fmt.Errorf("failed to pack data: %w", err)
	}

	contractAddr := common.HexToAddress(tokenAddress)
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &contractAddr,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call contract: %w", err)
	}

	var allowance *big.Int
	if err := allowanceABI.UnpackIntoInterface(&allowance, "allowance", result); err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}

	return allowance, nil
}

func (c *chainClient) Close() {
	c.client.Close()
}

// callUint256 performs a no-argument view call returning a single uint256.
func (c *chainClient) callUint256(ctx context.Context, contractAddress, method, abiJSON string) (*big.Int, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("failed to pack data: %w", err)
	}

	contractAddr := common.HexToAddress(contractAddress)
	result, err := c.client.CallContract(ctx, ethereum.CallMsg{
		To:   &contractAddr,
		Data: data,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call contract: %w", err)
	}

	var value *big.Int
	if err := parsed.UnpackIntoInterface(&value, method, result); err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}

	return value, nil
}
