package chain

import (
	"context"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/stackfi/pool-indexer/internal/logger"
)

// ApprovalChecker verifies that an address has granted the pool a sufficient
// ERC20 allowance before its deposit is processed.
//
//go:generate mockgen -source=approval.go -destination=../mocks/approval_checker.go -package=mocks -mock_names=ApprovalChecker=MockApprovalChecker
type ApprovalChecker interface {
	// HasApproval reports whether owner granted spender an allowance of at
	// least amount on the token. The token is the asset the pool denominates
	// in, so each check reads the allowance that deposit actually spends.
	HasApproval(ctx context.Context, token, owner, spender string, amount *big.Int) (bool, error)
}

type approvalChecker struct {
	client  ChainClient
	timeout time.Duration

	// failOpen controls what happens when the chain read itself fails or
	// times out: development environments let the event through, production
	// refuses it so it lands in the retry path
	failOpen bool
}

// NewApprovalChecker creates an ERC20 allowance checker.
func NewApprovalChecker(client ChainClient, timeout time.Duration, failOpen bool) ApprovalChecker {
	return &approvalChecker{
		client:   client,
		timeout:  timeout,
		failOpen: failOpen,
	}
}

func (c *approvalChecker) HasApproval(ctx context.Context, token, owner, spender string, amount *big.Int) (bool, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	allowance, err := c.client.Allowance(timeoutCtx, token, owner, spender)
	if err != nil {
		if c.failOpen {
			logger.WarnCtx(ctx, "allowance check failed, allowing in development mode",
				zap.String("owner", owner),
				zap.String("spender", spender),
				zap.Error(err))
			return true, nil
		}
		return false, err
	}

	return allowance.Cmp(amount) >= 0, nil
}
