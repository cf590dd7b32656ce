package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/stackfi/pool-indexer/internal/chain"
	"github.com/stackfi/pool-indexer/internal/domain"
	"github.com/stackfi/pool-indexer/internal/logger"
	"github.com/stackfi/pool-indexer/internal/store"
	"github.com/stackfi/pool-indexer/internal/store/schema"
)

// Handler converts decoded pool events into store writes. It is the single
// point of truth shared by the polling watchers and the queue workers: both
// paths must produce identical store effects for the same event.
//
// Idempotency rests on the transactions table's unique tx_hash constraint,
// not on check-then-create. When the insert is rejected as a duplicate the
// handler stops before any aggregate mutation. The insert and every write
// that depends on it share one store transaction, so a mid-handler failure
// rolls the gate back and the redelivery replays the whole mutation instead
// of hitting a half-applied duplicate. Chain reads stay outside the
// transaction so a slow RPC never holds row locks.
type Handler struct {
	store    store.Store
	chain    chain.ChainClient
	approval chain.ApprovalChecker
}

// NewHandler creates the shared mutation handler. The approval checker is
// optional; when set, webhook-sourced deposits are corroborated against the
// depositor's on-chain allowance before they mutate state.
func NewHandler(st store.Store, chainClient chain.ChainClient, approval chain.ApprovalChecker) *Handler {
	return &Handler{
		store:    st,
		chain:    chainClient,
		approval: approval,
	}
}

// Handle dispatches a decoded event to its mutation handler
func (h *Handler) Handle(ctx context.Context, event *domain.PoolEvent, source schema.TransactionSource) error {
	pool, err := h.store.GetPoolByAddress(ctx, event.ChainID, event.ContractAddress)
	if err != nil {
		return fmt.Errorf("pool lookup for %s: %w", event.ContractAddress, err)
	}

	switch event.Type {
	case domain.EventTypeDeposit:
		return h.handleDeposit(ctx, pool, event, source)
	case domain.EventTypeWithdrawal:
		return h.handleWithdrawal(ctx, pool, event, source)
	case domain.EventTypeFundsAllocated:
		return h.handleFundsAllocated(ctx, pool, event)
	case domain.EventTypePositionCreated:
		return h.handlePositionCreated(ctx, pool, event, source)
	case domain.EventTypePositionRedeemed:
		return h.handlePositionRedeemed(ctx, pool, event, source)
	case domain.EventTypeEarlyExit:
		return h.handleEarlyExit(ctx, pool, event, source)
	case domain.EventTypeRollover:
		return h.handleRollover(ctx, pool, event, source)
	case domain.EventTypeAutoRolloverSet:
		return h.handleAutoRolloverSet(ctx, pool, event, source)
	case domain.EventTypeUpfrontInterestPaid:
		return h.handleUpfrontInterestPaid(ctx, pool, event, source)
	default:
		return fmt.Errorf("no handler for event type %q", event.Type)
	}
}

// HandlePoolAnnounced records a pool announced off-chain before deployment.
// The pool creation watcher later matches it to its deployed contract.
func (h *Handler) HandlePoolAnnounced(ctx context.Context, input store.CreatePendingPoolInput) error {
	pool, err := h.store.CreatePendingPool(ctx, input)
	if err != nil {
		return err
	}

	logger.InfoCtx(ctx, "pool announced",
		zap.Int64("pool_id", pool.ID),
		zap.String("kind", string(pool.Kind)),
		zap.String("asset", pool.AssetAddress))
	return nil
}

func (h *Handler) handleDeposit(ctx context.Context, pool *schema.Pool, event *domain.PoolEvent, source schema.TransactionSource) error {
	// Webhook deliveries are unauthenticated claims about chain state; cheap
	// corroboration before they mutate balances
	if source == schema.SourceWebhook && h.approval != nil {
		ok, err := h.approval.HasApproval(ctx, pool.AssetAddress, event.User, pool.ContractAddress, event.Amount)
		if err != nil {
			return fmt.Errorf("approval check for %s: %w", event.User, err)
		}
		if !ok {
			return fmt.Errorf("deposit by %s not corroborated by allowance", event.User)
		}
	}

	amount := domain.ScaleAmount(event.Amount, pool.AssetDecimals)
	shares := domain.ScaleAmount(event.Shares, pool.AssetDecimals)

	return h.store.WithinTransaction(ctx, func(tx store.Store) error {
		inserted, err := tx.RecordTransaction(ctx, &schema.Transaction{
			TxHash:      event.TxHash,
			ChainID:     event.ChainID,
			PoolID:      pool.ID,
			EventType:   event.Type,
			UserAddress: event.User,
			Amount:      amount,
			Shares:      shares,
			BlockNumber: event.BlockNumber,
			LogIndex:    event.LogIndex,
			Source:      source,
			OccurredAt:  event.Timestamp,
		})
		if err != nil {
			return err
		}
		if !inserted {
			// The other ingestion path got here first
			logger.DebugCtx(ctx, "duplicate deposit skipped", zap.String("tx_hash", event.TxHash))
			return nil
		}

		newHolder, err := tx.ApplyPositionDelta(ctx, store.PositionDeltaInput{
			PoolID:         pool.ID,
			UserAddress:    event.User,
			SharesDelta:    shares,
			DepositedDelta: amount,
		})
		if err != nil {
			return err
		}

		var investorsDelta int64
		if newHolder {
			investorsDelta = 1
		}

		return tx.BumpPoolStats(ctx, store.StatsDeltaInput{
			PoolID:         pool.ID,
			TVLDelta:       amount,
			SharesDelta:    shares,
			DepositedDelta: amount,
			InvestorsDelta: investorsDelta,
		})
	})
}

func (h *Handler) handleWithdrawal(ctx context.Context, pool *schema.Pool, event *domain.PoolEvent, source schema.TransactionSource) error {
	amount := domain.ScaleAmount(event.Amount, pool.AssetDecimals)
	shares := domain.ScaleAmount(event.Shares, pool.AssetDecimals)

	return h.store.WithinTransaction(ctx, func(tx store.Store) error {
		inserted, err := tx.RecordTransaction(ctx, &schema.Transaction{
			TxHash:      event.TxHash,
			ChainID:     event.ChainID,
			PoolID:      pool.ID,
			EventType:   event.Type,
			UserAddress: event.User,
			Amount:      amount,
			Shares:      shares,
			BlockNumber: event.BlockNumber,
			LogIndex:    event.LogIndex,
			Source:      source,
			OccurredAt:  event.Timestamp,
		})
		if err != nil {
			return err
		}
		if !inserted {
			logger.DebugCtx(ctx, "duplicate withdrawal skipped", zap.String("tx_hash", event.TxHash))
			return nil
		}

		if _, err := tx.ApplyPositionDelta(ctx, store.PositionDeltaInput{
			PoolID:         pool.ID,
			UserAddress:    event.User,
			SharesDelta:    shares.Neg(),
			WithdrawnDelta: amount,
		}); err != nil {
			return err
		}

		return tx.BumpPoolStats(ctx, store.StatsDeltaInput{
			PoolID:         pool.ID,
			TVLDelta:       amount.Neg(),
			SharesDelta:    shares.Neg(),
			WithdrawnDelta: amount,
		})
	})
}

// handleFundsAllocated records a fee audit entry only. Escrow allocations
// move already-counted funds, so aggregates stay untouched.
func (h *Handler) handleFundsAllocated(ctx context.Context, pool *schema.Pool, event *domain.PoolEvent) error {
	inserted, err := h.store.RecordFeeAllocation(ctx, &schema.FeeAllocationLog{
		PoolID:      pool.ID,
		Recipient:   event.User,
		Amount:      domain.ScaleAmount(event.Amount, pool.AssetDecimals),
		Fee:         domain.ScaleAmount(event.Fee, pool.AssetDecimals),
		TxHash:      event.TxHash,
		BlockNumber: event.BlockNumber,
		OccurredAt:  event.Timestamp,
	})
	if err != nil {
		return err
	}
	if !inserted {
		logger.DebugCtx(ctx, "duplicate fee allocation skipped", zap.String("tx_hash", event.TxHash))
	}

	return nil
}

func (h *Handler) handlePositionCreated(ctx context.Context, pool *schema.Pool, event *domain.PoolEvent, source schema.TransactionSource) error {
	// The event alone lacks tier metadata; one extra read call classifies
	// the deposit
	if h.chain == nil {
		return fmt.Errorf("chain client unavailable for tier read on %s", pool.ContractAddress)
	}
	tier, err := h.chain.CurrentTier(ctx, pool.ContractAddress)
	if err != nil {
		return fmt.Errorf("tier read for %s: %w", pool.ContractAddress, err)
	}

	principal := domain.ScaleAmount(event.Amount, pool.AssetDecimals)
	upfront := domain.ScaleAmount(event.UpfrontInterest, pool.AssetDecimals)
	invested, expectedPayout := positionEconomics(principal, upfront, tier)

	return h.store.WithinTransaction(ctx, func(tx store.Store) error {
		inserted, err := tx.RecordTransaction(ctx, &schema.Transaction{
			TxHash:      event.TxHash,
			ChainID:     event.ChainID,
			PoolID:      pool.ID,
			EventType:   event.Type,
			UserAddress: event.User,
			Amount:      principal,
			BlockNumber: event.BlockNumber,
			LogIndex:    event.LogIndex,
			Source:      source,
			OccurredAt:  event.Timestamp,
		})
		if err != nil {
			return err
		}
		if !inserted {
			logger.DebugCtx(ctx, "duplicate position creation skipped", zap.String("tx_hash", event.TxHash))
			return nil
		}

		created, err := tx.CreateLockedPosition(ctx, &schema.LockedPosition{
			PoolID:          pool.ID,
			OnchainID:       event.PositionID,
			UserAddress:     event.User,
			Principal:       principal,
			Invested:        invested,
			UpfrontInterest: upfront,
			ExpectedPayout:  expectedPayout,
			APYBps:          tier.APYBps,
			DurationDays:    tier.DurationDays,
			InterestMode:    tier.InterestMode,
			LockEndTime:     time.Unix(int64(event.LockEndTime), 0), //nolint:gosec,G115 // contract timestamps fit in int64
			State:           schema.LockedStateActive,
		})
		if err != nil {
			return err
		}
		if !created {
			// Row already exists, typically pre-created by a rollover handler
			return nil
		}

		return tx.BumpPoolStats(ctx, store.StatsDeltaInput{
			PoolID:         pool.ID,
			TVLDelta:       invested,
			DepositedDelta: principal,
		})
	})
}

func (h *Handler) handlePositionRedeemed(ctx context.Context, pool *schema.Pool, event *domain.PoolEvent, source schema.TransactionSource) error {
	payout := domain.ScaleAmount(event.Amount, pool.AssetDecimals)

	return h.store.WithinTransaction(ctx, func(tx store.Store) error {
		inserted, err := tx.RecordTransaction(ctx, &schema.Transaction{
			TxHash:      event.TxHash,
			ChainID:     event.ChainID,
			PoolID:      pool.ID,
			EventType:   event.Type,
			UserAddress: event.User,
			Amount:      payout,
			BlockNumber: event.BlockNumber,
			LogIndex:    event.LogIndex,
			Source:      source,
			OccurredAt:  event.Timestamp,
		})
		if err != nil {
			return err
		}
		if !inserted {
			logger.DebugCtx(ctx, "duplicate redemption skipped", zap.String("tx_hash", event.TxHash))
			return nil
		}

		position, err := tx.GetLockedPosition(ctx, pool.ID, event.PositionID)
		if err != nil {
			return err
		}

		if err := tx.CloseLockedPosition(ctx, pool.ID, event.PositionID,
			schema.LockedStateRedeemed, payout, decimal.Zero); err != nil {
			return err
		}

		return tx.BumpPoolStats(ctx, store.StatsDeltaInput{
			PoolID:         pool.ID,
			TVLDelta:       position.Invested.Neg(),
			WithdrawnDelta: payout,
		})
	})
}

func (h *Handler) handleEarlyExit(ctx context.Context, pool *schema.Pool, event *domain.PoolEvent, source schema.TransactionSource) error {
	payout := domain.ScaleAmount(event.Amount, pool.AssetDecimals)
	penalty := domain.ScaleAmount(event.Fee, pool.AssetDecimals)

	return h.store.WithinTransaction(ctx, func(tx store.Store) error {
		inserted, err := tx.RecordTransaction(ctx, &schema.Transaction{
			TxHash:      event.TxHash,
			ChainID:     event.ChainID,
			PoolID:      pool.ID,
			EventType:   event.Type,
			UserAddress: event.User,
			Amount:      payout,
			Fee:         penalty,
			BlockNumber: event.BlockNumber,
			LogIndex:    event.LogIndex,
			Source:      source,
			OccurredAt:  event.Timestamp,
		})
		if err != nil {
			return err
		}
		if !inserted {
			logger.DebugCtx(ctx, "duplicate early exit skipped", zap.String("tx_hash", event.TxHash))
			return nil
		}

		position, err := tx.GetLockedPosition(ctx, pool.ID, event.PositionID)
		if err != nil {
			return err
		}

		if err := tx.CloseLockedPosition(ctx, pool.ID, event.PositionID,
			schema.LockedStateEarlyExited, payout, penalty); err != nil {
			return err
		}

		return tx.BumpPoolStats(ctx, store.StatsDeltaInput{
			PoolID:         pool.ID,
			TVLDelta:       position.Invested.Neg(),
			WithdrawnDelta: payout,
		})
	})
}

// handleRollover moves a matured position's principal into a successor term.
// The successor row is created here when the PositionCreated event has not
// arrived yet; its later arrival no-ops on the unique (pool, onchain id).
func (h *Handler) handleRollover(ctx context.Context, pool *schema.Pool, event *domain.PoolEvent, source schema.TransactionSource) error {
	predecessor, err := h.store.GetLockedPosition(ctx, pool.ID, event.PositionID)
	if err != nil {
		return fmt.Errorf("rollover predecessor %d: %w", event.PositionID, err)
	}

	principal := domain.ScaleAmount(event.Amount, pool.AssetDecimals)

	// Read the tier before the idempotency gate; a failed read must leave no
	// transaction row behind or the retry would skip the successor creation
	if h.chain == nil {
		return fmt.Errorf("chain client unavailable for tier read on %s", pool.ContractAddress)
	}
	tier, err := h.chain.CurrentTier(ctx, pool.ContractAddress)
	if err != nil {
		return fmt.Errorf("tier read for %s: %w", pool.ContractAddress, err)
	}

	invested, expectedPayout := positionEconomics(principal, decimal.Zero, tier)
	lockEnd := event.Timestamp.Add(time.Duration(tier.DurationDays) * 24 * time.Hour) //nolint:gosec,G115 // tier durations are small

	return h.store.WithinTransaction(ctx, func(tx store.Store) error {
		inserted, err := tx.RecordTransaction(ctx, &schema.Transaction{
			TxHash:      event.TxHash,
			ChainID:     event.ChainID,
			PoolID:      pool.ID,
			EventType:   event.Type,
			UserAddress: event.User,
			Amount:      principal,
			BlockNumber: event.BlockNumber,
			LogIndex:    event.LogIndex,
			Source:      source,
			OccurredAt:  event.Timestamp,
		})
		if err != nil {
			return err
		}
		if !inserted {
			logger.DebugCtx(ctx, "duplicate rollover skipped", zap.String("tx_hash", event.TxHash))
			return nil
		}

		created, err := tx.CreateLockedPosition(ctx, &schema.LockedPosition{
			PoolID:         pool.ID,
			OnchainID:      event.NewPositionID,
			UserAddress:    event.User,
			Principal:      principal,
			Invested:       invested,
			ExpectedPayout: expectedPayout,
			APYBps:         tier.APYBps,
			DurationDays:   tier.DurationDays,
			InterestMode:   tier.InterestMode,
			LockEndTime:    lockEnd,
			State:          schema.LockedStateActive,
		})
		if err != nil {
			return err
		}

		successor, err := tx.GetLockedPosition(ctx, pool.ID, event.NewPositionID)
		if err != nil {
			return fmt.Errorf("rollover successor %d: %w", event.NewPositionID, err)
		}

		if err := tx.LinkRollover(ctx, predecessor.ID, successor.ID); err != nil {
			return err
		}

		// Principal stays in the pool; only the delta between the retiring
		// position's working amount and the successor's moves the aggregate
		statsDelta := store.StatsDeltaInput{
			PoolID:   pool.ID,
			TVLDelta: invested.Sub(predecessor.Invested),
		}
		if created {
			statsDelta.DepositedDelta = principal
		}

		return tx.BumpPoolStats(ctx, statsDelta)
	})
}

func (h *Handler) handleAutoRolloverSet(ctx context.Context, pool *schema.Pool, event *domain.PoolEvent, source schema.TransactionSource) error {
	return h.store.WithinTransaction(ctx, func(tx store.Store) error {
		inserted, err := tx.RecordTransaction(ctx, &schema.Transaction{
			TxHash:      event.TxHash,
			ChainID:     event.ChainID,
			PoolID:      pool.ID,
			EventType:   event.Type,
			UserAddress: event.User,
			BlockNumber: event.BlockNumber,
			LogIndex:    event.LogIndex,
			Source:      source,
			OccurredAt:  event.Timestamp,
		})
		if err != nil {
			return err
		}
		if !inserted {
			logger.DebugCtx(ctx, "duplicate auto-rollover toggle skipped", zap.String("tx_hash", event.TxHash))
			return nil
		}

		return tx.SetAutoRollover(ctx, pool.ID, event.PositionID, event.Enabled)
	})
}

// handleUpfrontInterestPaid records the interest actually paid at creation.
// It usually shares a transaction hash with the creation event, so the
// transaction row gets a synthetic suffix to keep the idempotency key unique
// per sub-event.
func (h *Handler) handleUpfrontInterestPaid(ctx context.Context, pool *schema.Pool, event *domain.PoolEvent, source schema.TransactionSource) error {
	interest := domain.ScaleAmount(event.Amount, pool.AssetDecimals)

	return h.store.WithinTransaction(ctx, func(tx store.Store) error {
		inserted, err := tx.RecordTransaction(ctx, &schema.Transaction{
			TxHash:      event.TxHash + "#upfront",
			ChainID:     event.ChainID,
			PoolID:      pool.ID,
			EventType:   event.Type,
			UserAddress: event.User,
			Amount:      interest,
			BlockNumber: event.BlockNumber,
			LogIndex:    event.LogIndex,
			Source:      source,
			OccurredAt:  event.Timestamp,
		})
		if err != nil {
			return err
		}
		if !inserted {
			logger.DebugCtx(ctx, "duplicate upfront interest skipped", zap.String("tx_hash", event.TxHash))
			return nil
		}

		return tx.RecordUpfrontInterest(ctx, pool.ID, event.PositionID, interest)
	})
}

// positionEconomics computes a locked position's working amount and expected
// maturity payout from its principal and tier terms.
//
// UPFRONT positions pay their interest at creation, so only the remainder
// works in the pool and maturity returns exactly the principal. MATURITY
// positions keep the full principal working and pay simple interest on top:
// principal * apy * days/365.
func positionEconomics(principal, upfrontInterest decimal.Decimal, tier *domain.Tier) (invested, expectedPayout decimal.Decimal) {
	if tier.InterestMode == domain.InterestModeUpfront {
		return principal.Sub(upfrontInterest), principal
	}

	rate := decimal.NewFromUint64(tier.APYBps).
		Div(decimal.NewFromInt(domain.BasisPointsDivisor)).
		Mul(decimal.NewFromUint64(tier.DurationDays)).
		Div(decimal.NewFromInt(domain.DaysPerYear))

	return principal, principal.Add(principal.Mul(rate))
}
