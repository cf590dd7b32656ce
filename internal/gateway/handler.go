package gateway

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/stackfi/pool-indexer/internal/adapter"
	"github.com/stackfi/pool-indexer/internal/domain"
	"github.com/stackfi/pool-indexer/internal/logger"
	"github.com/stackfi/pool-indexer/internal/queue"
	"github.com/stackfi/pool-indexer/internal/store"
	"github.com/stackfi/pool-indexer/internal/webhook"
)

// SignatureHeader carries the HMAC signature over the raw request body
const SignatureHeader = "X-Pool-Signature"

// maxBodySize caps webhook request bodies; batches beyond this are rejected
const maxBodySize = 1 << 20

// Handler defines the interface for gateway HTTP handlers
//
//go:generate mockgen -source=handler.go -destination=../mocks/gateway_handler.go -package=mocks -mock_names=Handler=MockGatewayHandler
type Handler interface {
	// ReceiveEvent accepts a single signed webhook event
	// POST /webhooks/pool/event
	ReceiveEvent(c *gin.Context)

	// ReceiveBatch accepts a batch of signed webhook events
	// POST /webhooks/pool/batch
	ReceiveBatch(c *gin.Context)

	// GetPool retrieves a pool with its aggregates
	// GET /api/v1/pools/:id
	GetPool(c *gin.Context)

	// ListPools lists active pools on a chain
	// GET /api/v1/pools?chain_id=<id>&kind=<open|locked>
	ListPools(c *gin.Context)

	// GetPosition retrieves a holder's open pool position
	// GET /api/v1/pools/:id/positions/:address
	GetPosition(c *gin.Context)

	// ListTransactions lists indexed transactions
	// GET /api/v1/transactions?pool_id=<id>&user=<address>&event_type=<type>&limit=<n>&offset=<n>
	ListTransactions(c *gin.Context)

	// ListLockedPositions lists a user's locked positions
	// GET /api/v1/locked-positions?user=<address>
	ListLockedPositions(c *gin.Context)

	// ListFailedEvents lists parked queue messages
	// GET /api/v1/failed-events?limit=<n>
	ListFailedEvents(c *gin.Context)

	// HealthCheck returns the health status of the gateway
	// GET /health
	HealthCheck(c *gin.Context)
}

// handler implements the Handler interface
type handler struct {
	secret    string
	store     store.Store
	publisher queue.Publisher
	json      adapter.JSON
	clock     adapter.Clock
}

// NewHandler creates a new gateway handler
func NewHandler(secret string, st store.Store, publisher queue.Publisher, jsonAdapter adapter.JSON, clock adapter.Clock) Handler {
	return &handler{
		secret:    secret,
		store:     st,
		publisher: publisher,
		json:      jsonAdapter,
		clock:     clock,
	}
}

// readSignedBody reads the raw body and verifies its signature. Verification
// runs over the exact wire bytes, before any JSON parsing.
func (h *handler) readSignedBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodySize))
	if err != nil {
		respondBadRequest(c, "Failed to read request body")
		return nil, false
	}

	if err := webhook.VerifySignature(h.secret, body, c.GetHeader(SignatureHeader)); err != nil {
		logger.Warn("webhook signature rejected",
			zap.String("client_ip", c.ClientIP()),
			zap.Error(err))
		respondUnauthorized(c, "Invalid signature")
		return nil, false
	}

	return body, true
}

// ReceiveEvent accepts a single signed webhook event
func (h *handler) ReceiveEvent(c *gin.Context) {
	body, ok := h.readSignedBody(c)
	if !ok {
		return
	}

	var envelope webhook.EventEnvelope
	if err := h.json.Unmarshal(body, &envelope); err != nil {
		respondValidationError(c, "Malformed event envelope")
		return
	}
	if envelope.Event == "" {
		respondValidationError(c, "Event name is required")
		return
	}

	if err := h.enqueue(c, envelope); err != nil {
		respondInternalError(c, err, "Failed to enqueue event")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "event accepted",
	})
}

// ReceiveBatch accepts a batch of signed webhook events. Events are enqueued
// independently; a failing event does not block the rest of the batch.
func (h *handler) ReceiveBatch(c *gin.Context) {
	body, ok := h.readSignedBody(c)
	if !ok {
		return
	}

	var batch webhook.BatchEnvelope
	if err := h.json.Unmarshal(body, &batch); err != nil {
		respondValidationError(c, "Malformed batch envelope")
		return
	}
	if len(batch.Events) == 0 {
		respondValidationError(c, "Batch contains no events")
		return
	}

	processed := 0
	failed := 0
	for _, envelope := range batch.Events {
		if envelope.Event == "" {
			failed++
			continue
		}
		if err := h.enqueue(c, envelope); err != nil {
			logger.ErrorCtx(c.Request.Context(), err,
				zap.String("event", envelope.Event),
				zap.String("tx_hash", envelope.Data.TxHash))
			failed++
			continue
		}
		processed++
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   failed == 0,
		"processed": processed,
		"failed":    failed,
	})
}

// enqueue classifies an event into its priority lane and publishes it
func (h *handler) enqueue(c *gin.Context, envelope webhook.EventEnvelope) error {
	msg := webhook.QueueMessage{
		JobID:      ulid.Make().String(),
		Priority:   webhook.Classify(envelope.Event),
		ReceivedAt: h.clock.Now().Unix(),
		Event:      envelope.Event,
		Data:       envelope.Data,
	}

	return h.publisher.Publish(c.Request.Context(), msg)
}

// GetPool retrieves a pool with its aggregates
func (h *handler) GetPool(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondBadRequest(c, "Invalid pool id")
		return
	}

	pool, err := h.store.GetPoolByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrPoolNotFound) {
			respondNotFound(c, "Pool not found")
			return
		}
		respondInternalError(c, err, "Failed to get pool")
		return
	}

	response := gin.H{"pool": toPoolDTO(pool)}

	stats, err := h.store.GetPoolStats(c.Request.Context(), pool.ID)
	if err == nil {
		response["stats"] = toPoolStatsDTO(stats)
	}

	c.JSON(http.StatusOK, response)
}

// ListPools lists active pools on a chain
func (h *handler) ListPools(c *gin.Context) {
	chainID, err := strconv.ParseUint(c.DefaultQuery("chain_id", "0"), 10, 64)
	if err != nil {
		respondBadRequest(c, "Invalid chain_id")
		return
	}

	kind := domain.PoolKind(c.Query("kind"))
	if kind != "" && kind != domain.PoolKindOpen && kind != domain.PoolKindLocked {
		respondValidationError(c, "kind must be open or locked")
		return
	}

	pools, err := h.store.ListActivePools(c.Request.Context(), chainID, kind)
	if err != nil {
		respondInternalError(c, err, "Failed to list pools")
		return
	}

	dtos := make([]*PoolDTO, 0, len(pools))
	for i := range pools {
		dtos = append(dtos, toPoolDTO(&pools[i]))
	}

	c.JSON(http.StatusOK, gin.H{"pools": dtos})
}

// GetPosition retrieves a holder's open pool position
func (h *handler) GetPosition(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		respondBadRequest(c, "Invalid pool id")
		return
	}

	address := c.Param("address")
	if address == "" {
		respondBadRequest(c, "Address is required")
		return
	}

	position, err := h.store.GetPosition(c.Request.Context(), id, address)
	if err != nil {
		if errors.Is(err, domain.ErrPositionNotFound) {
			respondNotFound(c, "Position not found")
			return
		}
		respondInternalError(c, err, "Failed to get position")
		return
	}

	c.JSON(http.StatusOK, toPositionDTO(position))
}

// ListTransactions lists indexed transactions
func (h *handler) ListTransactions(c *gin.Context) {
	filter := store.TransactionFilter{
		UserAddress: c.Query("user"),
		EventType:   domain.EventType(c.Query("event_type")),
	}

	if raw := c.Query("pool_id"); raw != "" {
		poolID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondBadRequest(c, "Invalid pool_id")
			return
		}
		filter.PoolID = poolID
	}

	var err error
	if filter.Limit, err = parseBoundedInt(c.DefaultQuery("limit", "50"), 1, 200); err != nil {
		respondValidationError(c, "limit must be between 1 and 200")
		return
	}
	if filter.Offset, err = parseBoundedInt(c.DefaultQuery("offset", "0"), 0, 1<<30); err != nil {
		respondValidationError(c, "offset must be non-negative")
		return
	}

	transactions, err := h.store.ListTransactions(c.Request.Context(), filter)
	if err != nil {
		respondInternalError(c, err, "Failed to list transactions")
		return
	}

	dtos := make([]*TransactionDTO, 0, len(transactions))
	for i := range transactions {
		dtos = append(dtos, toTransactionDTO(&transactions[i]))
	}

	c.JSON(http.StatusOK, gin.H{"transactions": dtos})
}

// ListLockedPositions lists a user's locked positions
func (h *handler) ListLockedPositions(c *gin.Context) {
	user := c.Query("user")
	if user == "" {
		respondBadRequest(c, "user query parameter is required")
		return
	}

	positions, err := h.store.ListLockedPositionsByUser(c.Request.Context(), user)
	if err != nil {
		respondInternalError(c, err, "Failed to list locked positions")
		return
	}

	dtos := make([]*LockedPositionDTO, 0, len(positions))
	for i := range positions {
		dtos = append(dtos, toLockedPositionDTO(&positions[i]))
	}

	c.JSON(http.StatusOK, gin.H{"positions": dtos})
}

// ListFailedEvents lists parked queue messages
func (h *handler) ListFailedEvents(c *gin.Context) {
	limit, err := parseBoundedInt(c.DefaultQuery("limit", "50"), 1, 200)
	if err != nil {
		respondValidationError(c, "limit must be between 1 and 200")
		return
	}

	events, err := h.store.ListFailedEvents(c.Request.Context(), limit)
	if err != nil {
		respondInternalError(c, err, "Failed to list failed events")
		return
	}

	dtos := make([]*FailedEventDTO, 0, len(events))
	for i := range events {
		dtos = append(dtos, toFailedEventDTO(&events[i]))
	}

	c.JSON(http.StatusOK, gin.H{"events": dtos})
}

// HealthCheck returns the health status of the gateway
func (h *handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// parseBoundedInt parses an integer query value within [minValue, maxValue]
func parseBoundedInt(raw string, minValue, maxValue int) (int, error) {
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if value < minValue || value > maxValue {
		return 0, strconv.ErrRange
	}
	return value, nil
}
