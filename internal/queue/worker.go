package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/stackfi/pool-indexer/internal/adapter"
	"github.com/stackfi/pool-indexer/internal/domain"
	"github.com/stackfi/pool-indexer/internal/ingest"
	"github.com/stackfi/pool-indexer/internal/logger"
	"github.com/stackfi/pool-indexer/internal/store"
	"github.com/stackfi/pool-indexer/internal/store/schema"
	"github.com/stackfi/pool-indexer/internal/webhook"
)

// WorkerConfig holds the configuration for the queue worker
type WorkerConfig struct {
	URL            string
	StreamName     string
	ConnectionName string
	MaxReconnects  int
	ReconnectWait  time.Duration
	AckWait        time.Duration

	ImmediateConsumer string
	DelayedConsumer   string
	MaxDeliver        int
	SettleDelay       time.Duration
	PoolSize          int
}

// Retry spacing per lane. Immediate messages retry fast; delayed messages
// already waited out the settle window so they back off slower.
var (
	immediateBackOff = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	delayedBackOff   = []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}
)

// Worker consumes both priority lanes and drives the shared mutation handlers
//
//go:generate mockgen -source=worker.go -destination=../mocks/worker.go -package=mocks -mock_names=Worker=MockWorker
type Worker interface {
	// Run consumes until the context is canceled
	Run(ctx context.Context) error
	// Close closes the underlying connection
	Close()
}

type worker struct {
	nc      adapter.NatsConn
	js      adapter.JetStream
	json    adapter.JSON
	store   store.Store
	handler *ingest.Handler
	clock   adapter.Clock
	pool    pond.Pool
	config  WorkerConfig
}

// NewWorker connects to the stream and prepares both lane consumers
func NewWorker(
	cfg WorkerConfig,
	natsJS adapter.NatsJetStream,
	jsonAdapter adapter.JSON,
	st store.Store,
	handler *ingest.Handler,
	clock adapter.Clock,
) (Worker, error) {
	nc, js, err := connect(cfg.URL, cfg.ConnectionName, cfg.MaxReconnects, cfg.ReconnectWait, natsJS)
	if err != nil {
		return nil, err
	}

	return &worker{
		nc:      nc,
		js:      js,
		json:    jsonAdapter,
		store:   st,
		handler: handler,
		clock:   clock,
		config:  cfg,
	}, nil
}

// Run consumes until the context is canceled
func (w *worker) Run(ctx context.Context) error {
	logger.Info("starting queue worker",
		zap.String("stream", w.config.StreamName),
		zap.Int("pool_size", w.config.PoolSize))

	w.pool = pond.NewPool(w.config.PoolSize, pond.WithQueueSize(w.config.PoolSize*4), pond.WithContext(ctx))

	immediate, err := w.js.CreateOrUpdateConsumer(ctx, w.config.StreamName, jetstream.ConsumerConfig{
		Durable:       w.config.ImmediateConsumer,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       w.config.AckWait,
		MaxDeliver:    w.config.MaxDeliver,
		BackOff:       immediateBackOff,
		FilterSubject: webhook.PriorityImmediate.Subject(),
	})
	if err != nil {
		return fmt.Errorf("failed to create immediate consumer: %w", err)
	}

	delayed, err := w.js.CreateOrUpdateConsumer(ctx, w.config.StreamName, jetstream.ConsumerConfig{
		Durable:       w.config.DelayedConsumer,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       w.config.AckWait,
		MaxDeliver:    w.config.MaxDeliver,
		BackOff:       delayedBackOff,
		FilterSubject: webhook.PriorityDelayed.Subject(),
	})
	if err != nil {
		return fmt.Errorf("failed to create delayed consumer: %w", err)
	}

	immediateCtx, err := immediate.Consume(func(msg adapter.Message) {
		w.pool.Submit(func() { w.handleMessage(ctx, msg, false) })
	})
	if err != nil {
		return fmt.Errorf("failed to consume immediate lane: %w", err)
	}
	defer immediateCtx.Stop()

	delayedCtx, err := delayed.Consume(func(msg adapter.Message) {
		w.pool.Submit(func() { w.handleMessage(ctx, msg, true) })
	})
	if err != nil {
		return fmt.Errorf("failed to consume delayed lane: %w", err)
	}
	defer delayedCtx.Stop()

	<-ctx.Done()
	logger.Info("shutting down queue worker")
	w.pool.StopAndWait()
	return ctx.Err()
}

// handleMessage processes one dequeued message end to end
func (w *worker) handleMessage(ctx context.Context, msg adapter.Message, delayed bool) {
	metadata, err := msg.Metadata()
	if err != nil {
		logger.Error(err, zap.String("message", "failed to read message metadata"))
		_ = msg.Nak()
		return
	}

	var payload webhook.QueueMessage
	if err := w.json.Unmarshal(msg.Data(), &payload); err != nil {
		logger.Error(err, zap.String("message", "failed to unmarshal queue message"))
		w.park(ctx, msg, metadata, fmt.Sprintf("unparseable payload: %v", err))
		return
	}

	// The delayed lane waits out a settle window before first processing so
	// on-chain state stops moving under the handler and the polling path
	// gets a chance to land first
	if delayed {
		if age := w.clock.Since(time.Unix(payload.ReceivedAt, 0)); age < w.config.SettleDelay {
			if err := msg.NakWithDelay(w.config.SettleDelay - age); err != nil {
				logger.Error(err, zap.String("message", "failed to delay message"))
			}
			return
		}
	}

	if err := w.dispatch(ctx, payload); err != nil {
		logger.ErrorCtx(ctx, err,
			zap.String("event", payload.Event),
			zap.String("tx_hash", payload.Data.TxHash),
			zap.Uint64("delivery", metadata.NumDelivered))

		// Exhausted messages are parked for inspection, never dropped
		if metadata.NumDelivered >= uint64(w.config.MaxDeliver) { //nolint:gosec,G115 // MaxDeliver is a small positive config value
			w.park(ctx, msg, metadata, err.Error())
			return
		}

		if err := msg.Nak(); err != nil {
			logger.Error(err, zap.String("message", "failed to NAK message"))
		}
		return
	}

	if err := msg.Ack(); err != nil {
		logger.Error(err, zap.String("message", "failed to ACK message"))
	}
}

// dispatch routes one payload to the shared mutation handlers
func (w *worker) dispatch(ctx context.Context, payload webhook.QueueMessage) error {
	if payload.Event == webhook.EventNamePoolAnnounced {
		return w.handler.HandlePoolAnnounced(ctx, store.CreatePendingPoolInput{
			ChainID:       payload.Data.ChainID,
			Kind:          poolKindFromString(payload.Data.PoolKind),
			Name:          payload.Data.PoolName,
			AssetAddress:  payload.Data.AssetAddress,
			AssetDecimals: payload.Data.AssetDecimals,
		})
	}

	event, err := toPoolEvent(payload)
	if err != nil {
		// Unknown names reach here via the delayed lane's graceful intake;
		// there is nothing to retry
		return fmt.Errorf("undispatchable event: %w", err)
	}

	return w.handler.Handle(ctx, event, schema.SourceWebhook)
}

// park acknowledges a message terminally and records it for inspection
func (w *worker) park(ctx context.Context, msg adapter.Message, metadata *jetstream.MsgMetadata, reason string) {
	deliveries := 0
	if metadata != nil {
		deliveries = int(metadata.NumDelivered) //nolint:gosec,G115 // delivery counts are small
	}

	if err := w.store.RecordFailedEvent(ctx, &schema.FailedEvent{
		Subject:    msg.Subject(),
		Payload:    msg.Data(),
		Reason:     reason,
		Deliveries: deliveries,
	}); err != nil {
		logger.Error(err, zap.String("message", "failed to park message"))
		// Keep the message alive rather than lose it entirely
		_ = msg.Nak()
		return
	}

	if err := msg.Term(); err != nil {
		logger.Error(err, zap.String("message", "failed to terminate message"))
	}
}

// Close closes the underlying connection
func (w *worker) Close() {
	if w.nc != nil {
		w.nc.Close()
	}
}

func poolKindFromString(s string) domain.PoolKind {
	if s == string(domain.PoolKindLocked) {
		return domain.PoolKindLocked
	}
	return domain.PoolKindOpen
}
