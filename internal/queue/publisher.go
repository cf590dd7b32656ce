package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/stackfi/pool-indexer/internal/adapter"
	"github.com/stackfi/pool-indexer/internal/logger"
	"github.com/stackfi/pool-indexer/internal/webhook"
)

// PublisherConfig holds the configuration for the event publisher
type PublisherConfig struct {
	URL            string
	StreamName     string
	ConnectionName string
	MaxReconnects  int
	ReconnectWait  time.Duration
}

// Publisher enqueues classified webhook events onto the event stream
//
//go:generate mockgen -source=publisher.go -destination=../mocks/publisher.go -package=mocks -mock_names=Publisher=MockPublisher
type Publisher interface {
	// Publish enqueues one message onto its priority lane's subject
	Publish(ctx context.Context, msg webhook.QueueMessage) error
	// Close closes the underlying connection
	Close()
}

type publisher struct {
	nc     adapter.NatsConn
	js     adapter.JetStream
	json   adapter.JSON
	config PublisherConfig
}

// NewPublisher connects to the stream and ensures it exists
func NewPublisher(cfg PublisherConfig, natsJS adapter.NatsJetStream, jsonAdapter adapter.JSON) (Publisher, error) {
	nc, js, err := connect(cfg.URL, cfg.ConnectionName, cfg.MaxReconnects, cfg.ReconnectWait, natsJS)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Work-queue retention: acknowledged messages are discarded, exhausted
	// ones are parked in the store by the worker before termination
	if err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.StreamName,
		Subjects:  []string{"pool.events.>"},
		Retention: jetstream.WorkQueuePolicy,
		Storage:   jetstream.FileStorage,
	}); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &publisher{
		nc:     nc,
		js:     js,
		json:   jsonAdapter,
		config: cfg,
	}, nil
}

// Publish enqueues one message onto its priority lane's subject
func (p *publisher) Publish(ctx context.Context, msg webhook.QueueMessage) error {
	data, err := p.json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	// The job ID doubles as the broker-side deduplication key, so a gateway
	// retry of the same enqueue cannot double the message
	var opts []jetstream.PublishOpt
	if msg.JobID != "" {
		opts = append(opts, jetstream.WithMsgID(msg.JobID))
	}

	subject := msg.Priority.Subject()
	if _, err := p.js.Publish(ctx, subject, data, opts...); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	logger.DebugCtx(ctx, "event enqueued",
		zap.String("subject", subject),
		zap.String("job_id", msg.JobID),
		zap.String("event", msg.Event),
		zap.String("tx_hash", msg.Data.TxHash))
	return nil
}

// Close closes the underlying connection
func (p *publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}

// connect dials NATS with the reconnect handlers every binary shares
func connect(url, name string, maxReconnects int, reconnectWait time.Duration, natsJS adapter.NatsJetStream) (adapter.NatsConn, adapter.JetStream, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, js, err := natsJS.Connect(url, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS and create JetStream: %w", err)
	}

	return nc, js, nil
}
