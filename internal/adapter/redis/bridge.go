package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/RealBhupesh/fictional-carnival/internal/adapter/metrics"
	"github.com/RealBhupesh/fictional-carnival/internal/relay"
	goredis "github.com/redis/go-redis/v9"
)

// DeliveryChannel is the Pub/Sub channel shared by every relay instance.
const DeliveryChannel = "relay:deliveries"

const (
	outboxSize     = 256
	publishTimeout = 2 * time.Second
)

// Bridge fans room deliveries out to the other relay instances over Redis
// Pub/Sub and hands their deliveries back to the local hub.
type Bridge struct {
	rdb     *goredis.Client
	nodeID  string
	outbox  chan relay.Envelope
	metrics *metrics.BridgeMetrics
}

var _ relay.Bridge = (*Bridge)(nil)

func NewBridge(rdb *goredis.Client, nodeID string, m *metrics.BridgeMetrics) *Bridge {
	return &Bridge{
		rdb:     rdb,
		nodeID:  nodeID,
		outbox:  make(chan relay.Envelope, outboxSize),
		metrics: m,
	}
}

// Forward queues env for publishing. It never blocks: when the outbox is
// full the delivery stays local and is counted as a publish error.
func (b *Bridge) Forward(env relay.Envelope) {
	select {
	case b.outbox <- env:
	default:
		slog.Warn("Bridge outbox full, dropping delivery", "room", env.Room, "event", env.Event)
		b.countPublishError()
	}
}

// Run subscribes to the delivery channel and publishes queued deliveries
// until ctx is cancelled. Deliveries published by this node are skipped;
// all others are passed to deliver.
func (b *Bridge) Run(ctx context.Context, deliver func(relay.Envelope)) error {
	sub := b.rdb.Subscribe(ctx, DeliveryChannel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", DeliveryChannel, err)
	}
	slog.Info("Relay bridge subscribed", "channel", DeliveryChannel, "node_id", b.nodeID)

	go b.publishLoop(ctx)

	msgCh := sub.Channel()
	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return nil
			}
			b.receive(msg, deliver)
		case <-ctx.Done():
			return nil
		}
	}
}

func (b *Bridge) receive(msg *goredis.Message, deliver func(relay.Envelope)) {
	var env relay.Envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		slog.Warn("Failed to unmarshal bridge message", "error", err)
		return
	}
	if env.Origin == b.nodeID {
		return
	}
	if b.metrics != nil {
		b.metrics.Received.Inc()
	}
	deliver(env)
}

func (b *Bridge) publishLoop(ctx context.Context) {
	for {
		select {
		case env := <-b.outbox:
			if err := b.publish(ctx, env); err != nil {
				slog.Warn("Failed to publish bridge delivery", "room", env.Room, "event", env.Event, "error", err)
				b.countPublishError()
				continue
			}
			if b.metrics != nil {
				b.metrics.Published.Inc()
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) publish(ctx context.Context, env relay.Envelope) error {
	if env.Origin == "" {
		env.Origin = b.nodeID
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return b.rdb.Publish(ctx, DeliveryChannel, data).Err()
}

func (b *Bridge) countPublishError() {
	if b.metrics != nil {
		b.metrics.PublishErrors.Inc()
	}
}
