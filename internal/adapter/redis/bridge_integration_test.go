package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/RealBhupesh/fictional-carnival/internal/adapter/metrics"
	"github.com/RealBhupesh/fictional-carnival/internal/domain"
	"github.com/RealBhupesh/fictional-carnival/internal/relay"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu   sync.Mutex
	envs []relay.Envelope
}

func (c *collector) deliver(env relay.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.envs = append(c.envs, env)
}

func (c *collector) snapshot() []relay.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]relay.Envelope(nil), c.envs...)
}

func startBridge(t *testing.T, nodeID string) (*Bridge, *collector, *metrics.BridgeMetrics) {
	t.Helper()
	client := setupTestClient(t)
	m := metrics.NewBridgeMetrics(prometheus.NewRegistry())
	b := NewBridge(client, nodeID, m)
	c := &collector{}

	before, err := client.PubSubNumSub(context.Background(), DeliveryChannel).Result()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx, c.deliver)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(context.Background(), DeliveryChannel).Result()
		return err == nil && n[DeliveryChannel] > before[DeliveryChannel]
	}, 5*time.Second, 20*time.Millisecond)
	return b, c, m
}

func TestBridge_DeliversAcrossNodes(t *testing.T) {
	a, fromA, metricsA := startBridge(t, "node-a")
	_, fromB, metricsB := startBridge(t, "node-b")

	env := testEnvelope("node-a")
	env.Exclude = "conn-1"
	a.Forward(env)

	require.Eventually(t, func() bool {
		return len(fromB.snapshot()) == 1
	}, 5*time.Second, 20*time.Millisecond)

	got := fromB.snapshot()[0]
	assert.Equal(t, "node-a", got.Origin)
	assert.Equal(t, domain.RoomGeneral, got.Room)
	assert.Equal(t, domain.EventContentUpdate, got.Event)
	assert.Equal(t, "conn-1", got.Exclude)
	assert.JSONEq(t, string(env.Frame), string(got.Frame))

	assert.Equal(t, 1.0, testutil.ToFloat64(metricsA.Published))
	assert.Equal(t, 1.0, testutil.ToFloat64(metricsB.Received))

	// the publishing node never sees its own delivery
	assert.Never(t, func() bool {
		return len(fromA.snapshot()) > 0
	}, 200*time.Millisecond, 20*time.Millisecond)
}

func TestBridge_StampsMissingOrigin(t *testing.T) {
	a, fromA, _ := startBridge(t, "node-a")
	_, fromB, _ := startBridge(t, "node-b")

	a.Forward(testEnvelope(""))

	require.Eventually(t, func() bool {
		return len(fromB.snapshot()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "node-a", fromB.snapshot()[0].Origin)
	assert.Empty(t, fromA.snapshot())
}
