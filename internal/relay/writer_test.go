package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnWriter_WritesInOrder(t *testing.T) {
	server, client := newTestConnPair(t)
	w := newConnWriter(server, clockwork.NewRealClock(), 8)
	t.Cleanup(w.stop)

	for _, msg := range []string{"one", "two", "three"} {
		require.True(t, w.enqueue([]byte(msg)))
	}

	require.NoError(t, client.SetReadDeadline(time.Now().Add(readTimeout)))
	for _, want := range []string{"one", "two", "three"} {
		_, msg, err := client.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, want, string(msg))
	}
}

func TestConnWriter_EnqueueReportsFullBuffer(t *testing.T) {
	w := &connWriter{send: make(chan []byte, 1)}

	assert.True(t, w.enqueue([]byte("a")))
	assert.False(t, w.enqueue([]byte("b")))
}

func TestConnWriter_SendsPingOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Now())
	server, client := newTestConnPair(t)
	w := newConnWriter(server, clock, 4)
	t.Cleanup(w.stop)

	pinged := make(chan struct{}, 1)
	client.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(pingInterval)

	select {
	case <-pinged:
	case <-time.After(readTimeout):
		t.Fatal("no ping received")
	}
}

func TestConnWriter_StopIdempotent(t *testing.T) {
	server, _ := newTestConnPair(t)
	w := newConnWriter(server, clockwork.NewRealClock(), 4)

	w.stop()
	w.stop()
	w.stopGraceful(ws.CloseNormalClosure, "again")
}

func TestConnWriter_ConcurrentStop(t *testing.T) {
	server, _ := newTestConnPair(t)
	w := newConnWriter(server, clockwork.NewRealClock(), 4)

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				w.stop()
			} else {
				w.stopGraceful(ws.CloseGoingAway, "bye")
			}
		}()
	}
	wg.Wait()
}

func TestConnWriter_GracefulStopBoundedByStalledPeer(t *testing.T) {
	server, _ := newTestConnPair(t)
	w := newConnWriter(server, clockwork.NewRealClock(), 32)

	frame := make([]byte, 1<<20)
	for range 32 {
		require.True(t, w.enqueue(frame))
	}
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	w.stopGraceful(ws.CloseGoingAway, "server shutting down")

	assert.Less(t, time.Since(start), 3*closeGrace)
}

func TestConnWriter_GracefulStopSendsCloseFrame(t *testing.T) {
	server, client := newTestConnPair(t)
	w := newConnWriter(server, clockwork.NewRealClock(), 4)

	w.stopGraceful(ws.CloseGoingAway, "server shutting down")

	require.NoError(t, client.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := client.ReadMessage()
	var closeErr *ws.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close error, got %v", err)
	assert.Equal(t, ws.CloseGoingAway, closeErr.Code)
	assert.Equal(t, "server shutting down", closeErr.Text)
}
