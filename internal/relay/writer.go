package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	writeDeadline = 5 * time.Second
	pingInterval  = 30 * time.Second
	pongDeadline  = 60 * time.Second
	// closeGrace bounds how long a graceful stop waits on one peer.
	closeGrace = time.Second
)

// connWriter owns all writes to one socket. Frames queued on send are
// written in order; pings keep the read deadline of the peer alive.
type connWriter struct {
	conn     *websocket.Conn
	clock    clockwork.Clock
	send     chan []byte
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newConnWriter(conn *websocket.Conn, clock clockwork.Clock, buffer int) *connWriter {
	w := &connWriter{
		conn:  conn,
		clock: clock,
		send:  make(chan []byte, buffer),
		done:  make(chan struct{}),
	}
	w.configurePongHandler()
	w.wg.Add(1)
	go w.run()
	return w
}

// enqueue hands a frame to the writer without blocking. It reports false when
// the buffer is full.
func (w *connWriter) enqueue(frame []byte) bool {
	select {
	case w.send <- frame:
		return true
	default:
		return false
	}
}

func (w *connWriter) run() {
	ticker := w.clock.NewTicker(pingInterval)
	defer ticker.Stop()
	defer w.wg.Done()

	for {
		select {
		case msg := <-w.send:
			w.updateWriteDeadline()
			if err := w.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				// Unblocks the reader so the connection leaves the hub.
				_ = w.conn.Close()
				return
			}
		case <-ticker.Chan():
			w.updateWriteDeadline()
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = w.conn.Close()
				return
			}
		case <-w.done:
			return
		}
	}
}

func (w *connWriter) stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.conn.Close()
	})
	w.wg.Wait()
}

// stopGraceful flushes nothing further and sends a close frame with reason.
// A run goroutine still blocked on a stalled peer after closeGrace has its
// connection closed under it and no close frame is sent.
func (w *connWriter) stopGraceful(code int, reason string) {
	w.stopOnce.Do(func() {
		close(w.done)

		exited := make(chan struct{})
		go func() {
			w.wg.Wait()
			close(exited)
		}()
		timer := w.clock.NewTimer(closeGrace)
		defer timer.Stop()

		select {
		case <-exited:
		case <-timer.Chan():
			_ = w.conn.Close()
			<-exited
			return
		}

		msg := websocket.FormatCloseMessage(code, reason)
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, w.clock.Now().Add(closeGrace))
		_ = w.conn.Close()
	})
}

func (w *connWriter) configurePongHandler() {
	w.updateReadDeadline()
	w.conn.SetPongHandler(func(string) error {
		w.updateReadDeadline()
		return nil
	})
}

func (w *connWriter) updateWriteDeadline() {
	_ = w.conn.SetWriteDeadline(w.clock.Now().Add(writeDeadline))
}

// updateReadDeadline is also called by the reader on every inbound frame.
func (w *connWriter) updateReadDeadline() {
	_ = w.conn.SetReadDeadline(w.clock.Now().Add(pongDeadline))
}
