package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/RealBhupesh/fictional-carnival/internal/domain"
	"github.com/RealBhupesh/fictional-carnival/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
)

var (
	// ErrConnectionFailed is the only error a failed connect reports. The
	// cause is logged at debug level and never returned.
	ErrConnectionFailed = errors.New("connection failed")
	ErrNotConnected     = errors.New("not connected")
)

type Option func(*Manager)

func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithStorage restores the notification buffer from s and saves it after
// every change.
func WithStorage(s Storage) Option {
	return func(m *Manager) { m.storage = s }
}

// WithNotificationHook calls fn for every notification received from the
// relay, after it was added to the buffer.
func WithNotificationHook(fn func(domain.Notification)) Option {
	return func(m *Manager) { m.onNotification = fn }
}

// Manager owns the single connection of one consumer to the relay.
type Manager struct {
	url     string
	dialer  *websocket.Dialer
	store   *Store
	bus     *Bus
	storage Storage

	onNotification func(domain.Notification)

	mu   sync.Mutex
	conn *websocket.Conn
	// dialing is set while Connect waits on the handshake; generation is
	// bumped by every Disconnect.
	dialing    bool
	generation uint64
}

func NewManager(url string, opts ...Option) (*Manager, error) {
	m := &Manager{
		url:    url,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout, Proxy: http.ProxyFromEnvironment},
		store:  NewStore(),
		bus:    NewBus(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if m.storage != nil {
		snap, err := m.storage.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to restore notifications: %w", err)
		}
		if err := m.store.Restore(snap); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Manager) Bus() *Bus { return m.bus }

func (m *Manager) Notifications() []domain.Notification { return m.store.Notifications() }

func (m *Manager) Connected() bool { return m.store.Connected() }

// SeedNotifications replaces the buffer with the server-rendered list. It
// must run before the first successful Connect; afterwards it returns
// ErrHydrationClosed.
func (m *Manager) SeedNotifications(list []domain.Notification) error {
	if err := m.store.Seed(list); err != nil {
		return err
	}
	m.persist()
	return nil
}

// AddNotification prepends a locally produced notification.
func (m *Manager) AddNotification(n domain.Notification) {
	m.store.Push(n)
	m.persist()
}

// Connect opens the connection with credential in the handshake headers.
// It is a no-op while a connection is live or being dialed and never retries
// on its own. The dial runs without holding the lock, so a Disconnect during
// the handshake returns at once and the dialed connection is discarded.
func (m *Manager) Connect(ctx context.Context, credential string) error {
	m.mu.Lock()
	if m.conn != nil || m.dialing {
		m.mu.Unlock()
		return nil
	}
	m.dialing = true
	generation := m.generation
	m.mu.Unlock()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	conn, resp, err := m.dialer.DialContext(ctx, m.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.dialing = false

	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		slog.Debug("Relay connection failed", "url", m.url, "status", status, "error", err)
		m.store.SetConnected(false)
		return ErrConnectionFailed
	}
	if generation != m.generation {
		slog.Debug("Relay connection discarded after disconnect", "url", m.url)
		_ = conn.Close()
		return ErrConnectionFailed
	}

	m.store.OpenLive()
	m.conn = conn
	m.store.SetConnected(true)
	go m.readLoop(conn)
	return nil
}

// Disconnect closes the live connection, if any, and abandons a dial in
// progress. Safe to call repeatedly.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.generation++
	m.store.SetConnected(false)
	m.mu.Unlock()

	if conn == nil {
		return
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout))
	_ = conn.Close()
}

// Send writes an event to the relay.
func (m *Manager) Send(ev domain.Event) error {
	frame, err := protocol.Encode(ev)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil {
		return ErrNotConnected
	}
	_ = m.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := m.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to send %s: %w", ev.Name(), err)
	}
	return nil
}

func (m *Manager) readLoop(conn *websocket.Conn) {
	defer func() {
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
			m.store.SetConnected(false)
		}
		m.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("Relay connection lost", "error", err)
			}
			return
		}
		m.dispatch(data)
	}
}

func (m *Manager) dispatch(data []byte) {
	ev, err := protocol.Decode(data)
	if err != nil {
		slog.Debug("Ignoring malformed frame", "error", err)
		return
	}

	if raw, ok := ev.(domain.NotificationNew); ok {
		n, err := protocol.DecodeNotification(raw)
		if err == nil {
			m.store.Push(n)
			m.persist()
			if m.onNotification != nil {
				m.onNotification(n)
			}
			return
		}
		slog.Debug("Notification not buffered", "error", err)
	}

	payload, err := protocol.Payload(ev)
	if err != nil {
		slog.Debug("Ignoring unencodable event", "event", ev.Name(), "error", err)
		return
	}
	m.bus.Publish(ev.Name(), payload)
}

func (m *Manager) persist() {
	if m.storage == nil {
		return
	}
	if err := m.storage.Save(m.store.Snapshot()); err != nil {
		slog.Warn("Failed to persist notifications", "error", err)
	}
}
