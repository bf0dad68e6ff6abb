package client

import (
	"errors"
	"sync"

	"github.com/RealBhupesh/fictional-carnival/internal/domain"
)

// NotificationCap bounds the notification buffer.
const NotificationCap = 50

// ErrHydrationClosed is returned by Seed and Restore once live traffic may
// have started.
var ErrHydrationClosed = errors.New("notification buffer already receives live events")

// Snapshot is the persisted part of a Store.
type Snapshot struct {
	Notifications []domain.Notification `json:"notifications"`
}

// Store holds the newest-first notification buffer and the connection flag.
type Store struct {
	mu            sync.RWMutex
	notifications []domain.Notification
	connected     bool
	live          bool
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Notifications() []domain.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Notification(nil), s.notifications...)
}

func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *Store) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

// Push prepends n and drops the oldest entries beyond NotificationCap.
func (s *Store) Push(n domain.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]domain.Notification, 0, min(len(s.notifications)+1, NotificationCap))
	next = append(next, n)
	next = append(next, s.notifications...)
	s.notifications = truncate(next)
}

// Seed replaces the buffer with list, which is expected newest first. It
// fails once OpenLive was called so a late hydration cannot overwrite live
// notifications.
func (s *Store) Seed(list []domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live {
		return ErrHydrationClosed
	}
	s.notifications = truncate(append([]domain.Notification(nil), list...))
	return nil
}

// OpenLive ends the hydration phase. It is called once the first connection
// is established, before any live event is read.
func (s *Store) OpenLive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = true
}

func (s *Store) Snapshot() Snapshot {
	return Snapshot{Notifications: s.Notifications()}
}

// Restore loads a persisted snapshot under the same rule as Seed.
func (s *Store) Restore(snap Snapshot) error {
	return s.Seed(snap.Notifications)
}

func truncate(list []domain.Notification) []domain.Notification {
	if len(list) > NotificationCap {
		return list[:NotificationCap]
	}
	return list
}
