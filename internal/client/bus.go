package client

import (
	"encoding/json"
	"slices"
	"sync"

	"github.com/RealBhupesh/fictional-carnival/internal/domain"
)

// Handler receives the payload of a local event.
type Handler func(payload json.RawMessage)

// Bus dispatches relay events to in-process listeners so consumers never
// hold a reference to the connection.
type Bus struct {
	mu       sync.RWMutex
	handlers map[domain.EventName]map[uint64]Handler
	nextID   uint64
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[domain.EventName]map[uint64]Handler)}
}

// Subscribe registers fn for name and returns a function that removes it.
func (b *Bus) Subscribe(name domain.EventName, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	if b.handlers[name] == nil {
		b.handlers[name] = make(map[uint64]Handler)
	}
	b.handlers[name][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers[name], id)
		})
	}
}

// Publish calls every handler of name synchronously, in subscription order.
func (b *Bus) Publish(name domain.EventName, payload json.RawMessage) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.handlers[name]))
	for id := range b.handlers[name] {
		ids = append(ids, id)
	}
	handlers := make(map[uint64]Handler, len(ids))
	for _, id := range ids {
		handlers[id] = b.handlers[name][id]
	}
	b.mu.RUnlock()

	slices.Sort(ids)
	for _, id := range ids {
		handlers[id](payload)
	}
}
