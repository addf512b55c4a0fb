package signal

import (
	"context"
	"sync"
)

// Hub is an in-process Channel. Publish fans a value out to every subscriber
// synchronously.
type Hub struct {
	mu      sync.Mutex
	current string
	nextID  int
	subs    map[int]Handler
}

// NewHub creates a hub whose current value is initial.
func NewHub(initial Signal) *Hub {
	return &Hub{current: string(initial), subs: make(map[int]Handler)}
}

// Subscribe registers handler and immediately delivers the current value.
func (h *Hub) Subscribe(_ context.Context, handler Handler) (Subscription, error) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = handler
	current := h.current
	h.mu.Unlock()

	handler(current)
	return &hubSubscription{hub: h, id: id}, nil
}

// Publish records value as current and delivers it to every subscriber.
func (h *Hub) Publish(value string) {
	h.mu.Lock()
	h.current = value
	handlers := make([]Handler, 0, len(h.subs))
	for _, handler := range h.subs {
		handlers = append(handlers, handler)
	}
	h.mu.Unlock()

	for _, handler := range handlers {
		handler(value)
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

type hubSubscription struct {
	hub  *Hub
	id   int
	once sync.Once
}

func (s *hubSubscription) Close() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.id)
		s.hub.mu.Unlock()
	})
	return nil
}
