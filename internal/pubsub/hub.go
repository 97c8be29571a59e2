package pubsub

import (
	"context"
	"sync"
)

// Hub fans the most recently published message out to every registered
// subscriber and keeps that message around so that late subscribers receive
// it immediately instead of waiting for the next publish.
//
// Subscribe, Publish and Subscription.Close are safe for concurrent use; a
// publish sees either the subscriber set before or after a concurrent
// subscribe, never a half-updated one.
type Hub struct {
	mu      sync.Mutex
	subs    map[*Channel]struct{}
	last    string
	hasLast bool
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Channel]struct{})}
}

// Subscription ties a Channel to its registration in the Hub. The goroutine
// that obtained it owns the channel and releases the registration with Close.
type Subscription struct {
	hub *Hub
	ch  *Channel
}

// Subscribe registers a new single-slot channel with the hub. If a message
// has already been published, it is stored in the channel right away so the
// first read returns it without waiting.
func (h *Hub) Subscribe() *Subscription {
	ch := newChannel()

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	if h.hasLast {
		ch.put(h.last)
	}
	h.mu.Unlock()

	return &Subscription{hub: h, ch: ch}
}

// Publish stores msg as the latest message and overwrites the slot of every
// currently registered subscriber. It never blocks and expects no
// acknowledgment.
func (h *Hub) Publish(msg string) {
	h.mu.Lock()
	h.last, h.hasLast = msg, true
	for ch := range h.subs {
		ch.put(msg)
	}
	h.mu.Unlock()
}

// Subscribers returns the number of currently registered subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close removes the subscription's channel from the hub. Later publishes no
// longer reach the channel. Each subscription is closed exactly once, on
// every exit path of its owning delivery loop.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	delete(s.hub.subs, s.ch)
	s.hub.mu.Unlock()
}

// Get blocks until a message is available or ctx is cancelled.
func (s *Subscription) Get(ctx context.Context) (string, error) {
	return s.ch.Get(ctx)
}

// C exposes the subscription's slot for select loops.
func (s *Subscription) C() <-chan string {
	return s.ch.C()
}
