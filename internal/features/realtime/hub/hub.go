package hub

import (
	"context"
	"sync"

	"delivery-tracker/internal/features/deliveries/domain"
)

// Subscriber receives events for the deliveries it subscribed to.
// Deliver must not block; it reports whether the event was accepted.
type Subscriber interface {
	Deliver(event domain.DeliveryEvent) bool
}

// Hub maps delivery ids to the set of live subscribers watching them.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[Subscriber]struct{}
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{subscribers: make(map[string]map[Subscriber]struct{})}
}

// Subscribe adds s to the viewers of deliveryID. Subscribing twice is a no-op.
func (h *Hub) Subscribe(deliveryID string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subscribers[deliveryID]
	if !ok {
		set = make(map[Subscriber]struct{})
		h.subscribers[deliveryID] = set
	}
	set[s] = struct{}{}
}

// Unsubscribe removes s from the viewers of deliveryID. Removing a subscriber
// that is not registered is a no-op.
func (h *Hub) Unsubscribe(deliveryID string, s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subscribers[deliveryID]
	if !ok {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subscribers, deliveryID)
	}
}

// Publish hands event to every subscriber of deliveryID and returns how many
// accepted it. Delivery happens outside the lock so a slow subscriber cannot
// stall Subscribe or Unsubscribe.
func (h *Hub) Publish(deliveryID string, event domain.DeliveryEvent) int {
	h.mu.RLock()
	set := h.subscribers[deliveryID]
	targets := make([]Subscriber, 0, len(set))
	for s := range set {
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.Deliver(event) {
			delivered++
		}
	}
	return delivered
}

// Notify publishes event to the local subscribers of its delivery.
func (h *Hub) Notify(_ context.Context, event domain.DeliveryEvent) error {
	h.Publish(event.DeliveryID, event)
	return nil
}

// SubscriberCount returns the number of subscribers watching deliveryID.
func (h *Hub) SubscriberCount(deliveryID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[deliveryID])
}
