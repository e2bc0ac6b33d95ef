package bus

import (
	"strings"
	"sync"
)

// Bus is an in-process publish/subscribe event bus. Subscribers select
// events either by kind prefix or by an arbitrary match function.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscription
	next int
}

type subscription struct {
	match func(kind string) bool
	ch    chan Event
}

// New creates a new event bus.
func New() *Bus {
	return &Bus{
		subs: make(map[int]*subscription),
	}
}

// Publish sends an event to every subscriber that matches evt.Kind.
// Delivery never blocks: a subscriber with a full buffer misses the event.
// With a buffer of one this coalesces bursts into a single pending signal.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.match(evt.Kind) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
		}
	}
}

// Subscribe returns a channel that receives events whose kind starts with
// namespace, and an unsubscribe function.
func (b *Bus) Subscribe(namespace string, bufSize int) (<-chan Event, func()) {
	return b.SubscribeMatch(func(kind string) bool {
		return strings.HasPrefix(kind, namespace)
	}, bufSize)
}

// SubscribeMatch is Subscribe with a caller-supplied filter. The returned
// unsubscribe function is safe to call more than once.
func (b *Bus) SubscribeMatch(match func(kind string) bool, bufSize int) (<-chan Event, func()) {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscription{match: match, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Len returns the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
