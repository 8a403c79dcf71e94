// Package status provides an in-process publish/subscribe registry.
package status

import (
	"fmt"
	"log/slog"
	"sync"
)

// ID identifies a subscription.
type ID uint64

type subscriber[T any] struct {
	id ID
	fn func(T)
}

// Broadcaster delivers every published value synchronously to all current
// subscribers in registration order. A subscriber that panics is logged and
// skipped; delivery to the others continues.
type Broadcaster[T any] struct {
	mu     sync.RWMutex
	nextID ID
	subs   []subscriber[T]
	logger *slog.Logger
}

func NewBroadcaster[T any](logger *slog.Logger) *Broadcaster[T] {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Broadcaster[T]{logger: logger}
}

// Subscribe registers fn. The returned function unsubscribes it and is safe
// to call more than once.
func (b *Broadcaster[T]) Subscribe(fn func(T)) (ID, func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber[T]{id: id, fn: fn})
	b.mu.Unlock()

	return id, func() { b.Unsubscribe(id) }
}

// Unsubscribe removes the subscription. Unknown ids are ignored.
func (b *Broadcaster[T]) Unsubscribe(id ID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish calls every subscriber with v. Subscribers may subscribe or
// unsubscribe from inside the callback; the change applies to the next
// Publish.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.RLock()
	subs := make([]subscriber[T], len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s, v)
	}
}

func (b *Broadcaster[T]) deliver(s subscriber[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("status subscriber panicked", "subscriber", s.id, "panic", fmt.Sprint(r))
		}
	}()
	s.fn(v)
}

// Len returns the number of current subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
