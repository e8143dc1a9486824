// Package events – bus.go implements the in-process pub/sub bus.
//
// Delivery is synchronous: Publish returns after every handler that was
// subscribed at the time of the call has run. Handlers may publish again;
// nested events are delivered depth-first before the outer Publish returns.
package events

import (
	"fmt"
	"log/slog"
	"sync"
)

// Handler receives published events.
type Handler func(Event)

// Subscription identifies a registered handler. The zero value is inert.
type Subscription struct {
	kind Kind
	id   uint64
	all  bool
}

type entry struct {
	id uint64
	fn Handler
}

// Bus is a typed pub/sub hub keyed by event kind.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]entry
	all      []entry
	nextID   uint64
	logger   *slog.Logger
}

// NewBus creates an empty bus. A nil logger falls back to slog.Default.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[Kind][]entry),
		logger:   logger.With("component", "events"),
	}
}

// Subscribe registers fn for events of the given kind.
func (b *Bus) Subscribe(kind Kind, fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.handlers[kind] = append(b.handlers[kind], entry{id: b.nextID, fn: fn})
	return Subscription{kind: kind, id: b.nextID}
}

// SubscribeAll registers fn for every kind.
func (b *Bus) SubscribeAll(fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.all = append(b.all, entry{id: b.nextID, fn: fn})
	return Subscription{id: b.nextID, all: true}
}

// Unsubscribe removes a handler. Unknown or already removed subscriptions
// are ignored.
func (b *Bus) Unsubscribe(sub Subscription) {
	if sub.id == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.all {
		b.all = without(b.all, sub.id)
		return
	}
	b.handlers[sub.kind] = without(b.handlers[sub.kind], sub.id)
	if len(b.handlers[sub.kind]) == 0 {
		delete(b.handlers, sub.kind)
	}
}

// Publish delivers ev to the handlers registered for its kind, then to the
// catch-all handlers, in registration order. No lock is held while handlers
// run, so they can subscribe, unsubscribe or publish.
func (b *Bus) Publish(ev Event) {
	if ev == nil {
		return
	}

	b.mu.RLock()
	targets := make([]entry, 0, len(b.handlers[ev.Kind()])+len(b.all))
	targets = append(targets, b.handlers[ev.Kind()]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()

	for _, t := range targets {
		b.call(t.fn, ev)
	}
}

// call runs one handler, isolating the bus from its panics.
func (b *Bus) call(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"kind", ev.Kind(),
				"panic", fmt.Sprint(r),
			)
		}
	}()
	fn(ev)
}

// On subscribes fn to the kind carried by T and hands it the typed payload.
func On[T Event](b *Bus, fn func(T)) Subscription {
	var zero T
	return b.Subscribe(zero.Kind(), func(ev Event) {
		if typed, ok := ev.(T); ok {
			fn(typed)
		}
	})
}

func without(entries []entry, id uint64) []entry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.id != id {
			out = append(out, e)
		}
	}
	return out
}
