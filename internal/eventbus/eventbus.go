// Package eventbus delivers gateway events to in-process observers. Delivery
// is synchronous on the publishing goroutine and keyed by the static event
// type, so observers must return quickly.
package eventbus

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
)

type subscription struct {
	id uint64
	fn func(context.Context, any)
}

// Bus routes events by type to their subscribers.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	topics map[reflect.Type][]subscription
}

func New() *Bus { return &Bus{topics: make(map[reflect.Type][]subscription)} }

func (b *Bus) add(t reflect.Type, fn func(context.Context, any)) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.topics[t] = append(b.topics[t], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(t, id) })
	}
}

func (b *Bus) remove(t reflect.Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[t]
	for i, s := range subs {
		if s.id == id {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.topics, t)
		return
	}
	b.topics[t] = subs
}

// listeners returns a snapshot so subscribers may unsubscribe while an event
// is being delivered.
func (b *Bus) listeners(t reflect.Type) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.topics[t]
}

var current atomic.Pointer[Bus]

// Use installs b as the process bus. Nil turns publishing off.
func Use(b *Bus) { current.Store(b) }

// Subscribe registers fn for events of type T on the process bus. Without a
// bus it does nothing and returns a no-op.
func Subscribe[T any](fn func(context.Context, T)) (unsubscribe func()) {
	b := current.Load()
	if b == nil {
		return func() {}
	}
	return b.add(reflect.TypeFor[T](), func(ctx context.Context, v any) { fn(ctx, v.(T)) })
}

// Publish delivers e to every subscriber of T in subscription order.
func Publish[T any](ctx context.Context, e T) {
	b := current.Load()
	if b == nil {
		return
	}
	for _, s := range b.listeners(reflect.TypeFor[T]()) {
		s.fn(ctx, e)
	}
}

// Observed reports whether anything subscribes to T, letting publishers skip
// assembling events nobody reads.
func Observed[T any]() bool {
	b := current.Load()
	return b != nil && len(b.listeners(reflect.TypeFor[T]())) > 0
}
