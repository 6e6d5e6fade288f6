// Package dataloader batches backend fetches issued while resolving one
// GraphQL request.
//
// Every request owns a Scope. Loaders registered on the scope cache the future
// of each key they were asked for, so a key is fetched at most once per
// request. Keys queued between two Dispatch calls are coalesced into a single
// BatchFunc call per loader.
package dataloader

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/hanpama/brokergraph/internal/eventbus"
	"github.com/hanpama/brokergraph/internal/events"
)

// ErrNotSettled is returned by Result on a future that has not settled yet.
var ErrNotSettled = errors.New("dataloader: future not settled")

// BatchFunc fetches values for keys. Keys missing from the returned map
// resolve to the zero value of V.
type BatchFunc[K comparable, V any] func(ctx context.Context, keys []K) (map[K]V, error)

// Option configures a Loader.
type Option func(*options)

type options struct {
	maxBatch int
	retry    RetryPolicy
}

// WithMaxBatch splits batches larger than n keys into several calls.
func WithMaxBatch(n int) Option { return func(o *options) { o.maxBatch = n } }

// WithRetry overrides the retry policy for unavailable backends.
func WithRetry(p RetryPolicy) Option { return func(o *options) { o.retry = p } }

// Loader coalesces loads of one key type into batched calls.
type Loader[K comparable, V any] struct {
	name  string
	fetch BatchFunc[K, V]
	opts  options

	mu    sync.Mutex
	cache map[K]*Future[V]
	queue []K
}

// New registers a loader on scope. Options given to the scope apply first.
func New[K comparable, V any](scope *Scope, name string, fetch BatchFunc[K, V], opts ...Option) *Loader[K, V] {
	l := build(scope, name, fetch, opts)
	scope.register(l)
	return l
}

func build[K comparable, V any](scope *Scope, name string, fetch BatchFunc[K, V], opts []Option) *Loader[K, V] {
	l := &Loader[K, V]{
		name:  name,
		fetch: fetch,
		opts:  options{retry: DefaultRetryPolicy()},
		cache: make(map[K]*Future[V]),
	}
	for _, o := range scope.defaults {
		o(&l.opts)
	}
	for _, o := range opts {
		o(&l.opts)
	}
	return l
}

func (l *Loader[K, V]) Name() string { return l.name }

// Load returns the future for key, queueing the key when it was not
// requested before in this scope.
func (l *Loader[K, V]) Load(key K) *Future[V] {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.cache[key]; ok {
		return f
	}
	f := newFuture[V]()
	l.cache[key] = f
	l.queue = append(l.queue, key)
	return f
}

// LoadMany loads every key and settles with the values in key order.
func (l *Loader[K, V]) LoadMany(keys []K) *Future[[]V] {
	return All(lo.Map(keys, func(k K, _ int) *Future[V] { return l.Load(k) }))
}

// Prime stores a known value for key unless the key was already requested.
func (l *Loader[K, V]) Prime(key K, value V) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.cache[key]; !ok {
		l.cache[key] = Resolved(value)
	}
}

// pending reports the number of queued keys.
func (l *Loader[K, V]) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// drain takes the queued keys and returns one job per batch.
func (l *Loader[K, V]) drain() []func(context.Context) {
	l.mu.Lock()
	keys := l.queue
	l.queue = nil
	futures := make(map[K]*Future[V], len(keys))
	for _, k := range keys {
		futures[k] = l.cache[k]
	}
	l.mu.Unlock()
	if len(keys) == 0 {
		return nil
	}

	size := len(keys)
	if l.opts.maxBatch > 0 {
		size = l.opts.maxBatch
	}
	return lo.Map(lo.Chunk(keys, size), func(batch []K, _ int) func(context.Context) {
		return func(ctx context.Context) { l.run(ctx, batch, futures) }
	})
}

func (l *Loader[K, V]) run(ctx context.Context, keys []K, futures map[K]*Future[V]) {
	start := time.Now()
	values, attempts, err := call(ctx, l.name, l.opts.retry, func(ctx context.Context) (map[K]V, error) {
		return l.fetch(ctx, keys)
	})
	eventbus.Publish(ctx, events.LoaderBatch{
		Loader:   l.name,
		Keys:     len(keys),
		Attempts: attempts,
		Duration: time.Since(start),
		Err:      err,
	})
	for _, k := range keys {
		if err != nil {
			futures[k].settle(*new(V), err)
			continue
		}
		futures[k].settle(values[k], nil)
	}
}
