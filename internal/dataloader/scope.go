package dataloader

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

type batcher interface {
	Name() string
	pending() int
	drain() []func(context.Context)
}

// Scope owns the loaders of one request. It is dropped with the request,
// taking every cached value with it.
type Scope struct {
	defaults    []Option
	concurrency int

	mu      sync.Mutex
	loaders []batcher
	byName  map[string]any
	rounds  int
	batches int
}

// NewScope returns an empty scope. opts apply to every loader created on it.
func NewScope(opts ...Option) *Scope {
	return &Scope{defaults: opts, byName: make(map[string]any)}
}

// SetConcurrency limits how many batches run at once. Zero means no limit.
func (s *Scope) SetConcurrency(n int) *Scope { s.concurrency = n; return s }

func (s *Scope) register(b batcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaders = append(s.loaders, b)
}

// Get returns the loader registered under name, creating it with fetch on
// first use. Resolvers call it with a fixed name per loader kind.
func Get[K comparable, V any](s *Scope, name string, fetch BatchFunc[K, V], opts ...Option) *Loader[K, V] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.byName[name]; ok {
		return l.(*Loader[K, V])
	}
	l := build(s, name, fetch, opts)
	s.byName[name] = l
	s.loaders = append(s.loaders, l)
	return l
}

// Pending reports the number of keys waiting for the next Dispatch.
func (s *Scope) Pending() int {
	n := 0
	for _, l := range s.snapshot() {
		n += l.pending()
	}
	return n
}

// Dispatch runs every queued batch of every loader, loaders in parallel, and
// returns the number of batches run. Keys queued while it runs wait for the
// next call.
func (s *Scope) Dispatch(ctx context.Context) int {
	var jobs []func(context.Context)
	for _, l := range s.snapshot() {
		jobs = append(jobs, l.drain()...)
	}
	if len(jobs) == 0 {
		return 0
	}

	g, gctx := errgroup.WithContext(ctx)
	if s.concurrency > 0 {
		g.SetLimit(s.concurrency)
	}
	for _, job := range jobs {
		g.Go(func() error {
			job(gctx)
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	s.rounds++
	s.batches += len(jobs)
	s.mu.Unlock()
	return len(jobs)
}

// Stats reports how many dispatch rounds and batches ran in this scope.
func (s *Scope) Stats() (rounds, batches int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rounds, s.batches
}

func (s *Scope) snapshot() []batcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]batcher(nil), s.loaders...)
}
