package dataloader

import "sync"

// Pending is the untyped view of a Future used by code that only needs to
// wait for settlement.
type Pending interface {
	Done() bool
	Value() (any, error)
}

// Future is the eventual result of a load. It settles exactly once.
type Future[V any] struct {
	mu        sync.Mutex
	done      bool
	value     V
	err       error
	callbacks []func()
}

func newFuture[V any]() *Future[V] { return &Future[V]{} }

// Resolved returns a settled future holding v.
func Resolved[V any](v V) *Future[V] { return &Future[V]{done: true, value: v} }

// Failed returns a settled future holding err.
func Failed[V any](err error) *Future[V] { return &Future[V]{done: true, err: err} }

func (f *Future[V]) Done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// Result returns the value and error. It must only be called once Done
// reports true; before that it returns the zero value and ErrNotSettled.
func (f *Future[V]) Result() (V, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.done {
		var zero V
		return zero, ErrNotSettled
	}
	return f.value, f.err
}

func (f *Future[V]) Value() (any, error) { return f.Result() }

func (f *Future[V]) settle(v V, err error) {
	f.mu.Lock()
	if f.done {
		f.mu.Unlock()
		return
	}
	f.done, f.value, f.err = true, v, err
	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()
	for _, cb := range callbacks {
		cb()
	}
}

// onSettle runs cb once the future settles; immediately if it already has.
func (f *Future[V]) onSettle(cb func()) {
	f.mu.Lock()
	if !f.done {
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	cb()
}

// Then chains fn onto f. fn runs after f settled successfully; errors skip it.
func Then[V, W any](f *Future[V], fn func(V) (W, error)) *Future[W] {
	out := newFuture[W]()
	f.onSettle(func() {
		v, err := f.Result()
		if err != nil {
			out.settle(*new(W), err)
			return
		}
		out.settle(fn(v))
	})
	return out
}

// ThenLoad chains a step that itself loads: fn returns another future whose
// result becomes the result of the chain.
func ThenLoad[V, W any](f *Future[V], fn func(V) *Future[W]) *Future[W] {
	out := newFuture[W]()
	f.onSettle(func() {
		v, err := f.Result()
		if err != nil {
			out.settle(*new(W), err)
			return
		}
		next := fn(v)
		next.onSettle(func() { out.settle(next.Result()) })
	})
	return out
}

// All settles once every future settled, with the values in input order. The
// first error in input order fails the whole result.
func All[V any](fs []*Future[V]) *Future[[]V] {
	out := newFuture[[]V]()
	if len(fs) == 0 {
		out.settle([]V{}, nil)
		return out
	}
	var mu sync.Mutex
	remaining := len(fs)
	for _, f := range fs {
		f.onSettle(func() {
			mu.Lock()
			remaining--
			last := remaining == 0
			mu.Unlock()
			if !last {
				return
			}
			values := make([]V, len(fs))
			for i, f := range fs {
				v, err := f.Result()
				if err != nil {
					out.settle(nil, err)
					return
				}
				values[i] = v
			}
			out.settle(values, nil)
		})
	}
	return out
}
