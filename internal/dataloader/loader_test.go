package dataloader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/hanpama/brokergraph/internal/eventbus"
	"github.com/hanpama/brokergraph/internal/events"
)

// countingBackend records every batch it receives.
type countingBackend struct {
	mu      sync.Mutex
	calls   [][]string
	fail    []error
	missing map[string]bool
}

func (b *countingBackend) fetch(_ context.Context, keys []string) (map[string]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, append([]string(nil), keys...))
	if len(b.fail) > 0 {
		err := b.fail[0]
		b.fail = b.fail[1:]
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if !b.missing[k] {
			out[k] = "v:" + k
		}
	}
	return out, nil
}

func (b *countingBackend) keysFetched() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := make(map[string]int)
	for _, call := range b.calls {
		for _, k := range call {
			n[k]++
		}
	}
	return n
}

func fastRetry(tries uint) Option {
	return WithRetry(RetryPolicy{MaxTries: tries, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond, MaxElapsedTime: time.Second})
}

func mustResult[V any](t *testing.T, f *Future[V]) V {
	t.Helper()
	require.True(t, f.Done(), "future not settled")
	v, err := f.Result()
	require.NoError(t, err)
	return v
}

// Pattern: Call count
func TestLoader_KeyFetchedAtMostOncePerScope(t *testing.T) {
	backend := &countingBackend{}
	scope := NewScope()
	l := New(scope, "assets", backend.fetch)

	first := []*Future[string]{l.Load("BTC"), l.Load("ETH"), l.Load("BTC")}
	require.Equal(t, 1, scope.Dispatch(context.Background()))

	// Requested again after resolution: served from the scope cache.
	again := l.Load("BTC")
	require.Same(t, first[0], again)
	require.Equal(t, 0, scope.Dispatch(context.Background()))

	// A new key triggers exactly one more call containing only that key.
	third := l.Load("XAU")
	require.Equal(t, 1, scope.Dispatch(context.Background()))

	require.Equal(t, "v:BTC", mustResult(t, first[0]))
	require.Equal(t, "v:ETH", mustResult(t, first[1]))
	require.Equal(t, "v:XAU", mustResult(t, third))
	if diff := cmp.Diff([][]string{{"BTC", "ETH"}, {"XAU"}}, backend.calls); diff != "" {
		t.Fatalf("batches mismatch (-want +got):\n%s", diff)
	}
	for k, n := range backend.keysFetched() {
		require.Equal(t, 1, n, "key %s fetched %d times", k, n)
	}
}

// Pattern: Call count
func TestLoader_NewScopeFetchesAgain(t *testing.T) {
	backend := &countingBackend{}
	for i := 0; i < 2; i++ {
		scope := NewScope()
		l := New(scope, "assets", backend.fetch)
		f := l.Load("BTC")
		scope.Dispatch(context.Background())
		require.Equal(t, "v:BTC", mustResult(t, f))
	}
	require.Equal(t, map[string]int{"BTC": 2}, backend.keysFetched())
}

// Pattern: Result comparison
func TestLoader_MissingKeyResolvesToZero(t *testing.T) {
	backend := &countingBackend{missing: map[string]bool{"NOPE": true}}
	scope := NewScope()
	l := New(scope, "assets", backend.fetch)
	f := l.Load("NOPE")
	scope.Dispatch(context.Background())
	require.Equal(t, "", mustResult(t, f))
}

// Pattern: Call count
func TestLoader_MaxBatchSplits(t *testing.T) {
	backend := &countingBackend{}
	scope := NewScope(WithMaxBatch(2))
	l := New(scope, "assets", backend.fetch)
	many := l.LoadMany([]string{"a", "b", "c", "d", "e"})

	require.Equal(t, 3, scope.Dispatch(context.Background()))
	require.Len(t, backend.calls, 3)
	for _, call := range backend.calls {
		require.LessOrEqual(t, len(call), 2)
	}
	require.Equal(t, []string{"v:a", "v:b", "v:c", "v:d", "v:e"}, mustResult(t, many))
}

// Pattern: Result comparison
func TestLoader_PrimeSkipsFetch(t *testing.T) {
	backend := &countingBackend{}
	scope := NewScope()
	l := New(scope, "assets", backend.fetch)
	l.Prime("BTC", "primed")
	f := l.Load("BTC")
	require.Equal(t, 0, scope.Dispatch(context.Background()))
	require.Equal(t, "primed", mustResult(t, f))
	require.Empty(t, backend.calls)
}

// Pattern: Call count
func TestScope_LoadersDispatchTogether(t *testing.T) {
	assets := &countingBackend{}
	prices := &countingBackend{}
	scope := NewScope()
	la := Get(scope, "assets", assets.fetch)
	lp := Get(scope, "prices", prices.fetch)
	require.Same(t, la, Get(scope, "assets", assets.fetch))

	a := la.Load("BTC")
	p := lp.Load("BTC")
	require.Equal(t, 2, scope.Pending())
	require.Equal(t, 2, scope.Dispatch(context.Background()))
	require.Equal(t, 0, scope.Pending())
	require.Equal(t, "v:BTC", mustResult(t, a))
	require.Equal(t, "v:BTC", mustResult(t, p))

	rounds, batches := scope.Stats()
	require.Equal(t, 1, rounds)
	require.Equal(t, 2, batches)
}

// Pattern: Result comparison
func TestThenLoad_QueuesFollowUpForNextDispatch(t *testing.T) {
	trades := &countingBackend{}
	assets := &countingBackend{}
	scope := NewScope()
	lt := New(scope, "trades", trades.fetch)
	la := New(scope, "assets", assets.fetch)

	chained := ThenLoad(lt.Load("t1"), func(v string) *Future[string] { return la.Load(v) })
	mapped := Then(chained, func(v string) (int, error) { return len(v), nil })

	require.Equal(t, 1, scope.Dispatch(context.Background()))
	require.False(t, chained.Done())
	require.Equal(t, 1, scope.Dispatch(context.Background()))
	require.Equal(t, "v:v:t1", mustResult(t, chained))
	require.Equal(t, 6, mustResult(t, mapped))
}

// Pattern: Error handling
func TestRetry_UnavailableBackendRecovers(t *testing.T) {
	bus := eventbus.New()
	eventbus.Use(bus)
	defer eventbus.Use(nil)
	var batches []events.LoaderBatch
	var retries int
	defer eventbus.Subscribe(func(_ context.Context, e events.LoaderBatch) { batches = append(batches, e) })()
	defer eventbus.Subscribe(func(_ context.Context, e events.LoaderRetry) { retries++ })()

	backend := &countingBackend{fail: []error{Unavailable(errors.New("connection refused"))}}
	scope := NewScope(fastRetry(3))
	l := New(scope, "prices", backend.fetch)
	f := l.Load("BTC")
	scope.Dispatch(context.Background())

	require.Equal(t, "v:BTC", mustResult(t, f))
	require.Len(t, backend.calls, 2)
	require.Equal(t, 1, retries)
	require.Len(t, batches, 1)
	require.Equal(t, 2, batches[0].Attempts)
	require.NoError(t, batches[0].Err)
}

// Pattern: Error handling
func TestRetry_ExhaustionFailsEveryFuture(t *testing.T) {
	down := Unavailable(errors.New("connection refused"))
	backend := &countingBackend{fail: []error{down, down, down, down}}
	scope := NewScope(fastRetry(3))
	l := New(scope, "prices", backend.fetch)
	fs := []*Future[string]{l.Load("BTC"), l.Load("ETH")}
	scope.Dispatch(context.Background())

	require.Len(t, backend.calls, 3)
	for _, f := range fs {
		require.True(t, f.Done())
		_, err := f.Result()
		require.Error(t, err)
		require.True(t, IsUnavailable(err))
		var coded interface{ ErrorCode() string }
		require.True(t, errors.As(err, &coded))
		require.Equal(t, CodeBackendUnavailable, coded.ErrorCode())
	}
}

// Pattern: Error handling
func TestRetry_PermanentErrorNotRetried(t *testing.T) {
	boom := errors.New("constraint violated")
	backend := &countingBackend{fail: []error{boom}}
	scope := NewScope(fastRetry(3))
	l := New(scope, "prices", backend.fetch)
	f := l.Load("BTC")
	scope.Dispatch(context.Background())

	require.Len(t, backend.calls, 1)
	_, err := f.Result()
	require.ErrorIs(t, err, boom)
	require.False(t, IsUnavailable(err))
}

func TestFuture_NotSettled(t *testing.T) {
	f := newFuture[int]()
	_, err := f.Result()
	require.ErrorIs(t, err, ErrNotSettled)
	f.settle(1, nil)
	f.settle(2, nil)
	require.Equal(t, 1, mustResult(t, f))
}

func TestAll_FirstErrorWins(t *testing.T) {
	boom := errors.New("boom")
	all := All([]*Future[int]{Resolved(1), Failed[int](boom), Resolved(3)})
	require.True(t, all.Done())
	_, err := all.Result()
	require.ErrorIs(t, err, boom)

	empty := All[int](nil)
	require.Equal(t, []int{}, mustResult(t, empty))
}
