package dataloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/hanpama/brokergraph/internal/eventbus"
	"github.com/hanpama/brokergraph/internal/events"
)

// CodeBackendUnavailable is the GraphQL error code reported when a backend
// stayed unreachable after every retry.
const CodeBackendUnavailable = "BACKEND_UNAVAILABLE"

// UnavailableError marks a transient backend failure. Only these are retried.
type UnavailableError struct {
	Err error
}

// Unavailable classifies err as a transient backend failure. A nil err stays nil.
func Unavailable(err error) error {
	if err == nil {
		return nil
	}
	var ue *UnavailableError
	if errors.As(err, &ue) {
		return err
	}
	return &UnavailableError{Err: err}
}

func (e *UnavailableError) Error() string     { return fmt.Sprintf("backend unavailable: %v", e.Err) }
func (e *UnavailableError) Unwrap() error     { return e.Err }
func (e *UnavailableError) ErrorCode() string { return CodeBackendUnavailable }

// IsUnavailable reports whether err, or anything it wraps, is an UnavailableError.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// RetryPolicy bounds the backoff used for unavailable backends.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryPolicy tries a batch three times within two seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTries:        3,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     500 * time.Millisecond,
		MaxElapsedTime:  2 * time.Second,
	}
}

func (p RetryPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	return b
}

// call runs fn under the policy and reports how many attempts were made.
func call[T any](ctx context.Context, loader string, p RetryPolicy, fn func(context.Context) (T, error)) (T, int, error) {
	attempts := 0
	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithNotify(func(err error, d time.Duration) {
			eventbus.Publish(ctx, events.LoaderRetry{Loader: loader, Err: err, Delay: d})
		}),
	}
	if p.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(p.MaxTries))
	}
	if p.MaxElapsedTime > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.MaxElapsedTime))
	}
	res, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := fn(ctx)
		if err != nil && !IsUnavailable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, opts...)
	return res, attempts, err
}
