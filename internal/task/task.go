// Package task runs blocking work under a bounded deadline.
package task

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when the deadline passed to Run elapses first.
var ErrTimeout = errors.New("task: timed out")

type result[T any] struct {
	val T
	err error
}

// Run executes fn with a context that is cancelled after timeout. It returns as soon
// as the deadline passes even if fn does not observe its context; fn's late result is
// discarded. Cancellation of the parent ctx is reported as ctx.Err(), a deadline as
// ErrTimeout (wrapping context.DeadlineExceeded).
func Run[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if timeout <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := fn(tctx)
		done <- result[T]{val: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, fmt.Errorf("%w: %w", ErrTimeout, r.err)
		}
		return r.val, r.err
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, fmt.Errorf("%w: %w", ErrTimeout, context.DeadlineExceeded)
	}
}
