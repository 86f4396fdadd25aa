// Package timeout bounds how long a caller waits on an operation.
//
// Do does not cancel the operation it guards. When the deadline passes first,
// the operation keeps running in its own goroutine and whatever it eventually
// returns is discarded.
package timeout

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Code is the error code carried by every timeout error.
const Code = "ETIMEDOUT"

// ErrTimeout matches any *Error with errors.Is.
var ErrTimeout = errors.New("timeout: operation timed out")

// Error reports that a guarded operation outlived its deadline.
type Error struct {
	After time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("operation timed out after %s", e.After)
}

// Code returns ETIMEDOUT.
func (e *Error) Code() string { return Code }

func (e *Error) Is(target error) bool { return target == ErrTimeout }

// Is reports whether err is, or wraps, a timeout error.
func Is(err error) bool { return errors.Is(err, ErrTimeout) }

// Do runs fn and waits at most d for it. A non-positive d waits forever.
//
// fn receives a context detached from ctx's cancellation so a caller giving up
// does not abort work another caller may depend on. If ctx is done before fn
// returns, Do returns ctx.Err().
func Do[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(context.WithoutCancel(ctx))
		done <- result{v, err}
	}()

	t := time.NewTimer(d)
	defer t.Stop()

	var zero T
	select {
	case r := <-done:
		return r.v, r.err
	case <-t.C:
		return zero, &Error{After: d}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
