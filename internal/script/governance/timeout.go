// Package governance holds the resource controls shared by the script
// engines: timeout racing, memory accounting, output capping and
// environment sanitization.
package governance

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by Race when the timer fires before fn returns.
var ErrTimeout = errors.New("execution timed out")

// Race runs fn in its own goroutine and waits for whichever comes first:
// fn returning, the timeout elapsing, or the parent context ending. The
// context passed to fn is cancelled when Race returns, which is the signal
// cooperative engines use to abort. fn may keep running after a timeout;
// callers must not share mutable state with it once Race has returned.
func Race[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) T) (T, error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan T, 1)
	go func() {
		done <- fn(runCtx)
	}()

	select {
	case out := <-done:
		return out, nil
	case <-runCtx.Done():
		// fn may have finished in the same instant; prefer its result.
		select {
		case out := <-done:
			return out, nil
		default:
		}
		var zero T
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, ErrTimeout
		}
		return zero, ctx.Err()
	}
}
