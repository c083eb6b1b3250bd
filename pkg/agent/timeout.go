package agent

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout marks a model call that exceeded its per-call deadline. It is
// distinguishable from ordinary backend failures via errors.Is.
var ErrTimeout = errors.New("model call timed out")

// callWithTimeout races fn against the deadline. On timeout the wrapper stops
// waiting and abandons the call; the deadline is propagated through the
// context, but interrupting the underlying work is the backend's concern.
// A zero or negative timeout disables the deadline. No retry is performed.
func callWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) (*Response, error)) (*Response, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		response *Response
		err      error
	}
	done := make(chan outcome, 1)

	go func() {
		response, err := fn(callCtx)
		done <- outcome{response, err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %v", ErrTimeout, timeout)
		}
		return out.response, out.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			// Caller-side cancellation, not a deadline.
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
}
