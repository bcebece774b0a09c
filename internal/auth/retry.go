package auth

import (
	"context"
	"time"
)

// retryOnce runs fn and, if it fails with KindServiceUnavailable, runs it once
// more after backoff. Other failures are returned immediately.
func retryOnce[T any](ctx context.Context, backoff time.Duration, fn func(context.Context) (T, error)) (T, error) {
	v, err := fn(ctx)
	if err == nil || !IsKind(err, KindServiceUnavailable) {
		return v, err
	}

	timer := time.NewTimer(backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ErrServiceUnavailable("retry aborted", ctx.Err())
	case <-timer.C:
	}

	return fn(ctx)
}
