package contexthelper

import (
	"context"
	"time"
)

// CheckCancellation returns ctx.Err() if the context is already done, nil otherwise.
// Store and network calls use it to bail out before starting work.
func CheckCancellation(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// WithTimeout bounds ctx by d unless ctx already has an earlier deadline.
func WithTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) <= d {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
