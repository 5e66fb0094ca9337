package client

import (
	"context"
	"sync/atomic"
)

type countingLimiter struct {
	calls atomic.Int64
}

func (l *countingLimiter) Acquire(ctx context.Context) error {
	l.calls.Add(1)
	return ctx.Err()
}
