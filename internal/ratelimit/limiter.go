// Package ratelimit guards outbound provider calls with a token bucket.
package ratelimit

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket with a fixed capacity refilled at a constant
// rate.
type Limiter struct {
	bucket *rate.Limiter
}

// New returns a full bucket holding capacity tokens, refilled at perSecond
// tokens per second.
func New(capacity int, perSecond float64) (*Limiter, error) {
	if capacity <= 0 {
		return nil, errors.New("capacity must be > 0")
	}
	if perSecond <= 0 {
		return nil, errors.New("refill rate must be > 0")
	}
	return &Limiter{bucket: rate.NewLimiter(rate.Limit(perSecond), capacity)}, nil
}

// Acquire blocks until one token is available and consumes it.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.bucket.Wait(ctx)
}
