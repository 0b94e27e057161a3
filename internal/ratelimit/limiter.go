// Package ratelimit gates every outbound HTTP request behind a shared token
// bucket. It is the only synchronization point between concurrent archive
// workers: however many goroutines are in flight, the aggregate request rate
// stays within what web.archive.org and the origin site tolerate.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket with continuous refill: one token regenerates
// every interval, up to burst tokens banked.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a Limiter that allows burst immediate requests and then one
// request per interval. A burst below 1 is clamped to 1.
func New(interval time.Duration, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiter: rate.NewLimiter(rate.Every(interval), burst),
	}
}

// Acquire blocks until a token is available or ctx is cancelled. It never
// fails on its own; the only error is the context's.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}

// Interval returns the time to regenerate one token.
func (l *Limiter) Interval() time.Duration {
	limit := l.limiter.Limit()
	if limit <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(limit))
}
