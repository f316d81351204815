// Package ratelimit holds the process-wide request budget for the Reddit API.
//
// One Budget is created at startup and shared by every running collection
// job. There is no per-job sub-budget: a job issuing many requests can starve
// the others, which is acceptable for a single-operator deployment.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DefaultPerMinute matches Reddit's documented limit of 60 requests/minute.
const DefaultPerMinute = 60

// Budget is a token bucket: capacity tokens, one replenished every
// interval/capacity. Acquire blocks until a token is available and only
// fails when the context is cancelled.
type Budget struct {
	limiter *rate.Limiter
}

// NewBudget builds a bucket allowing perMinute requests per minute.
// Values <= 0 fall back to DefaultPerMinute.
func NewBudget(perMinute int) *Budget {
	if perMinute <= 0 {
		perMinute = DefaultPerMinute
	}
	return &Budget{
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

// Acquire blocks the caller until a token is available. Waiters are served
// roughly in arrival order by the underlying limiter.
func (b *Budget) Acquire(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// Allow reports whether a token is immediately available, consuming it if so.
// Used by tests and the dashboard's health view; the pipeline always blocks.
func (b *Budget) Allow() bool {
	return b.limiter.Allow()
}
