package collector

import (
	"context"
	"math/rand"
	"time"

	"github.com/qepting91/trendit/internal/domain"
)

// Retry wraps network calls with exponential backoff and jitter. Only
// transient failures are retried; client and auth errors return immediately.
type Retry struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetry retries three times: ~1s, ~2s, ~4s plus jitter.
var DefaultRetry = Retry{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}

// Do runs fn until it succeeds, fails non-transiently, or attempts run out.
func (r Retry) Do(ctx context.Context, fn func() error) error {
	var err error
	delay := r.BaseDelay
	for attempt := 0; attempt < r.MaxAttempts; attempt++ {
		if attempt > 0 {
			jittered := delay + time.Duration(rand.Int63n(int64(delay)/2+1))
			select {
			case <-time.After(jittered):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
			if delay > r.MaxDelay {
				delay = r.MaxDelay
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if domain.FetchKindOf(err) != domain.FetchTransient {
			return err
		}
	}
	return err
}
