package todoist

import (
	"context"
	"sync"
	"time"

	"github.com/taskfuse/taskfuse/internal/appsync"
)

// rateLimiter is a token bucket sized in requests per minute.
// Todoist allows 450 requests per 15 minutes; the default config stays
// well under that.
type rateLimiter struct {
	mu     sync.Mutex
	tokens float64
	max    float64
	rate   float64 // tokens per second
	last   time.Time
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 50
	}
	max := float64(requestsPerMinute)
	return &rateLimiter{
		tokens: max,
		max:    max,
		rate:   max / 60.0,
		last:   time.Now(),
	}
}

// wait blocks until a token is available or the context is cancelled.
func (rl *rateLimiter) wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		now := time.Now()
		rl.tokens += now.Sub(rl.last).Seconds() * rl.rate
		if rl.tokens > rl.max {
			rl.tokens = rl.max
		}
		rl.last = now

		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		need := time.Duration((1 - rl.tokens) / rl.rate * float64(time.Second))
		rl.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(need):
		}
	}
}

// withRetry runs fn with bounded exponential backoff. Only retryable
// errors (network, rate limit) are retried; anything else fails fast.
func withRetry(ctx context.Context, maxRetries int, fn func() error) error {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var err error
	backoff := time.Second
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
		}

		err = fn()
		if err == nil || !appsync.IsRetryable(err) {
			return err
		}
	}
	return err
}
