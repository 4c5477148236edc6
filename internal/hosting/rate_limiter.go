package hosting

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RateLimiter paces hosting API calls across all workers.
type RateLimiter interface {
	Wait(ctx context.Context) error
	UpdateLimit(remaining int, resetTime time.Time)
}

// LimiterOptions tunes a rate limiter.
type LimiterOptions struct {
	// MinDelay is the minimum spacing between calls.
	MinDelay time.Duration
	// Reserve is the remaining-call count below which calls wait for reset.
	Reserve int
	// MaxWait caps how long a call may wait for reset before failing with
	// ErrRateLimited.
	MaxWait time.Duration
}

// DefaultLimiterOptions suit the GitHub REST API.
var DefaultLimiterOptions = LimiterOptions{
	MinDelay: 100 * time.Millisecond,
	Reserve:  10,
	MaxWait:  2 * time.Minute,
}

type githubRateLimiter struct {
	mu        sync.Mutex
	opts      LimiterOptions
	remaining int
	resetTime time.Time
	lastCall  time.Time
	now       func() time.Time
}

// NewRateLimiter creates a rate limiter shared by every caller of a client.
func NewRateLimiter(opts LimiterOptions) RateLimiter {
	return &githubRateLimiter{
		opts:      opts,
		remaining: 5000,
		resetTime: time.Now().Add(time.Hour),
		now:       time.Now,
	}
}

// Wait blocks until another call may be made. When the budget is exhausted
// and the reset is further away than MaxWait it fails fast with
// ErrRateLimited instead of stalling the run.
func (r *githubRateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Other callers and UpdateLimit may run while the lock is released in
	// sleep, so every check is repeated after waking.
	for {
		now := r.now()

		if r.remaining <= r.opts.Reserve {
			wait := r.resetTime.Sub(now)
			if wait <= 0 {
				r.remaining = 5000
				r.resetTime = now.Add(time.Hour)
				continue
			}
			if wait > r.opts.MaxWait {
				return ErrRateLimited
			}
			slog.Info("rate limit low, waiting for reset", "remaining", r.remaining, "wait", wait.Round(time.Second))
			if err := r.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if elapsed := now.Sub(r.lastCall); elapsed < r.opts.MinDelay {
			if err := r.sleep(ctx, r.opts.MinDelay-elapsed); err != nil {
				return err
			}
			continue
		}

		r.lastCall = now
		r.remaining--
		return nil
	}
}

// sleep waits with the lock released. Callers hold r.mu.
func (r *githubRateLimiter) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Unlock()
	defer r.mu.Lock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// UpdateLimit records the budget reported by the API.
func (r *githubRateLimiter) UpdateLimit(remaining int, resetTime time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = remaining
	r.resetTime = resetTime
}
