package retry

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/spachava753/templatesync/internal/models"
)

// Policy is a bounded exponential backoff.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// FromConfig converts registry retry settings into a Policy.
func FromConfig(cfg models.RetryConfig) Policy {
	return Policy{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: time.Duration(cfg.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.MaxDelayMs) * time.Millisecond,
		Multiplier:   cfg.Multiplier,
	}
}

// Once is a policy with a single retry and no delay.
var Once = Policy{MaxAttempts: 2}

// Delay returns the wait before attempt n (1-based); the first attempt
// never waits.
func (p Policy) Delay(n int) time.Duration {
	if n <= 1 || p.InitialDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(n-2))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Do calls fn until it succeeds, returns an error retryable rejects, or
// MaxAttempts is reached. It returns the number of attempts made and the
// last error. Context cancellation stops retries immediately.
func (p Policy) Do(ctx context.Context, retryable func(error) bool, fn func(ctx context.Context) error) (int, error) {
	attempts := max(p.MaxAttempts, 1)

	var lastErr error
	for n := 1; n <= attempts; n++ {
		if d := p.Delay(n); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return n - 1, ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return n - 1, err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return n, nil
		}
		if ctx.Err() != nil || !retryable(lastErr) {
			return n, lastErr
		}
		if n < attempts {
			slog.Debug("transient failure, retrying", "attempt", n, "max_attempts", attempts, "error", lastErr)
		}
	}
	return attempts, lastErr
}
