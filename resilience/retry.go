package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/toolmesh/toolmesh/core"
)

// RetryPolicy computes backoff delays for retry attempts.
// Delay(attempt) = min(MaxDelay, BaseDelay * 2^attempt), optionally scaled
// by a random jitter factor so concurrent callers do not retry in lockstep.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     bool

	// Rand supplies jitter randomness in [0.0, 1.0). Injectable so tests
	// can assert randomized behavior without flakiness. Defaults to the
	// shared math/rand source.
	Rand func() float64
}

// DefaultRetryPolicy provides sensible defaults
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Jitter:     true,
	}
}

// Delay returns the backoff delay for the given attempt index (0-based).
// Without jitter the result is fully deterministic and monotonically
// non-decreasing up to MaxDelay. With jitter the clamped delay is scaled
// by a factor in [0.5, 1.5).
func (p *RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if max := float64(p.MaxDelay); p.MaxDelay > 0 && delay > max {
		delay = max
	}
	if p.Jitter {
		random := p.Rand
		if random == nil {
			random = rand.Float64
		}
		delay *= 0.5 + random()
	}
	return time.Duration(delay)
}

// Snapshot returns the policy as a map for diagnostics
func (p *RetryPolicy) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"max_retries": p.MaxRetries,
		"base_delay":  p.BaseDelay.String(),
		"max_delay":   p.MaxDelay.String(),
		"jitter":      p.Jitter,
	}
}

// Retry executes a function with retry logic. The function is attempted up
// to MaxRetries+1 times; between attempts the policy's backoff delay is
// slept with context cancellation honored.
func Retry(ctx context.Context, policy *RetryPolicy, fn func() error) error {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		// Don't sleep after the last attempt
		if attempt == policy.MaxRetries {
			break
		}

		if err := SleepContext(ctx, policy.Delay(attempt)); err != nil {
			return err
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded for %v: %w", policy.MaxRetries+1, lastErr, core.ErrMaxRetriesExceeded)
}

// SleepContext sleeps for the given duration unless the context is
// cancelled first, in which case the context error is returned.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
