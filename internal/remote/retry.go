package remote

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds the attempts made for one call site.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
}

// DefaultRetryPolicy matches the budget of one provider call: a handful of
// attempts with a short initial delay.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, InitialDelay: time.Second}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultRetryPolicy.InitialDelay
	}
	return p
}

// sleep is swapped out in tests so backoff schedules can be asserted without
// real waiting.
var sleep = sleepContext

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry runs op until it succeeds, fails fatally, or the attempt budget is
// spent. Attempts are strictly sequential; only retryable failures wait, with
// pure exponential backoff (initialDelay << attempt, no jitter).
func Retry(ctx context.Context, policy RetryPolicy, op func(context.Context) error) error {
	policy = policy.normalized()
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, policy.InitialDelay<<(attempt-1)); err != nil {
				return err
			}
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !Retryable(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("retry budget of %d attempts exhausted: %w", policy.MaxAttempts, lastErr)
}

// RetryValue is Retry for operations that produce a result.
func RetryValue[T any](ctx context.Context, policy RetryPolicy, op func(context.Context) (T, error)) (T, error) {
	var out T
	err := Retry(ctx, policy, func(attemptCtx context.Context) error {
		v, opErr := op(attemptCtx)
		if opErr != nil {
			return opErr
		}
		out = v
		return nil
	})
	return out, err
}
