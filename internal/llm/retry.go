package llm

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

type RetryPolicy struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		BaseDelay:         1 * time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// OnRetryFunc observes each retry before the backoff sleep.
type OnRetryFunc func(err error, attempt int, delay time.Duration)

func defaultSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// policy's retry budget is spent. Provider Retry-After hints win over the
// computed backoff when they fit under MaxDelay.
func Retry[T any](ctx context.Context, policy RetryPolicy, sleep SleepFunc, onRetry OnRetryFunc, fn func() (T, error)) (T, error) {
	if sleep == nil {
		sleep = defaultSleep
	}
	var zero T
	for attempt := 0; ; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		var le Error
		if !errors.As(err, &le) || !le.Retryable() || attempt >= policy.MaxRetries {
			return zero, err
		}
		delay := policy.delay(attempt)
		if ra := le.RetryAfter(); ra != nil {
			if policy.MaxDelay > 0 && *ra > policy.MaxDelay {
				return zero, err
			}
			delay = *ra
		}
		if onRetry != nil {
			onRetry(err, attempt+1, delay)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return zero, serr
		}
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	mult := p.BackoffMultiplier
	if mult <= 0 {
		mult = 2.0
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d = d * (0.5 + rand.Float64())
	}
	return time.Duration(d)
}
