// Package retry wraps transient-failure-prone calls with capped exponential
// backoff. The exam device runs on venue Wi-Fi; most request failures are
// momentary and resolve within a few seconds.
package retry

import (
	"context"
	"errors"
	"time"
)

// Default policy: 5 attempts with delays of 1s, 2s, 4s, 8s between them.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
)

// Options configures a retry loop. The zero value gets defaults applied.
type Options struct {
	// MaxAttempts is the total number of invocations, including the first.
	MaxAttempts int
	// BaseDelay is the wait after the first failure; it doubles per attempt.
	BaseDelay time.Duration
	// OnRetry, if set, is called before each re-attempt with the 1-based
	// number of the attempt that just failed, the total attempt budget, and
	// the error. Lets callers render "attempt 2 of 5" progress feedback.
	OnRetry func(attempt, maxAttempts int, err error)
	// Sleep replaces the delay function. Tests inject this to avoid real
	// waiting. Nil means a context-aware real sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = DefaultMaxAttempts
	}
	if out.BaseDelay <= 0 {
		out.BaseDelay = DefaultBaseDelay
	}
	if out.Sleep == nil {
		out.Sleep = sleep
	}
	return out
}

// Permanent marks an error as not worth retrying. Do returns it immediately.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }
func (p *Permanent) Unwrap() error { return p.Err }

// Do invokes fn until it succeeds, a permanent error occurs, the context is
// cancelled, or MaxAttempts is exhausted. On exhaustion the error of the
// final attempt is returned unchanged.
func Do[T any](ctx context.Context, opts Options, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	o := opts.withDefaults()

	delay := o.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= o.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var perm *Permanent
		if errors.As(err, &perm) {
			return zero, perm.Err
		}

		if attempt == o.MaxAttempts {
			break
		}

		if o.OnRetry != nil {
			o.OnRetry(attempt, o.MaxAttempts, err)
		}
		if err := o.Sleep(ctx, delay); err != nil {
			return zero, err
		}
		delay *= 2
	}

	return zero, lastErr
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
