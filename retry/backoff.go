package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Backoff is a Retrier built on cenkalti/backoff. It keeps the same
// attempt count, doubling, cap and multiplicative jitter as Exponential.
type Backoff struct {
	policy Policy
	opts   options
}

// NewBackoff returns the cenkalti/backoff Retrier.
func NewBackoff(p Policy, opts ...Option) *Backoff {
	return &Backoff{policy: p.WithDefaults(), opts: buildOptions(opts)}
}

// Policy returns the policy in effect.
func (b *Backoff) Policy() Policy { return b.policy }

func (b *Backoff) Do(ctx context.Context, op Operation) error {
	schedule := &backoff.ExponentialBackOff{
		InitialInterval:     b.policy.BaseDelay,
		RandomizationFactor: b.policy.Jitter,
		Multiplier:          2,
		MaxInterval:         b.policy.MaxDelay,
	}
	schedule.Reset()

	var (
		attempts int
		lastErr  error
	)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := op(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		lastErr = err
		if !b.policy.Retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(schedule),
		backoff.WithMaxTries(uint(b.policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			b.opts.notify(Attempt{Number: attempts, Delay: delay, Err: err}, b.policy.MaxAttempts)
		}),
	)
	if err == nil {
		return nil
	}

	switch {
	case lastErr == nil:
		return err
	case !b.policy.Retryable(lastErr):
		return fatal(attempts, lastErr)
	case attempts >= b.policy.MaxAttempts:
		return &ExhaustedError{Attempts: attempts, Err: lastErr}
	default:
		return interrupted(err, attempts, lastErr)
	}
}
