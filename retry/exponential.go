package retry

import "context"

// Exponential is the builtin Retrier.
type Exponential struct {
	policy Policy
	opts   options
}

// NewExponential returns the builtin Retrier. p should already be
// validated; New does that for you.
func NewExponential(p Policy, opts ...Option) *Exponential {
	return &Exponential{policy: p.WithDefaults(), opts: buildOptions(opts)}
}

// Policy returns the policy in effect.
func (e *Exponential) Policy() Policy { return e.policy }

// Do runs op until it succeeds, fails with a non-retryable error, or
// uses up MaxAttempts.
func (e *Exponential) Do(ctx context.Context, op Operation) error {
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !e.policy.Retryable(err) {
			return fatal(attempt, err)
		}
		if attempt >= e.policy.MaxAttempts {
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		delay := e.policy.Jittered(attempt, e.opts.rand())
		e.opts.notify(Attempt{Number: attempt, Delay: delay, Err: err}, e.policy.MaxAttempts)

		if serr := e.opts.sleep(ctx, delay); serr != nil {
			return interrupted(serr, attempt, err)
		}
	}
}
