// Package retry runs operations that can fail on transient lock
// contention, backing off exponentially with jitter between attempts.
package retry

import (
	"errors"
	"fmt"
	"time"
)

// DefaultMaxDelay caps a single backoff sleep.
const DefaultMaxDelay = 60 * time.Second

// Classifier decides whether an error is worth another attempt.
type Classifier func(error) bool

// Transient is the default classifier. It retries only errors that
// report themselves as retryable through a Retryable() bool method
// anywhere in their chain, which the sqlite package does for busy and
// locked results.
func Transient(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}

// Policy describes how many times to try and how long to wait between
// attempts. A Policy is a plain value and is safe to share.
//
// The delay before attempt n+1 is min(BaseDelay·2^(n-1), MaxDelay)
// multiplied by a factor drawn uniformly from [1-Jitter, 1+Jitter).
// The cap applies before jitter, so a slept delay can exceed MaxDelay
// by at most MaxDelay·Jitter.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// BaseDelay is the wait after the first failure.
	BaseDelay time.Duration

	// MaxDelay caps the un-jittered wait. Default: 60s.
	MaxDelay time.Duration

	// Jitter is the relative spread applied to each wait, in [0, 1).
	Jitter float64

	// Classifier picks retryable errors. Default: Transient.
	Classifier Classifier
}

// DefaultPolicy mirrors the pool defaults: six attempts starting at one
// second with 10% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 6,
		BaseDelay:   time.Second,
		MaxDelay:    DefaultMaxDelay,
		Jitter:      0.1,
		Classifier:  Transient,
	}
}

// WithDefaults fills zero fields. MaxAttempts and BaseDelay are left
// alone so Validate can reject them.
func (p Policy) WithDefaults() Policy {
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.Classifier == nil {
		p.Classifier = Transient
	}
	return p
}

// Validate reports the first invalid field.
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return fmt.Errorf("retry: MaxAttempts must be at least 1, got %d", p.MaxAttempts)
	case p.BaseDelay < 0:
		return fmt.Errorf("retry: BaseDelay must not be negative, got %s", p.BaseDelay)
	case p.MaxDelay < p.BaseDelay:
		return fmt.Errorf("retry: MaxDelay %s is below BaseDelay %s", p.MaxDelay, p.BaseDelay)
	case p.Jitter < 0 || p.Jitter >= 1:
		return fmt.Errorf("retry: Jitter must be in [0, 1), got %g", p.Jitter)
	}
	return nil
}

// Delay returns the un-jittered wait after the given failed attempt
// (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Jittered scales Delay(attempt) by 1-Jitter+2·Jitter·u, with u in [0, 1).
func (p Policy) Jittered(attempt int, u float64) time.Duration {
	d := float64(p.Delay(attempt))
	return time.Duration(d * (1 - p.Jitter + 2*p.Jitter*u))
}

// Retryable applies the classifier.
func (p Policy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if p.Classifier == nil {
		return Transient(err)
	}
	return p.Classifier(err)
}
