package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"
)

// Operation is one attempt of a retried call.
type Operation func(ctx context.Context) error

// Retrier runs an operation under a retry policy.
type Retrier interface {
	Do(ctx context.Context, op Operation) error
}

// Value runs op under r and returns the result of the successful attempt.
func Value[T any](ctx context.Context, r Retrier, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// ExhaustedError is returned when every attempt failed with a retryable
// error. It unwraps to the last error seen.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retry: gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Attempt describes a failed try that is about to be retried.
type Attempt struct {
	Number int
	Delay  time.Duration
	Err    error
}

// Backend names a Retrier implementation.
type Backend string

const (
	BackendBuiltin Backend = "builtin"
	BackendBackoff Backend = "backoff"
)

// ParseBackend accepts the names used in configuration.
func ParseBackend(name string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(name))) {
	case "", BackendBuiltin:
		return BackendBuiltin, nil
	case BackendBackoff:
		return BackendBackoff, nil
	default:
		return "", fmt.Errorf("retry: unknown backend %q", name)
	}
}

// New validates p and returns the Retrier for backend.
func New(backend Backend, p Policy, opts ...Option) (Retrier, error) {
	p = p.WithDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	switch backend {
	case "", BackendBuiltin:
		return NewExponential(p, opts...), nil
	case BackendBackoff:
		return NewBackoff(p, opts...), nil
	default:
		return nil, fmt.Errorf("retry: unknown backend %q", backend)
	}
}

// Disabled returns a Retrier that makes exactly one attempt.
func Disabled() Retrier { return once{} }

type once struct{}

func (once) Do(ctx context.Context, op Operation) error { return op(ctx) }

// Option customizes a Retrier.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	onRetry func(Attempt)
	rand    func() float64
	sleep   func(ctx context.Context, d time.Duration) error
}

// WithLogger logs each retry at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithOnRetry calls fn before each backoff sleep.
func WithOnRetry(fn func(Attempt)) Option {
	return func(o *options) { o.onRetry = fn }
}

// WithRand replaces the jitter source. fn must return values in [0, 1).
// Only the builtin backend uses it.
func WithRand(fn func() float64) Option {
	return func(o *options) { o.rand = fn }
}

// WithSleep replaces the backoff sleep. Only the builtin backend uses it.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = fn }
}

func buildOptions(opts []Option) options {
	o := options{
		logger: slog.New(slog.DiscardHandler),
		rand:   rand.Float64,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) notify(a Attempt, maxAttempts int) {
	o.logger.Debug("database locked, retrying",
		slog.Int("attempt", a.Number),
		slog.Int("max_attempts", maxAttempts),
		slog.Duration("delay", a.Delay),
		slog.Any("error", a.Err),
	)
	if o.onRetry != nil {
		o.onRetry(a)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// fatal wraps a non-retryable error with the attempt it happened on,
// leaving first-attempt errors untouched.
func fatal(attempt int, err error) error {
	if attempt == 1 {
		return err
	}
	return fmt.Errorf("retry: attempt %d: %w", attempt, err)
}

func interrupted(cause error, attempts int, last error) error {
	return fmt.Errorf("retry: %w after %d attempts: %w", cause, attempts, last)
}
