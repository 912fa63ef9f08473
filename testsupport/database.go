// Package testsupport opens throwaway pools for tests of code built on
// litepool.
package testsupport

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/karloscodes/litepool"
	"github.com/karloscodes/litepool/retry"
	"github.com/karloscodes/litepool/sqlite"
)

// TestPoolOptions configures test pool creation.
type TestPoolOptions struct {
	// Models to auto-migrate
	Models []any

	// MaxSize of the pool. Default: 2.
	MaxSize int

	// Driver defaults to the cgo driver.
	Driver sqlite.Driver

	// Enable pool and SQL logging to stderr (default: silent)
	Verbose bool
}

// FastRetry is a retry policy with millisecond delays, so contention in
// tests resolves quickly.
func FastRetry() retry.Policy {
	return retry.Policy{
		MaxAttempts: 10,
		BaseDelay:   time.Millisecond,
		MaxDelay:    20 * time.Millisecond,
		Jitter:      0.1,
	}
}

// NewPool opens a pool on a fresh database file in t.TempDir and
// migrates the given models. The pool is closed when the test ends.
func NewPool(t testing.TB, opts ...TestPoolOptions) *litepool.Pool {
	t.Helper()

	var options TestPoolOptions
	if len(opts) > 0 {
		options = opts[0]
	}
	if options.MaxSize == 0 {
		options.MaxSize = 2
	}

	logger := NewTestLogger()
	if options.Verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	pool, err := litepool.New(litepool.Config{
		Path:             filepath.Join(t.TempDir(), "test.db"),
		MaxSize:          options.MaxSize,
		Driver:           options.Driver,
		Retry:            FastRetry(),
		CloseGracePeriod: time.Second,
		Logger:           logger,
	})
	if err != nil {
		t.Fatalf("testsupport: failed to create pool: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	if len(options.Models) > 0 {
		err := pool.With(context.Background(), func(c *litepool.Conn) error {
			return c.DB().AutoMigrate(options.Models...)
		})
		if err != nil {
			t.Fatalf("testsupport: failed to migrate models: %v", err)
		}
	}
	return pool
}

// NewTestLogger creates a slog.Logger that discards all output.
func NewTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
