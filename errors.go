package litepool

import (
	"errors"
	"fmt"

	"github.com/karloscodes/litepool/retry"
	"github.com/karloscodes/litepool/sqlite"
)

var (
	// ErrPoolClosed is returned by every operation after Close.
	ErrPoolClosed = errors.New("litepool: pool is closed")

	// ErrPoolTimeout is returned when no connection was freed before the
	// acquire deadline. The pool itself is unaffected.
	ErrPoolTimeout = errors.New("litepool: timed out waiting for a connection")

	// ErrPoolExhausted is returned by TryAcquire when every slot is busy.
	ErrPoolExhausted = errors.New("litepool: no connection available")

	// ErrConnReleased is returned when a Conn is used after Release.
	ErrConnReleased = errors.New("litepool: connection used after release")
)

// Error types surfaced by the pool, re-exported so callers need only
// this package for errors.As.
type (
	// ConnectionError reports a connection that could not be opened or
	// initialized.
	ConnectionError = sqlite.ConnectionError

	// TransientLockError is an engine busy or locked result.
	TransientLockError = sqlite.Error

	// ExhaustedError wraps the last transient error once the retry
	// budget is spent.
	ExhaustedError = retry.ExhaustedError
)

// CheckpointError reports a checkpoint that failed outright. A result
// with Busy > 0 is not an error.
type CheckpointError struct {
	Mode CheckpointMode
	Err  error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("litepool: checkpoint %s: %v", e.Mode, e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }

// IsTransient reports whether err is, or wraps, busy/locked contention.
func IsTransient(err error) bool {
	return errors.Is(err, sqlite.ErrTransientLock)
}
