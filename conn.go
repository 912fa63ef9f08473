package litepool

import (
	"context"
	"sync/atomic"

	"gorm.io/gorm"

	"github.com/karloscodes/litepool/retry"
	"github.com/karloscodes/litepool/sqlite"
)

// Conn is a connection borrowed from a Pool. Statements run through it
// are retried on busy and locked errors under the pool's policy. A Conn
// belongs to one goroutine until Release.
type Conn struct {
	pool     *Pool
	slot     *slot
	released atomic.Bool
	broken   atomic.Bool
}

func newConn(p *Pool, s *slot) *Conn {
	return &Conn{pool: p, slot: s}
}

// Exec runs a statement with retry and returns the affected row count.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return value(ctx, c, func(ctx context.Context, sc *sqlite.Conn) (int64, error) {
		return sc.Exec(ctx, query, args...)
	})
}

// ExecScript runs a multi-statement script with retry. A script that
// fails part way is not rolled back unless it manages its own
// transaction.
func (c *Conn) ExecScript(ctx context.Context, script string) error {
	return c.do(ctx, func(ctx context.Context, sc *sqlite.Conn) error {
		return sc.ExecScript(ctx, script)
	})
}

// ExecMany runs query once per argument set, all in one transaction, and
// retries the whole batch.
func (c *Conn) ExecMany(ctx context.Context, query string, argSets [][]any) (int64, error) {
	return value(ctx, c, func(ctx context.Context, sc *sqlite.Conn) (int64, error) {
		return sc.ExecMany(ctx, query, argSets)
	})
}

// Query scans the rows of a read into dest with retry.
func (c *Conn) Query(ctx context.Context, dest any, query string, args ...any) error {
	return c.do(ctx, func(ctx context.Context, sc *sqlite.Conn) error {
		return sc.Query(ctx, dest, query, args...)
	})
}

// Transaction runs fn in a transaction and retries the whole
// transaction on busy or locked errors, so fn must be safe to run more
// than once.
func (c *Conn) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.do(ctx, func(ctx context.Context, sc *sqlite.Conn) error {
		return sc.Transaction(ctx, fn)
	})
}

// Checkpoint runs one WAL checkpoint on this connection without retry.
func (c *Conn) Checkpoint(ctx context.Context, mode CheckpointMode) (CheckpointResult, error) {
	sc, err := c.raw()
	if err != nil {
		return CheckpointResult{}, err
	}
	res, err := sc.Checkpoint(ctx, mode)
	c.observe(err)
	return res, err
}

// DB returns the gorm handle pinned to this connection. Calls made
// through it are not retried.
func (c *Conn) DB() *gorm.DB {
	if c.released.Load() {
		return nil
	}
	return c.slot.conn.DB()
}

// MarkBroken tells the pool to discard this connection on release
// instead of reusing it.
func (c *Conn) MarkBroken() { c.broken.Store(true) }

// Broken reports whether the connection will be discarded on release.
func (c *Conn) Broken() bool { return c.broken.Load() }

// Release returns the connection to its pool. Calls after the first are
// no-ops.
func (c *Conn) Release() {
	if !c.released.CompareAndSwap(false, true) {
		return
	}
	c.pool.release(c.slot, c.broken.Load())
}

func (c *Conn) raw() (*sqlite.Conn, error) {
	if c.released.Load() {
		return nil, ErrConnReleased
	}
	return c.slot.conn, nil
}

// observe marks the connection broken when err says the handle is
// unusable.
func (c *Conn) observe(err error) {
	if err != nil && sqlite.IsBadConn(err) {
		c.broken.Store(true)
	}
}

func (c *Conn) do(ctx context.Context, op func(ctx context.Context, sc *sqlite.Conn) error) error {
	_, err := value(ctx, c, func(ctx context.Context, sc *sqlite.Conn) (struct{}, error) {
		return struct{}{}, op(ctx, sc)
	})
	return err
}

func value[T any](ctx context.Context, c *Conn, op func(ctx context.Context, sc *sqlite.Conn) (T, error)) (T, error) {
	sc, err := c.raw()
	if err != nil {
		var zero T
		return zero, err
	}
	v, err := retry.Value(ctx, c.pool.retrier, func(ctx context.Context) (T, error) {
		return op(ctx, sc)
	})
	c.observe(err)
	return v, err
}
