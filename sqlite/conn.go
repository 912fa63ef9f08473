package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"gorm.io/gorm"
)

// Conn is one open SQLite handle. It is not safe for concurrent use;
// the pool hands each Conn to exactly one owner at a time.
type Conn struct {
	db    *gorm.DB
	raw   *sql.Conn
	sqlDB *sql.DB
	path  string

	closeOnce sync.Once
	closeErr  error
}

// Path returns the database file this handle is bound to.
func (c *Conn) Path() string { return c.path }

// DB returns the gorm handle pinned to this connection. Errors returned
// through it are not classified.
func (c *Conn) DB() *gorm.DB { return c.db }

// Exec runs a statement and returns the number of affected rows.
func (c *Conn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	result := c.db.WithContext(ctx).Exec(query, args...)
	if result.Error != nil {
		return 0, classify("exec", result.Error)
	}
	return result.RowsAffected, nil
}

// ExecScript runs several semicolon separated statements. Statements
// before a failing one stay applied unless the script manages its own
// transaction.
func (c *Conn) ExecScript(ctx context.Context, script string) error {
	if _, err := c.raw.ExecContext(ctx, script); err != nil {
		return classify("exec script", err)
	}
	return nil
}

// ExecMany runs query once per argument set inside one transaction, so
// a failed batch leaves nothing behind and can be retried as a whole.
func (c *Conn) ExecMany(ctx context.Context, query string, argSets [][]any) (int64, error) {
	var total int64
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		total = 0
		for _, args := range argSets {
			result := tx.Exec(query, args...)
			if result.Error != nil {
				return result.Error
			}
			total += result.RowsAffected
		}
		return nil
	})
	if err != nil {
		return 0, classify("exec many", err)
	}
	return total, nil
}

// Query runs a statement and scans the rows into dest, which may be a
// pointer to a struct, slice, map or primitive.
func (c *Conn) Query(ctx context.Context, dest any, query string, args ...any) error {
	if err := c.db.WithContext(ctx).Raw(query, args...).Scan(dest).Error; err != nil {
		return classify("query", err)
	}
	return nil
}

// Transaction runs fn inside BEGIN/COMMIT on this connection and rolls
// back if fn returns an error or panics.
func (c *Conn) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if err := c.db.WithContext(ctx).Transaction(fn); err != nil {
		return classify("transaction", err)
	}
	return nil
}

// Ping runs a trivial query to confirm the handle still works.
func (c *Conn) Ping(ctx context.Context) error {
	var one int
	if err := c.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		return classify("ping", err)
	}
	if one != 1 {
		return fmt.Errorf("sqlite: ping: unexpected result %d", one)
	}
	return nil
}

// JournalMode returns the current journal mode in lower case.
func (c *Conn) JournalMode(ctx context.Context) (string, error) {
	var mode string
	if err := c.db.WithContext(ctx).Raw("PRAGMA journal_mode").Scan(&mode).Error; err != nil {
		return "", classify("journal_mode", err)
	}
	return strings.ToLower(mode), nil
}

func (c *Conn) setJournalMode(ctx context.Context, mode string) (string, error) {
	var current string
	if err := c.db.WithContext(ctx).Raw("PRAGMA journal_mode = " + mode).Scan(&current).Error; err != nil {
		return "", classify("journal_mode", err)
	}
	return strings.ToLower(current), nil
}

// Checkpoint runs PRAGMA wal_checkpoint in the given mode and returns
// the engine's report unchanged.
func (c *Conn) Checkpoint(ctx context.Context, mode CheckpointMode) (CheckpointResult, error) {
	if !mode.Valid() {
		return CheckpointResult{}, fmt.Errorf("sqlite: invalid checkpoint mode %q", mode)
	}

	var result CheckpointResult
	row := c.db.WithContext(ctx).Raw("PRAGMA wal_checkpoint(" + string(mode) + ")").Row()
	if err := row.Scan(&result.Busy, &result.Log, &result.Checkpointed); err != nil {
		return CheckpointResult{}, classify("checkpoint", err)
	}
	return result, nil
}

// Close closes the handle. Only the first call does any work; later
// calls return the first result.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if err := c.raw.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			errs = append(errs, err)
		}
		if err := c.sqlDB.Close(); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			c.closeErr = fmt.Errorf("sqlite: close %s: %w", c.path, errors.Join(errs...))
		}
	})
	return c.closeErr
}
