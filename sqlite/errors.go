package sqlite

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Primary SQLite result codes the pool cares about.
const (
	CodeBusy   = int(sqlite3lib.SQLITE_BUSY)
	CodeLocked = int(sqlite3lib.SQLITE_LOCKED)
	CodeIOErr  = int(sqlite3lib.SQLITE_IOERR)
)

// ErrTransientLock matches any engine error that reports busy or locked
// contention. Use errors.Is against it rather than inspecting messages.
var ErrTransientLock = errors.New("sqlite: database is busy or locked")

// Error is an engine error tagged with its SQLite result code.
type Error struct {
	Op           string
	Code         int
	ExtendedCode int
	Err          error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sqlite: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is writer contention that may
// clear on its own.
func (e *Error) Retryable() bool {
	return e.Code == CodeBusy || e.Code == CodeLocked
}

// Is lets errors.Is(err, ErrTransientLock) match busy and locked errors.
func (e *Error) Is(target error) bool {
	return target == ErrTransientLock && e.Retryable()
}

// ConnectionError reports a connection that could not be opened or
// initialized.
type ConnectionError struct {
	Path string
	Step string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("sqlite: open %s: %s: %v", e.Path, e.Step, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsBusyError reports whether err is busy/locked contention.
func IsBusyError(err error) bool {
	return errors.Is(err, ErrTransientLock)
}

// IsBadConn reports whether err means the handle itself is unusable.
func IsBadConn(err error) bool {
	return errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone)
}

// classify tags driver errors with their result code. Errors that did
// not come from the engine are returned unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return err
	}

	var mattnErr sqlite3.Error
	if errors.As(err, &mattnErr) {
		return &Error{
			Op:           op,
			Code:         int(mattnErr.Code),
			ExtendedCode: int(mattnErr.ExtendedCode),
			Err:          err,
		}
	}

	var moderncErr *msqlite.Error
	if errors.As(err, &moderncErr) {
		return &Error{
			Op:           op,
			Code:         moderncErr.Code() & 0xff,
			ExtendedCode: moderncErr.Code(),
			Err:          err,
		}
	}

	return err
}
