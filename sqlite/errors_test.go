package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		{"locked", sqlite3.Error{Code: sqlite3.ErrLocked}, true},
		{"wrapped busy", fmt.Errorf("insert: %w", sqlite3.Error{Code: sqlite3.ErrBusy}), true},
		{"constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{"io error", sqlite3.Error{Code: sqlite3.ErrIoErr}, false},
		{"message only", errors.New("database is locked"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("exec", tt.err)
			assert.Equal(t, tt.retryable, IsBusyError(err))
			assert.Equal(t, tt.retryable, errors.Is(err, ErrTransientLock))
		})
	}
}

func TestClassify_PassesThroughNilAndTagged(t *testing.T) {
	assert.NoError(t, classify("exec", nil))

	tagged := &Error{Op: "exec", Code: CodeBusy, Err: errors.New("busy")}
	assert.Same(t, tagged, classify("query", tagged))
}

func TestError_Retryable(t *testing.T) {
	assert.True(t, (&Error{Code: CodeBusy}).Retryable())
	assert.True(t, (&Error{Code: CodeLocked}).Retryable())
	assert.False(t, (&Error{Code: CodeIOErr}).Retryable())
}

func TestConnectionError_KeepsEngineClassification(t *testing.T) {
	err := &ConnectionError{
		Path: "x.db",
		Step: "journal_mode",
		Err:  &Error{Op: "journal_mode", Code: CodeBusy, Err: errors.New("database is locked")},
	}
	assert.True(t, IsBusyError(err))
	assert.Contains(t, err.Error(), "journal_mode")
}

func TestIsBadConn(t *testing.T) {
	assert.True(t, IsBadConn(driver.ErrBadConn))
	assert.True(t, IsBadConn(fmt.Errorf("exec: %w", sql.ErrConnDone)))
	assert.False(t, IsBadConn(errors.New("other")))
}

// TestRealContention checks that both drivers report a held write lock
// as a retryable error.
func TestRealContention(t *testing.T) {
	for _, drv := range []Driver{DriverCGO, DriverPure} {
		t.Run(string(drv), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "busy.db")
			ctx := context.Background()

			holder := openTestConn(t, Options{Path: path, Driver: drv})
			_, err := holder.Exec(ctx, "CREATE TABLE t (v INTEGER)")
			require.NoError(t, err)

			waiter := openTestConn(t, Options{Path: path, Driver: drv, BusyTimeout: time.Millisecond})

			require.NoError(t, holder.ExecScript(ctx, "BEGIN IMMEDIATE"))
			_, err = waiter.Exec(ctx, "INSERT INTO t (v) VALUES (1)")
			require.NoError(t, holder.ExecScript(ctx, "ROLLBACK"))

			require.Error(t, err)
			assert.True(t, IsBusyError(err), "got %v", err)

			var tagged *Error
			require.ErrorAs(t, err, &tagged)
			assert.Equal(t, CodeBusy, tagged.Code)
		})
	}
}
