package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestConn(t *testing.T, opts Options) *Conn {
	t.Helper()

	if opts.Path == "" {
		opts.Path = filepath.Join(t.TempDir(), "test.db")
	}
	f, err := NewFactory(opts)
	require.NoError(t, err)

	conn, err := f.Open(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestNewFactory(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		f, err := NewFactory(Options{Path: "app.db"})
		require.NoError(t, err)

		assert.Equal(t, DriverCGO, f.opts.Driver)
		assert.Equal(t, 10*time.Second, f.opts.BusyTimeout)
		assert.Equal(t, "NORMAL", f.opts.Synchronous)
		assert.True(t, *f.opts.ForeignKeys)
		assert.True(t, *f.opts.TxImmediate)
	})

	t.Run("rejects empty path", func(t *testing.T) {
		_, err := NewFactory(Options{})
		assert.Error(t, err)
	})

	t.Run("rejects in-memory database", func(t *testing.T) {
		_, err := NewFactory(Options{Path: ":memory:"})
		assert.Error(t, err)
	})

	t.Run("rejects unknown driver", func(t *testing.T) {
		_, err := NewFactory(Options{Path: "app.db", Driver: "postgres"})
		assert.Error(t, err)
	})
}

func TestFactory_Open(t *testing.T) {
	for _, driver := range []Driver{DriverCGO, DriverPure} {
		t.Run(string(driver), func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "wal.db")
			conn := openTestConn(t, Options{Path: path, Driver: driver})
			ctx := context.Background()

			mode, err := conn.JournalMode(ctx)
			require.NoError(t, err)
			assert.Equal(t, "wal", mode)

			var timeout int
			require.NoError(t, conn.Query(ctx, &timeout, "PRAGMA busy_timeout"))
			assert.Equal(t, 10000, timeout)

			var foreignKeys int
			require.NoError(t, conn.Query(ctx, &foreignKeys, "PRAGMA foreign_keys"))
			assert.Equal(t, 1, foreignKeys)

			_, err = conn.Exec(ctx, "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT)")
			require.NoError(t, err)

			_, err = os.Stat(WALPath(path))
			assert.NoError(t, err, "expected -wal sidecar to exist")
		})
	}
}

func TestDriver_DSNEscapesPath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"plain", "/var/lib/app/app.db", "file:/var/lib/app/app.db?_txlock=immediate"},
		{"relative", "data/app.db", "file:data/app.db?_txlock=immediate"},
		{"query and fragment", "/tmp/a?b#c.db", "file:/tmp/a%3Fb%23c.db?_txlock=immediate"},
		{"percent", "/tmp/100%/app.db", "file:/tmp/100%25/app.db?_txlock=immediate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DriverCGO.dsn(tt.path, false, true))
		})
	}

	assert.Equal(t, "file:/tmp/a%3F.db?mode=ro", DriverPure.dsn("/tmp/a?.db", true, true))
	assert.Equal(t, "file:/tmp/app.db", DriverPure.dsn("/tmp/app.db", false, false))
}

func TestFactory_OpenPathWithURIMetacharacters(t *testing.T) {
	for _, driver := range []Driver{DriverCGO, DriverPure} {
		t.Run(string(driver), func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "odd?dir#50%")
			require.NoError(t, os.Mkdir(dir, 0o755))
			path := filepath.Join(dir, "we?ird#1%.db")

			conn := openTestConn(t, Options{Path: path, Driver: driver})
			_, err := conn.Exec(context.Background(), "CREATE TABLE items (id INTEGER PRIMARY KEY)")
			require.NoError(t, err)

			_, err = os.Stat(path)
			assert.NoError(t, err, "database created at a different path")
			_, err = os.Stat(WALPath(path))
			assert.NoError(t, err)
		})
	}
}

func TestFactory_OpenAppliesCallerPragmasAndHook(t *testing.T) {
	var hooked bool
	conn := openTestConn(t, Options{
		Pragmas: []string{"PRAGMA cache_size = -4096"},
		OnConnect: func(db *gorm.DB) error {
			hooked = true
			return db.Exec("CREATE TABLE IF NOT EXISTS warm (id INTEGER)").Error
		},
	})

	assert.True(t, hooked)

	var cacheSize int
	require.NoError(t, conn.Query(context.Background(), &cacheSize, "PRAGMA cache_size"))
	assert.Equal(t, -4096, cacheSize)
}

func TestFactory_OpenFailsForUnwritableDirectory(t *testing.T) {
	f, err := NewFactory(Options{Path: filepath.Join(t.TempDir(), "missing", "dir", "x.db")})
	require.NoError(t, err)

	_, err = f.Open(context.Background())
	require.Error(t, err)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.False(t, IsBusyError(err))
}

func TestFactory_OpenFailsOnBadPragma(t *testing.T) {
	f, err := NewFactory(Options{
		Path:    filepath.Join(t.TempDir(), "x.db"),
		Pragmas: []string{"THIS IS NOT SQL"},
	})
	require.NoError(t, err)

	_, err = f.Open(context.Background())
	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "THIS IS NOT SQL", connErr.Step)
}

func TestConn_Close(t *testing.T) {
	conn := openTestConn(t, Options{})

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close(), "second close should be a no-op")

	err := conn.Ping(context.Background())
	assert.Error(t, err)
	assert.True(t, IsBadConn(err))
}
