package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/karloscodes/litepool"
	"github.com/karloscodes/litepool/retry"
	"github.com/karloscodes/litepool/sqlite"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("maint")
	require.NoError(t, err)

	assert.Equal(t, "maint", cfg.AppName)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, filepath.Join("storage", "maint.db"), cfg.DatabasePath)
	assert.DirExists(t, "storage")
	assert.Equal(t, litepool.DefaultMaxSize, cfg.MaxSize)
	assert.Equal(t, 10*time.Second, cfg.BusyTimeout)
	assert.True(t, cfg.RetryEnabled)
	assert.Equal(t, retry.DefaultPolicy().MaxAttempts, cfg.RetryPolicy().MaxAttempts)
	assert.Equal(t, time.Second, cfg.RetryPolicy().BaseDelay)

	pc := cfg.PoolConfig(nil)
	assert.Equal(t, sqlite.DriverCGO, pc.Driver)
	assert.False(t, pc.DisableRetry)
	assert.Equal(t, retry.BackendBuiltin, pc.RetryBackend)

	sc, ok := cfg.SchedulerConfig(nil)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Minute, sc.Interval)
	assert.Equal(t, litepool.CheckpointPassive, sc.Mode)
	assert.False(t, sc.Watch)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	t.Setenv("MAINT_ENV", "development")
	t.Setenv("MAINT_DB_PATH", filepath.Join(dir, "data", "app.db"))
	t.Setenv("MAINT_DRIVER", "modernc")
	t.Setenv("MAINT_POOL_SIZE", "3")
	t.Setenv("MAINT_ACQUIRE_TIMEOUT", "250ms")
	t.Setenv("MAINT_RETRY", "false")
	t.Setenv("MAINT_RETRY_BACKEND", "backoff")
	t.Setenv("MAINT_RETRY_ATTEMPTS", "9")
	t.Setenv("MAINT_RETRY_JITTER", "0.25")
	t.Setenv("MAINT_CHECKPOINT_MODE", "truncate")
	t.Setenv("MAINT_WAL_THRESHOLD", "64MB")
	t.Setenv("MAINT_WATCH_WAL", "true")

	cfg, err := Load("maint")
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.DirExists(t, filepath.Join(dir, "data"))

	pc := cfg.PoolConfig(nil)
	assert.Equal(t, sqlite.DriverPure, pc.Driver)
	assert.Equal(t, 3, pc.MaxSize)
	assert.Equal(t, 250*time.Millisecond, pc.AcquireTimeout)
	assert.True(t, pc.DisableRetry)
	assert.Equal(t, retry.BackendBackoff, pc.RetryBackend)
	assert.Equal(t, 9, pc.Retry.MaxAttempts)
	assert.InDelta(t, 0.25, pc.Retry.Jitter, 1e-9)

	sc, ok := cfg.SchedulerConfig(nil)
	assert.True(t, ok)
	assert.Equal(t, litepool.CheckpointTruncate, sc.Mode)
	assert.Equal(t, int64(64_000_000), sc.WALThreshold)
	assert.True(t, sc.Watch)
}

func TestLoadFile_YAML(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	path := filepath.Join(dir, "litepool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
environment: test
databasepath: db/app.db
maxsize: 2
pragmas:
  - "PRAGMA cache_size = -2000"
checkpointinterval: 0s
walthreshold: 1 MiB
watchwal: true
`), 0o644))

	cfg, err := LoadFile("maint", path)
	require.NoError(t, err)

	assert.True(t, cfg.IsTest())
	assert.Equal(t, 2, cfg.MaxSize)
	assert.Equal(t, []string{"PRAGMA cache_size = -2000"}, cfg.PoolConfig(nil).Pragmas)

	sc, ok := cfg.SchedulerConfig(nil)
	assert.True(t, ok)
	assert.Zero(t, sc.Interval)
	assert.Equal(t, int64(1<<20), sc.WALThreshold)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"environment", "MAINT_ENV", "staging"},
		{"driver", "MAINT_DRIVER", "oracle"},
		{"pool size", "MAINT_POOL_SIZE", "0"},
		{"jitter", "MAINT_RETRY_JITTER", "1.5"},
		{"checkpoint mode", "MAINT_CHECKPOINT_MODE", "sometimes"},
		{"threshold", "MAINT_WAL_THRESHOLD", "lots"},
		{"backend", "MAINT_RETRY_BACKEND", "tenacity"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(tt.key, tt.val)

			_, err := Load("maint")
			assert.Error(t, err)
		})
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile("maint", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	_, err = LoadFile("maint", "")
	assert.Error(t, err)
}
