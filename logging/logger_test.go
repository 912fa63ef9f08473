package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	assert.Equal(t, slog.LevelInfo, ResolveLevel("", true))
	assert.Equal(t, slog.LevelError, ResolveLevel("", false))
	assert.Equal(t, slog.LevelWarn, ResolveLevel("warning", false))
	assert.Equal(t, slog.LevelDebug, ResolveLevel("DEBUG", false))
	assert.Equal(t, slog.LevelInfo, ResolveLevel("chatty", false))

	t.Setenv("LOG_LEVEL", "debug")
	assert.Equal(t, slog.LevelDebug, ResolveLevel("error", false))
}

func TestNew_Development(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	var buf bytes.Buffer

	logger := New(Options{Environment: Development, Stdout: &buf})
	logger.Debug("hidden")
	logger.With("db", "app.db").Warn("checkpoint partial", "busy", 3)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "checkpoint partial")
	assert.Contains(t, out, colorYellow)
	assert.Contains(t, out, "db="+colorReset+"app.db")
	assert.Contains(t, out, "busy="+colorReset+"3")
}

func TestNew_Production(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	dir := t.TempDir()
	var buf bytes.Buffer

	logger := New(Options{
		Environment: Production,
		Level:       "info",
		Directory:   dir,
		AppName:     "maint",
		Stdout:      &buf,
	})
	logger.Info("pool closed", "count", 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
	assert.Equal(t, "pool closed", entry["msg"])
	assert.Equal(t, float64(2), entry["count"])

	data, err := os.ReadFile(filepath.Join(dir, "maint.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "pool closed")
}
