// Package logging builds the slog loggers used by litepool tools.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Environment names.
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// Options configures the logger.
type Options struct {
	// Environment selects the output format. Development and test log
	// colored text to Stdout; anything else logs JSON to Stdout and a
	// rotating file.
	Environment string

	// Level is the minimum level. Defaults to info in development and
	// test, error otherwise. LOG_LEVEL overrides it.
	Level string

	// Directory for log files in production. Defaults to "logs".
	Directory string

	// Rotation limits. Default to 100MB, 3 backups and 28 days.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// AppName names the log file. Defaults to "litepool".
	AppName string

	// Stdout replaces os.Stdout.
	Stdout io.Writer
}

func (o Options) isDev() bool {
	return o.Environment == Development || o.Environment == Test
}

// New returns a logger for opts.
//
// Development and test:
//   - colored text to stdout
//   - default level info
//
// Production:
//   - JSON to stdout and a lumberjack-rotated file
//   - default level error
func New(opts Options) *slog.Logger {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	level := ResolveLevel(opts.Level, opts.isDev())

	if opts.isDev() {
		return newDevLogger(opts.Stdout, level)
	}
	return newProdLogger(opts.Stdout, level, opts)
}

// ResolveLevel picks the level from LOG_LEVEL, then configured, then
// the environment default.
func ResolveLevel(configured string, dev bool) slog.Level {
	levelStr := configured
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		levelStr = env
	}
	if levelStr == "" {
		if dev {
			levelStr = "info"
		} else {
			levelStr = "error"
		}
	}

	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newDevLogger(w io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}
	return slog.New(newColorHandler(w, opts))
}

// newProdLogger creates a JSON logger that writes to stdout and file.
func newProdLogger(stdout io.Writer, level slog.Level, o Options) *slog.Logger {
	appName := o.AppName
	if appName == "" {
		appName = "litepool"
	}
	dir := o.Directory
	if dir == "" {
		dir = "logs"
	}
	maxSize := o.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	maxBackups := o.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 3
	}
	maxAge := o.MaxAgeDays
	if maxAge <= 0 {
		maxAge = 28
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		// Fall back to stdout only if we can't create the directory
		return slog.New(slog.NewJSONHandler(stdout, handlerOpts))
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(dir, appName+".log"),
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
		Compress:   true,
	}
	return slog.New(slog.NewJSONHandler(io.MultiWriter(stdout, rotator), handlerOpts))
}

// colorHandler is a colored text handler for development.
type colorHandler struct {
	slog.Handler
	w     io.Writer
	level slog.Level
	attrs []slog.Attr
}

func newColorHandler(w io.Writer, opts *slog.HandlerOptions) *colorHandler {
	level := slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level.Level()
	}
	return &colorHandler{
		Handler: slog.NewTextHandler(w, opts),
		w:       w,
		level:   level,
	}
}

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorGray   = "\033[90m"
)

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var levelColor string
	switch {
	case r.Level >= slog.LevelError:
		levelColor = colorRed
	case r.Level >= slog.LevelWarn:
		levelColor = colorYellow
	case r.Level >= slog.LevelInfo:
		levelColor = colorBlue
	default:
		levelColor = colorGray
	}

	// Format: 15:04:05 LEVEL message key=value...
	var buf strings.Builder
	buf.WriteString(colorGray)
	buf.WriteString(r.Time.Format("15:04:05"))
	buf.WriteString(colorReset)
	buf.WriteString(" ")
	buf.WriteString(levelColor)
	buf.WriteString(r.Level.String())
	buf.WriteString(colorReset)
	buf.WriteString(" ")
	buf.WriteString(r.Message)

	write := func(a slog.Attr) bool {
		buf.WriteString(" ")
		buf.WriteString(colorGray)
		buf.WriteString(a.Key)
		buf.WriteString("=")
		buf.WriteString(colorReset)
		buf.WriteString(a.Value.String())
		return true
	}
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(write)

	buf.WriteString("\n")
	_, err := io.WriteString(h.w, buf.String())
	return err
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &colorHandler{
		Handler: h.Handler.WithAttrs(attrs),
		w:       h.w,
		level:   h.level,
		attrs:   append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	return &colorHandler{
		Handler: h.Handler.WithGroup(name),
		w:       h.w,
		level:   h.level,
		attrs:   h.attrs,
	}
}
