package sqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormLoggerConfig tunes the gorm logger adapter.
type GormLoggerConfig struct {
	// SlowThreshold marks queries slower than this as warnings. Default: 200ms.
	SlowThreshold time.Duration

	// LogLevel is the gorm log level. Default: logger.Warn.
	LogLevel logger.LogLevel
}

// gormLogger routes gorm output through slog.
type gormLogger struct {
	logger        *slog.Logger
	logLevel      logger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger creates a gorm logger backed by l.
func NewGormLogger(l *slog.Logger, cfg *GormLoggerConfig) logger.Interface {
	gl := &gormLogger{
		logger:        l,
		logLevel:      logger.Warn,
		slowThreshold: 200 * time.Millisecond,
	}
	if cfg != nil {
		if cfg.SlowThreshold > 0 {
			gl.slowThreshold = cfg.SlowThreshold
		}
		if cfg.LogLevel != 0 {
			gl.logLevel = cfg.LogLevel
		}
	}
	return gl
}

func (gl *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *gl
	newLogger.logLevel = level
	return &newLogger
}

func (gl *gormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if gl.logLevel >= logger.Info {
		gl.logger.InfoContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (gl *gormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if gl.logLevel >= logger.Warn {
		gl.logger.WarnContext(ctx, fmt.Sprintf(msg, data...))
	}
}

func (gl *gormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if gl.logLevel >= logger.Error {
		gl.logger.ErrorContext(ctx, fmt.Sprintf(msg, data...))
	}
}

// Trace logs statements with their execution time. Busy errors are
// logged at debug level because the retry layer above decides whether
// they matter.
func (gl *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if gl.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	attrs := []any{
		slog.Float64("duration_ms", float64(elapsed.Nanoseconds())/1e6),
		slog.Int64("rows", rows),
		slog.String("sql", sql),
	}

	switch {
	case err != nil && IsBusyError(classify("trace", err)):
		gl.logger.DebugContext(ctx, "statement hit lock contention", append(attrs, slog.Any("error", err))...)
	case err != nil && gl.logLevel >= logger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		gl.logger.ErrorContext(ctx, "statement failed", append(attrs, slog.Any("error", err))...)
	case elapsed > gl.slowThreshold && gl.logLevel >= logger.Warn:
		gl.logger.WarnContext(ctx, "slow statement", attrs...)
	case gl.logLevel >= logger.Info:
		gl.logger.DebugContext(ctx, "statement executed", attrs...)
	}
}
