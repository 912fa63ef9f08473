package litepool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/karloscodes/litepool/retry"
	"github.com/karloscodes/litepool/sqlite"
)

// Defaults applied by New.
const (
	DefaultMaxSize          = 5
	DefaultCloseGracePeriod = 5 * time.Second
)

// Opener creates new underlying connections. *sqlite.Factory is the
// standard implementation; tests substitute their own.
type Opener interface {
	Open(ctx context.Context) (*sqlite.Conn, error)
}

// Config configures a Pool. Path is required; everything else has a
// default.
type Config struct {
	// Path is the database file every connection is bound to.
	Path string

	// MaxSize is the most connections that may be open at once. Default: 5.
	MaxSize int

	// AcquireTimeout bounds Acquire when the caller's context carries no
	// deadline. Zero waits as long as the context allows.
	AcquireTimeout time.Duration

	// DisableRetry turns off the retry layer: every operation gets one
	// attempt.
	DisableRetry bool

	// Retry is the retry policy. A zero Policy means retry.DefaultPolicy().
	Retry retry.Policy

	// RetryBackend selects the Retrier. Default: retry.BackendBuiltin.
	RetryBackend retry.Backend

	// CloseGracePeriod is how long Close waits for borrowed connections
	// before closing them anyway. Default: 5s. Negative closes at once.
	CloseGracePeriod time.Duration

	// Driver, BusyTimeout, Pragmas, ReadOnly and OnConnect configure the
	// default connection factory. They are ignored when Opener is set.
	Driver      sqlite.Driver
	BusyTimeout time.Duration
	Pragmas     []string
	ReadOnly    bool
	OnConnect   func(db *gorm.DB) error

	// Opener overrides the default connection factory.
	Opener Opener

	// Logger receives pool lifecycle messages. Default: discard.
	Logger *slog.Logger

	// TracerProvider and MeterProvider default to the otel globals.
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
}

func (c Config) withDefaults() (Config, error) {
	if strings.TrimSpace(c.Path) == "" {
		return c, fmt.Errorf("litepool: Path is required")
	}
	if c.MaxSize == 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.MaxSize < 1 {
		return c, fmt.Errorf("litepool: MaxSize must be at least 1, got %d", c.MaxSize)
	}
	if c.AcquireTimeout < 0 {
		return c, fmt.Errorf("litepool: AcquireTimeout must not be negative")
	}
	if c.CloseGracePeriod == 0 {
		c.CloseGracePeriod = DefaultCloseGracePeriod
	}
	if isZeroPolicy(c.Retry) {
		c.Retry = retry.DefaultPolicy()
	}
	c.Retry = c.Retry.WithDefaults()
	if err := c.Retry.Validate(); err != nil {
		return c, fmt.Errorf("litepool: %w", err)
	}
	if c.RetryBackend == "" {
		c.RetryBackend = retry.BackendBuiltin
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	return c, nil
}

func isZeroPolicy(p retry.Policy) bool {
	return p.MaxAttempts == 0 && p.BaseDelay == 0 && p.MaxDelay == 0 && p.Jitter == 0 && p.Classifier == nil
}

func (c Config) opener() (Opener, error) {
	if c.Opener != nil {
		return c.Opener, nil
	}
	return sqlite.NewFactory(sqlite.Options{
		Path:        c.Path,
		Driver:      c.Driver,
		BusyTimeout: c.BusyTimeout,
		Pragmas:     c.Pragmas,
		ReadOnly:    c.ReadOnly,
		OnConnect:   c.OnConnect,
		Logger:      c.Logger,
	})
}
