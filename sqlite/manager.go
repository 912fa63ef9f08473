// Package sqlite opens WAL-mode SQLite connections and translates engine
// errors into typed, classifiable values.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Options configures how new connections are opened.
type Options struct {
	// Path is the database file path. Required. The parent directory
	// must be writable unless ReadOnly is set, since WAL mode creates
	// -wal and -shm files next to it.
	Path string

	// Driver selects the database/sql driver. Default: DriverCGO.
	Driver Driver

	// BusyTimeout is how long the engine itself waits on a lock before
	// reporting SQLITE_BUSY. Default: 10 seconds.
	BusyTimeout time.Duration

	// Synchronous is the synchronous pragma value. Default: NORMAL.
	Synchronous string

	// ForeignKeys enables foreign key enforcement. Default: true.
	ForeignKeys *bool

	// Pragmas are applied after the standard set, in order. Each entry
	// is a full statement, e.g. "PRAGMA cache_size = -8192".
	Pragmas []string

	// ReadOnly opens connections with mode=ro and skips the journal
	// mode switch.
	ReadOnly bool

	// TxImmediate makes BEGIN take the write lock up front. Default: true.
	// This avoids lock upgrade deadlocks between concurrent writers.
	TxImmediate *bool

	// OnConnect runs once per connection after pragmas are applied.
	OnConnect func(db *gorm.DB) error

	// Logger for connection setup. Optional.
	Logger *slog.Logger
}

// Factory opens fully initialized connections to one database file.
type Factory struct {
	opts   Options
	logger *slog.Logger
}

// NewFactory validates opts and applies defaults.
func NewFactory(opts Options) (*Factory, error) {
	if strings.TrimSpace(opts.Path) == "" {
		return nil, fmt.Errorf("sqlite: Path is required")
	}
	if opts.Path == ":memory:" || strings.Contains(opts.Path, "mode=memory") {
		return nil, fmt.Errorf("sqlite: in-memory databases cannot be pooled")
	}

	if opts.Driver == "" {
		opts.Driver = DriverCGO
	}
	if opts.Driver != DriverCGO && opts.Driver != DriverPure {
		return nil, fmt.Errorf("sqlite: unknown driver %q", opts.Driver)
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 10 * time.Second
	}
	if opts.Synchronous == "" {
		opts.Synchronous = "NORMAL"
	}
	if opts.ForeignKeys == nil {
		enabled := true
		opts.ForeignKeys = &enabled
	}
	if opts.TxImmediate == nil {
		immediate := true
		opts.TxImmediate = &immediate
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Factory{opts: opts, logger: logger}, nil
}

// Path returns the database file path.
func (f *Factory) Path() string { return f.opts.Path }

// Driver returns the driver used for new connections.
func (f *Factory) Driver() Driver { return f.opts.Driver }

// Open returns a new connection in WAL mode with the busy timeout and
// pragmas applied. The connection has passed a SELECT 1 before it is
// returned. On failure the handle is closed and a *ConnectionError is
// returned; engine errors inside it keep their result code.
func (f *Factory) Open(ctx context.Context) (*Conn, error) {
	dsn := f.opts.Driver.dsn(f.opts.Path, f.opts.ReadOnly, *f.opts.TxImmediate)

	sqlDB, err := sql.Open(string(f.opts.Driver), dsn)
	if err != nil {
		return nil, f.fail("open", err)
	}
	// One physical handle per Conn: per-connection pragmas such as
	// busy_timeout must land on the handle that runs the queries.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	raw, err := sqlDB.Conn(ctx)
	if err != nil {
		_ = sqlDB.Close()
		return nil, f.fail("open", classify("open", err))
	}

	db, err := gorm.Open(sqlite.New(sqlite.Config{
		DriverName: string(f.opts.Driver),
		Conn:       raw,
	}), &gorm.Config{
		Logger:                 NewGormLogger(f.logger.With(slog.String("component", "gorm")), nil),
		SkipDefaultTransaction: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		_ = raw.Close()
		_ = sqlDB.Close()
		return nil, f.fail("open", classify("open", err))
	}

	conn := &Conn{
		db:    db,
		raw:   raw,
		sqlDB: sqlDB,
		path:  f.opts.Path,
	}

	if err := f.initialize(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	f.logger.Debug("sqlite connection opened",
		slog.String("path", f.opts.Path),
		slog.String("driver", f.opts.Driver.String()),
	)
	return conn, nil
}

func (f *Factory) initialize(ctx context.Context, conn *Conn) error {
	if !f.opts.ReadOnly {
		mode, err := conn.setJournalMode(ctx, "WAL")
		if err != nil {
			return f.fail("journal_mode", err)
		}
		if mode != "wal" {
			return f.fail("journal_mode", fmt.Errorf("engine reported journal mode %q, want wal", mode))
		}
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", f.opts.BusyTimeout.Milliseconds()),
	}
	if *f.opts.ForeignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys = ON")
	} else {
		pragmas = append(pragmas, "PRAGMA foreign_keys = OFF")
	}
	pragmas = append(pragmas, "PRAGMA synchronous = "+f.opts.Synchronous)
	pragmas = append(pragmas, f.opts.Pragmas...)

	for _, pragma := range pragmas {
		if _, err := conn.Exec(ctx, pragma); err != nil {
			f.logger.Error("failed to apply pragma", slog.String("pragma", pragma), slog.Any("error", err))
			return f.fail(pragma, err)
		}
	}

	if f.opts.OnConnect != nil {
		if err := f.opts.OnConnect(conn.db.WithContext(ctx)); err != nil {
			return f.fail("OnConnect", classify("OnConnect", err))
		}
	}

	if err := conn.Ping(ctx); err != nil {
		return f.fail("validate", err)
	}
	return nil
}

func (f *Factory) fail(step string, err error) error {
	return &ConnectionError{Path: f.opts.Path, Step: step, Err: err}
}
