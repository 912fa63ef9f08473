package litepool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/karloscodes/litepool/retry"
	"github.com/karloscodes/litepool/sqlite"
)

// Pool hands out at most MaxSize connections to one SQLite database.
// Connections are opened lazily, reused most-recently-released first,
// and waiters are served in arrival order.
type Pool struct {
	cfg     Config
	opener  Opener
	retrier retry.Retrier
	logger  *slog.Logger
	tel     *telemetry

	// sem holds one permit per slot; a permit is owned by every borrowed
	// connection and every connection being opened.
	sem     *semaphore.Weighted
	waiting atomic.Int64

	mu     sync.Mutex
	idle   []*slot
	slots  map[*slot]struct{}
	closed bool

	closeCtx    context.Context
	closeCancel context.CancelFunc
	closeOnce   sync.Once
	closeErr    error
}

// slot is one open connection owned by the pool.
type slot struct {
	conn *sqlite.Conn
	uses int
}

// Stats is a snapshot of pool occupancy.
type Stats struct {
	Path     string `json:"path"`
	Capacity int    `json:"capacity"`
	Live     int    `json:"live"`
	InUse    int    `json:"in_use"`
	Idle     int    `json:"idle"`
	Waiting  int    `json:"waiting"`
}

// Available is the number of acquires that could succeed without
// waiting.
func (s Stats) Available() int { return s.Capacity - s.InUse }

// New validates cfg and returns an empty pool. No connection is opened
// until the first Acquire.
func New(cfg Config) (*Pool, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	opener, err := cfg.opener()
	if err != nil {
		return nil, err
	}

	p := &Pool{
		cfg:    cfg,
		opener: opener,
		logger: cfg.Logger.With(slog.String("db", cfg.Path)),
		sem:    semaphore.NewWeighted(int64(cfg.MaxSize)),
		slots:  make(map[*slot]struct{}, cfg.MaxSize),
	}
	p.closeCtx, p.closeCancel = context.WithCancel(context.Background())
	p.tel = newTelemetry(cfg, p.Stats)

	if cfg.DisableRetry {
		p.retrier = retry.Disabled()
	} else {
		p.retrier, err = retry.New(cfg.RetryBackend, cfg.Retry,
			retry.WithLogger(p.logger),
			retry.WithOnRetry(p.tel.onRetry),
		)
		if err != nil {
			return nil, fmt.Errorf("litepool: %w", err)
		}
	}

	p.logger.Debug("pool created",
		slog.Int("max_size", cfg.MaxSize),
		slog.Int("max_attempts", cfg.Retry.MaxAttempts),
	)
	return p, nil
}

// Path returns the database file the pool serves.
func (p *Pool) Path() string { return p.cfg.Path }

// Config returns the effective configuration.
func (p *Pool) Config() Config { return p.cfg }

// Retrier returns the retrier applied to connection operations.
func (p *Pool) Retrier() retry.Retrier { return p.retrier }

// Acquire borrows a connection, waiting for a free slot when the pool
// is saturated. The wait ends with ErrPoolTimeout when ctx (or
// AcquireTimeout) expires and with ErrPoolClosed when the pool closes.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}
	if _, ok := ctx.Deadline(); !ok && p.cfg.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	ctx, span := p.tel.start(ctx, "litepool.acquire", attribute.String("db.path", p.cfg.Path))
	conn, err := p.acquire(ctx)
	finish(span, err)
	return conn, err
}

// TryAcquire borrows a connection only if one is available without
// waiting; otherwise it returns ErrPoolExhausted.
func (p *Pool) TryAcquire(ctx context.Context) (*Conn, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}
	if !p.sem.TryAcquire(1) {
		return nil, ErrPoolExhausted
	}
	p.tel.recordAcquire(ctx, 0)
	return p.checkout(ctx)
}

// With borrows a connection, runs fn and releases the connection on
// every exit path. A panic in fn marks the connection broken before it
// propagates.
func (p *Pool) With(ctx context.Context, fn func(c *Conn) error) (err error) {
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			c.MarkBroken()
			c.Release()
			panic(r)
		}
		c.Release()
	}()
	return fn(c)
}

func (p *Pool) acquire(ctx context.Context) (*Conn, error) {
	start := time.Now()
	if err := p.wait(ctx); err != nil {
		return nil, err
	}
	waited := time.Since(start)
	p.tel.recordAcquire(ctx, waited)
	if waited > time.Second {
		p.logger.Debug("connection acquired after wait", slog.Duration("waited", waited))
	}
	return p.checkout(ctx)
}

// wait blocks for a slot permit.
func (p *Pool) wait(ctx context.Context) error {
	if p.sem.TryAcquire(1) {
		return nil
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(p.closeCtx, cancel)
	defer stop()

	start := time.Now()
	p.waiting.Add(1)
	err := p.sem.Acquire(waitCtx, 1)
	p.waiting.Add(-1)
	if err == nil {
		if p.isClosed() {
			p.sem.Release(1)
			return ErrPoolClosed
		}
		return nil
	}

	switch {
	case p.isClosed():
		return ErrPoolClosed
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w after %s: %w", ErrPoolTimeout, time.Since(start).Round(time.Millisecond), ctx.Err())
	default:
		return fmt.Errorf("litepool: acquire: %w", ctx.Err())
	}
}

// checkout turns a held permit into a connection. The permit is given
// back on failure.
func (p *Pool) checkout(ctx context.Context) (*Conn, error) {
	for {
		s, err := p.takeIdle()
		if err != nil {
			p.sem.Release(1)
			return nil, err
		}
		if s == nil {
			break
		}
		if err := s.conn.Ping(ctx); err != nil {
			if ctx.Err() != nil {
				p.putIdle(s)
				p.sem.Release(1)
				return nil, deadlineErr(ctx, ctx.Err())
			}
			p.logger.Warn("recreating stale connection", slog.Any("error", err))
			p.retire(s)
			continue
		}
		return newConn(p, s), nil
	}

	s, err := p.openSlot(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, deadlineErr(ctx, err)
	}
	return newConn(p, s), nil
}

// deadlineErr reports err as ErrPoolTimeout when ctx expired while a
// connection was being validated or opened.
func deadlineErr(ctx context.Context, err error) error {
	if errors.Is(err, ErrPoolClosed) || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w while preparing a connection: %w", ErrPoolTimeout, err)
}

func (p *Pool) takeIdle() (*slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	n := len(p.idle)
	if n == 0 {
		return nil, nil
	}
	s := p.idle[n-1]
	p.idle[n-1] = nil
	p.idle = p.idle[:n-1]
	s.uses++
	return s, nil
}

func (p *Pool) putIdle(s *slot) {
	p.mu.Lock()
	if p.closed {
		delete(p.slots, s)
		p.mu.Unlock()
		_ = s.conn.Close()
		return
	}
	p.idle = append(p.idle, s)
	p.mu.Unlock()
}

// openSlot creates a connection for a permit whose holder found no idle
// slot.
func (p *Pool) openSlot(ctx context.Context) (*slot, error) {
	conn, err := retry.Value(ctx, p.retrier, p.opener.Open)

	p.mu.Lock()
	if err == nil && p.closed {
		p.mu.Unlock()
		_ = conn.Close()
		return nil, ErrPoolClosed
	}
	if err != nil {
		p.mu.Unlock()
		p.logger.Error("failed to open connection", slog.Any("error", err))
		return nil, err
	}
	s := &slot{conn: conn, uses: 1}
	p.slots[s] = struct{}{}
	live := len(p.slots)
	p.mu.Unlock()

	p.logger.Debug("connection opened", slog.Int("live", live))
	return s, nil
}

// retire drops a slot from the pool and closes its connection.
func (p *Pool) retire(s *slot) {
	p.mu.Lock()
	delete(p.slots, s)
	p.mu.Unlock()
	if err := s.conn.Close(); err != nil {
		p.logger.Debug("error closing retired connection", slog.Any("error", err))
	}
}

// release returns a borrowed slot and its permit.
func (p *Pool) release(s *slot, broken bool) {
	p.mu.Lock()
	if broken || p.closed {
		delete(p.slots, s)
		p.mu.Unlock()
		if broken {
			p.logger.Warn("discarding broken connection", slog.Int("uses", s.uses))
		}
		_ = s.conn.Close()
	} else {
		p.idle = append(p.idle, s)
		p.mu.Unlock()
	}
	p.sem.Release(1)
}

// Stats reports current occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	live := len(p.slots)
	return Stats{
		Path:     p.cfg.Path,
		Capacity: p.cfg.MaxSize,
		Live:     live,
		InUse:    live - len(p.idle),
		Idle:     len(p.idle),
		Waiting:  int(p.waiting.Load()),
	}
}

// Closed reports whether Close has been called.
func (p *Pool) Closed() bool { return p.isClosed() }

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close stops the pool. Idle connections close immediately, blocked
// acquirers fail with ErrPoolClosed and borrowed connections close when
// released. After CloseGracePeriod any still borrowed are closed
// anyway. Close is safe to call more than once.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() { p.closeErr = p.close() })
	return p.closeErr
}

func (p *Pool) close() error {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	for _, s := range idle {
		delete(p.slots, s)
	}
	p.mu.Unlock()
	p.closeCancel()

	var errs []error
	for _, s := range idle {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	grace := p.cfg.CloseGracePeriod
	if grace < 0 {
		grace = 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := p.sem.Acquire(ctx, int64(p.cfg.MaxSize)); err != nil {
		p.mu.Lock()
		remaining := make([]*slot, 0, len(p.slots))
		for s := range p.slots {
			remaining = append(remaining, s)
		}
		p.mu.Unlock()
		if len(remaining) > 0 {
			p.logger.Warn("closing connections still in use", slog.Int("count", len(remaining)))
		}
		for _, s := range remaining {
			if err := s.conn.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if err := p.tel.shutdown(); err != nil {
		errs = append(errs, err)
	}
	p.logger.Debug("pool closed")
	return errors.Join(errs...)
}
