package litepool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
)

// SchedulerConfig controls background checkpointing.
type SchedulerConfig struct {
	// Interval between checkpoints. Zero disables the ticker, leaving
	// only the WAL watch.
	Interval time.Duration

	// Mode for each checkpoint. Default: PASSIVE.
	Mode CheckpointMode

	// WALThreshold skips a checkpoint until the -wal file has grown by
	// this many bytes since the last scheduled checkpoint. Only TRUNCATE
	// shrinks the file, so the other modes measure growth past the size
	// left behind by the previous run. Zero always checkpoints.
	WALThreshold int64

	// Watch checkpoints as soon as a write pushes the WAL past
	// WALThreshold, without waiting for the next tick.
	Watch bool

	// Logger defaults to the pool's logger.
	Logger *slog.Logger
}

// Scheduler runs checkpoints against a pool in the background.
type Scheduler struct {
	pool   *Pool
	cfg    SchedulerConfig
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// runMu serializes ticker and watch checkpoints and guards walMark.
	runMu sync.Mutex
	// walMark is the -wal size after the last scheduled checkpoint.
	walMark int64
}

// NewScheduler validates cfg and returns a stopped scheduler.
func NewScheduler(pool *Pool, cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Mode == "" {
		cfg.Mode = CheckpointPassive
	}
	if !cfg.Mode.Valid() {
		return nil, fmt.Errorf("litepool: unknown checkpoint mode %q", cfg.Mode)
	}
	if cfg.Interval < 0 || cfg.WALThreshold < 0 {
		return nil, errors.New("litepool: scheduler interval and threshold must not be negative")
	}
	if cfg.Interval == 0 && !cfg.Watch {
		return nil, errors.New("litepool: scheduler needs an interval or a WAL watch")
	}
	if cfg.Watch && cfg.WALThreshold == 0 {
		return nil, errors.New("litepool: WAL watch needs a threshold")
	}
	if cfg.Logger == nil {
		cfg.Logger = pool.logger
	}
	return &Scheduler{pool: pool, cfg: cfg, logger: cfg.Logger}, nil
}

// Start begins background checkpointing. Starting a running scheduler
// does nothing.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	var watcher *fsnotify.Watcher
	if s.cfg.Watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("litepool: create WAL watcher: %w", err)
		}
		if err := w.Add(filepath.Dir(s.pool.Path())); err != nil {
			w.Close()
			return fmt.Errorf("litepool: watch %s: %w", filepath.Dir(s.pool.Path()), err)
		}
		watcher = w
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	if s.cfg.Interval > 0 {
		s.wg.Add(1)
		go s.loop(ctx)
	}
	if watcher != nil {
		s.wg.Add(1)
		go s.watch(ctx, watcher)
	}
	return nil
}

// Stop halts the scheduler and waits for an in-flight checkpoint.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()
	s.wg.Wait()
}

// RunOnce checkpoints if the WAL has grown by the threshold since the
// last scheduled checkpoint. It reports whether a checkpoint ran.
func (s *Scheduler) RunOnce(ctx context.Context) (CheckpointResult, bool, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.cfg.WALThreshold > 0 {
		size, err := s.pool.WALSize()
		if err != nil {
			return CheckpointResult{}, false, err
		}
		if size < s.walMark {
			// Truncated or removed outside the scheduler.
			s.walMark = 0
		}
		if size-s.walMark < s.cfg.WALThreshold {
			return CheckpointResult{}, false, nil
		}
		s.logger.Debug("WAL over threshold",
			slog.String("size", humanize.IBytes(uint64(size))),
			slog.String("growth", humanize.IBytes(uint64(size-s.walMark))),
			slog.String("threshold", humanize.IBytes(uint64(s.cfg.WALThreshold))),
		)
	}

	res, err := s.pool.Checkpoint(ctx, s.cfg.Mode)
	if err != nil {
		return res, false, err
	}
	if size, err := s.pool.WALSize(); err == nil {
		s.walMark = size
		s.logger.Debug("scheduled checkpoint", slog.String("wal_size", humanize.IBytes(uint64(size))))
	}
	return res, true, nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	s.logger.Info("checkpoint scheduler started",
		slog.Duration("interval", s.cfg.Interval),
		slog.String("mode", string(s.cfg.Mode)),
	)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.run(ctx)
		case <-ctx.Done():
			s.logger.Info("checkpoint scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) watch(ctx context.Context, w *fsnotify.Watcher) {
	defer s.wg.Done()
	defer w.Close()

	wal := filepath.Clean(s.pool.WALPath())
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != wal || !ev.Has(fsnotify.Write) {
				continue
			}
			s.run(ctx)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("WAL watcher error", slog.Any("error", err))
		}
	}
}

func (s *Scheduler) run(ctx context.Context) {
	if _, _, err := s.RunOnce(ctx); err != nil {
		if errors.Is(err, ErrPoolClosed) || ctx.Err() != nil {
			return
		}
		s.logger.Error("scheduled checkpoint failed", slog.Any("error", err))
	}
}
