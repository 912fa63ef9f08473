package litepool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"
)

// Registry keeps one Pool per database file for the life of a process.
type Registry struct {
	logger *slog.Logger

	mu     sync.Mutex
	pools  map[string]*Pool
	closed bool
}

// NewRegistry returns an empty registry. A nil logger discards output.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{logger: logger, pools: make(map[string]*Pool)}
}

// Open returns the pool for cfg.Path, creating it on first use. Later
// calls for the same file return the existing pool and ignore the rest
// of cfg.
func (r *Registry) Open(cfg Config) (*Pool, error) {
	key, err := registryKey(cfg.Path)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrPoolClosed
	}
	if p, ok := r.pools[key]; ok && !p.Closed() {
		return p, nil
	}

	if cfg.Logger == nil {
		cfg.Logger = r.logger
	}
	cfg.Path = key
	p, err := New(cfg)
	if err != nil {
		return nil, err
	}
	r.pools[key] = p
	r.logger.Info("pool registered", slog.String("db", key), slog.Int("max_size", p.cfg.MaxSize))
	return p, nil
}

// Get returns the open pool for path, if any.
func (r *Registry) Get(path string) (*Pool, bool) {
	key, err := registryKey(path)
	if err != nil {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[key]
	if !ok || p.Closed() {
		return nil, false
	}
	return p, true
}

// Len returns the number of registered pools.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pools)
}

// CloseAll closes every registered pool concurrently and refuses new
// pools afterwards. Every pool is closed even when some fail; the
// errors are joined.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	r.closed = true
	pools := r.pools
	r.pools = make(map[string]*Pool)
	r.mu.Unlock()

	// g.Wait keeps only the first failure; errs holds one entry per pool.
	var g errgroup.Group
	errs := make([]error, len(pools))
	i := 0
	for key, p := range pools {
		n := i
		i++
		g.Go(func() error {
			if err := p.Close(); err != nil {
				errs[n] = fmt.Errorf("close %s: %w", key, err)
				return errs[n]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.logger.Error("closing pools failed", slog.Int("count", len(pools)), slog.Any("error", err))
		return errors.Join(errs...)
	}

	r.logger.Info("all pools closed", slog.Int("count", len(pools)))
	return nil
}

// CloseOnSignal closes every pool when one of sigs arrives or ctx ends.
// With no sigs it listens for SIGINT and SIGTERM. The returned channel
// yields the CloseAll result and is then closed.
func (r *Registry) CloseOnSignal(ctx context.Context, sigs ...os.Signal) <-chan error {
	if len(sigs) == 0 {
		sigs = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	sigCtx, stop := signal.NotifyContext(ctx, sigs...)

	done := make(chan error, 1)
	go func() {
		defer close(done)
		defer stop()
		<-sigCtx.Done()
		r.logger.Info("shutting down database pools")
		done <- r.CloseAll()
	}()
	return done
}

func registryKey(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("litepool: Path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("litepool: resolve %q: %w", path, err)
	}
	return filepath.Clean(abs), nil
}
