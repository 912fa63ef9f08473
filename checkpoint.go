package litepool

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/attribute"

	"github.com/karloscodes/litepool/retry"
	"github.com/karloscodes/litepool/sqlite"
)

type (
	// CheckpointMode selects PASSIVE, FULL, RESTART or TRUNCATE.
	CheckpointMode = sqlite.CheckpointMode

	// CheckpointResult is the engine's report for one checkpoint.
	CheckpointResult = sqlite.CheckpointResult
)

const (
	CheckpointPassive  = sqlite.CheckpointPassive
	CheckpointFull     = sqlite.CheckpointFull
	CheckpointRestart  = sqlite.CheckpointRestart
	CheckpointTruncate = sqlite.CheckpointTruncate
)

// ParseCheckpointMode accepts a mode name in any case; empty means PASSIVE.
func ParseCheckpointMode(s string) (CheckpointMode, error) {
	return sqlite.ParseCheckpointMode(s)
}

// Checkpoint borrows a connection and runs one WAL checkpoint on it,
// retrying busy and locked errors. A result with Busy > 0 is returned
// without error; callers decide whether to run again. Failures of the
// checkpoint itself are *CheckpointError; pool errors such as
// ErrPoolClosed pass through unwrapped.
func (p *Pool) Checkpoint(ctx context.Context, mode CheckpointMode) (CheckpointResult, error) {
	if mode == "" {
		mode = CheckpointPassive
	}
	if !mode.Valid() {
		return CheckpointResult{}, &CheckpointError{Mode: mode, Err: errors.New("unknown mode")}
	}

	ctx, span := p.tel.start(ctx, "litepool.checkpoint",
		attribute.String("db.path", p.cfg.Path),
		attribute.String("checkpoint.mode", string(mode)),
	)

	var res CheckpointResult
	err := p.With(ctx, func(c *Conn) error {
		sc, err := c.raw()
		if err != nil {
			return err
		}
		res, err = retry.Value(ctx, p.retrier, func(ctx context.Context) (CheckpointResult, error) {
			return sc.Checkpoint(ctx, mode)
		})
		c.observe(err)
		if err != nil {
			return &CheckpointError{Mode: mode, Err: err}
		}
		return nil
	})
	if err != nil {
		p.tel.recordCheckpoint(ctx, mode, "error")
		p.logger.Error("checkpoint failed", slog.String("mode", string(mode)), slog.Any("error", err))
		finish(span, err)
		return CheckpointResult{}, err
	}

	span.SetAttributes(
		attribute.Int("checkpoint.busy", res.Busy),
		attribute.Int("checkpoint.log", res.Log),
		attribute.Int("checkpoint.checkpointed", res.Checkpointed),
	)
	outcome := "complete"
	if !res.Complete() {
		outcome = "partial"
	}
	p.tel.recordCheckpoint(ctx, mode, outcome)
	p.logger.Info("checkpoint done",
		slog.String("mode", string(mode)),
		slog.Int("busy", res.Busy),
		slog.Int("log", res.Log),
		slog.Int("checkpointed", res.Checkpointed),
	)
	finish(span, nil)
	return res, nil
}

// WALPath returns the path of the pool's write-ahead log.
func (p *Pool) WALPath() string { return sqlite.WALPath(p.cfg.Path) }

// WALSize returns the size of the write-ahead log in bytes. A missing
// log has size zero.
func (p *Pool) WALSize() (int64, error) {
	info, err := os.Stat(p.WALPath())
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
