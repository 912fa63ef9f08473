// Package litepool provides a bounded pool of WAL-mode SQLite
// connections with retry on lock contention and WAL checkpointing.
//
// A Pool owns at most MaxSize connections to one database file. They are
// opened lazily, validated before reuse, and handed to one caller at a
// time:
//
//   - Acquire waits in arrival order for a free slot, bounded by the
//     context deadline or Config.AcquireTimeout
//   - With scopes a connection to a callback and always releases it
//   - Statements on a Conn retry SQLITE_BUSY and SQLITE_LOCKED with
//     exponential backoff and jitter; other errors return at once
//   - Checkpoint runs PASSIVE, FULL, RESTART or TRUNCATE checkpoints
//     against a borrowed connection
//
// # Opening a pool
//
//	pool, err := litepool.New(litepool.Config{
//	    Path:    "data/app.db",
//	    MaxSize: 4,
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	err = pool.With(ctx, func(c *litepool.Conn) error {
//	    _, err := c.Exec(ctx, "INSERT INTO events(name) VALUES (?)", "signup")
//	    return err
//	})
//
// # Checkpointing
//
//	res, err := pool.Checkpoint(ctx, litepool.CheckpointTruncate)
//	if err == nil && res.Busy > 0 {
//	    // readers held part of the log; try again later
//	}
//
// A Scheduler runs checkpoints on an interval, or when the -wal file
// grows past a threshold.
//
// # Process lifecycle
//
// A Registry keeps one pool per file and closes them all on shutdown:
//
//	reg := litepool.NewRegistry(logger)
//	done := reg.CloseOnSignal(ctx)
//	pool, err := reg.Open(litepool.Config{Path: "data/app.db"})
//	...
//	<-done
//
// # Closing
//
// Close fails blocked and future acquires with ErrPoolClosed, closes idle
// connections immediately and waits up to Config.CloseGracePeriod for
// borrowed ones before closing them anyway. Each connection is closed
// exactly once.
package litepool
