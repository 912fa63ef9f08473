// litepool is a maintenance tool for WAL-mode SQLite databases. It opens
// a pool with the same settings an application would use and runs
// checkpoints, ad-hoc statements or a background checkpoint scheduler
// against it.
//
// Usage:
//
//	litepool [flags] checkpoint [--mode MODE]
//	litepool [flags] exec SQL
//	litepool [flags] stats
//	litepool [flags] maintain
//
// Settings come from --config, a .env file and LITEPOOL_* environment
// variables, in that order; flags override all of them.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/karloscodes/litepool"
	"github.com/karloscodes/litepool/config"
	"github.com/karloscodes/litepool/logging"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type globalFlags struct {
	app        string
	configFile string
	db         string
	poolSize   int
	logLevel   string
}

func run(ctx context.Context, args []string, stdout io.Writer) (err error) {
	var g globalFlags
	flagSet := pflag.NewFlagSet("litepool", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	flagSet.StringVar(&g.app, "app", "litepool", "application name, used as the environment variable prefix")
	flagSet.StringVarP(&g.configFile, "config", "c", "", "config file (yaml, json, toml or .env)")
	flagSet.StringVar(&g.db, "db", "", "database file (overrides <APP>_DB_PATH)")
	flagSet.IntVar(&g.poolSize, "pool-size", 0, "maximum open connections")
	flagSet.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	rest := flagSet.Args()
	if len(rest) == 0 {
		printHelp(flagSet)
		return errors.New("missing command")
	}

	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogOptions())

	reg := litepool.NewRegistry(logger)
	defer func() {
		if cerr := reg.CloseAll(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	pool, err := reg.Open(cfg.PoolConfig(logger))
	if err != nil {
		return err
	}

	command, cmdArgs := rest[0], rest[1:]
	switch command {
	case "checkpoint":
		return runCheckpoint(ctx, pool, cmdArgs, stdout)
	case "exec":
		return runExec(ctx, pool, cmdArgs, stdout)
	case "stats":
		return runStats(pool, stdout)
	case "maintain":
		return runMaintain(ctx, reg, pool, cfg, logger)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func loadConfig(g globalFlags) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configFile != "" {
		cfg, err = config.LoadFile(g.app, g.configFile)
	} else {
		cfg, err = config.Load(g.app)
	}
	if err != nil {
		return nil, err
	}
	if g.db != "" {
		cfg.DatabasePath = g.db
	}
	if g.poolSize > 0 {
		cfg.MaxSize = g.poolSize
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	return cfg, nil
}

func runCheckpoint(ctx context.Context, pool *litepool.Pool, args []string, stdout io.Writer) error {
	flagSet := pflag.NewFlagSet("checkpoint", pflag.ContinueOnError)
	modeFlag := flagSet.StringP("mode", "m", "PASSIVE", "PASSIVE, FULL, RESTART or TRUNCATE")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	mode, err := litepool.ParseCheckpointMode(*modeFlag)
	if err != nil {
		return err
	}

	before, _ := pool.WALSize()
	res, err := pool.Checkpoint(ctx, mode)
	if err != nil {
		return err
	}
	after, _ := pool.WALSize()

	return writeJSON(stdout, struct {
		Mode string `json:"mode"`
		litepool.CheckpointResult
		WALBefore int64 `json:"wal_bytes_before"`
		WALAfter  int64 `json:"wal_bytes_after"`
	}{string(mode), res, before, after})
}

func runExec(ctx context.Context, pool *litepool.Pool, args []string, stdout io.Writer) error {
	if len(args) != 1 {
		return errors.New("exec takes exactly one SQL argument")
	}
	return pool.With(ctx, func(c *litepool.Conn) error {
		n, err := c.Exec(ctx, args[0])
		if err != nil {
			return err
		}
		return writeJSON(stdout, map[string]int64{"rows_affected": n})
	})
}

func runStats(pool *litepool.Pool, stdout io.Writer) error {
	wal, err := pool.WALSize()
	if err != nil {
		return err
	}
	return writeJSON(stdout, struct {
		litepool.Stats
		WALBytes int64 `json:"wal_bytes"`
	}{pool.Stats(), wal})
}

func runMaintain(ctx context.Context, reg *litepool.Registry, pool *litepool.Pool, cfg *config.Config, logger *slog.Logger) error {
	schedCfg, ok := cfg.SchedulerConfig(logger)
	if !ok {
		return errors.New("maintain needs a checkpoint interval or a WAL threshold with watching enabled")
	}
	sched, err := litepool.NewScheduler(pool, schedCfg)
	if err != nil {
		return err
	}
	if err := sched.Start(); err != nil {
		return err
	}

	done := reg.CloseOnSignal(ctx)
	logger.Info("maintaining database", slog.String("db", pool.Path()))
	err = <-done
	sched.Stop()
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `litepool: maintenance for WAL-mode SQLite databases.

Usage:
  litepool [flags] checkpoint [--mode MODE]
  litepool [flags] exec SQL
  litepool [flags] stats
  litepool [flags] maintain

Flags:
%s`, flagSet.FlagUsages())
}
