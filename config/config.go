// Package config loads pool and maintenance settings from defaults, an
// optional config file and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/karloscodes/litepool"
	"github.com/karloscodes/litepool/logging"
	"github.com/karloscodes/litepool/retry"
	"github.com/karloscodes/litepool/sqlite"
)

// Config is the flat settings view of a pool, its checkpoint scheduler
// and logging.
type Config struct {
	AppName     string `mapstructure:"appname"`
	Environment string `mapstructure:"environment"`

	// Logging configuration.
	LogLevel       string `mapstructure:"loglevel"`
	LogsDirectory  string `mapstructure:"logsdirectory"`
	LogsMaxSizeMB  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeDays int    `mapstructure:"logsmaxageindays"`

	// Database and pool.
	DatabasePath     string        `mapstructure:"databasepath"`
	Driver           string        `mapstructure:"driver"`
	MaxSize          int           `mapstructure:"maxsize"`
	AcquireTimeout   time.Duration `mapstructure:"acquiretimeout"`
	BusyTimeout      time.Duration `mapstructure:"busytimeout"`
	ReadOnly         bool          `mapstructure:"readonly"`
	Pragmas          []string      `mapstructure:"pragmas"`
	CloseGracePeriod time.Duration `mapstructure:"closegraceperiod"`

	// Retry policy.
	RetryEnabled   bool          `mapstructure:"retryenabled"`
	RetryBackend   string        `mapstructure:"retrybackend"`
	RetryAttempts  int           `mapstructure:"retryattempts"`
	RetryBaseDelay time.Duration `mapstructure:"retrybasedelay"`
	RetryMaxDelay  time.Duration `mapstructure:"retrymaxdelay"`
	RetryJitter    float64       `mapstructure:"retryjitter"`

	// Checkpoint scheduling.
	CheckpointInterval time.Duration `mapstructure:"checkpointinterval"`
	CheckpointMode     string        `mapstructure:"checkpointmode"`
	WALThreshold       string        `mapstructure:"walthreshold"`
	WatchWAL           bool          `mapstructure:"watchwal"`

	envPrefix string
}

// Load reads settings for appName from a .env file in the working
// directory (if present) and <APPNAME>_* environment variables.
func Load(appName string) (*Config, error) {
	return load(appName, "")
}

// LoadFile is Load with an explicit config file. The format follows the
// extension (yaml, json, toml, env).
func LoadFile(appName, path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config: file path is empty")
	}
	return load(appName, path)
}

func load(appName, file string) (*Config, error) {
	v := viper.New()

	appName = strings.ToLower(strings.TrimSpace(appName))
	if appName == "" {
		appName = "litepool"
	}
	prefix := strings.ToUpper(appName)

	if file != "" {
		v.SetConfigFile(file)
		if filepath.Base(file) == ".env" {
			v.SetConfigType("env")
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	} else {
		v.SetConfigName(".env")
		v.SetConfigType("env")
		v.AddConfigPath(".")
		_ = v.ReadInConfig()
	}

	setDefaults(v, appName)

	v.SetEnvPrefix(prefix)
	bindEnvVars(v, prefix)

	cfg := &Config{envPrefix: prefix}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.ensureDirectories()
	return cfg, nil
}

func setDefaults(v *viper.Viper, appName string) {
	v.SetDefault("appname", appName)
	v.SetDefault("environment", logging.Production)

	v.SetDefault("loglevel", "")
	v.SetDefault("logsdirectory", "storage/logs")
	v.SetDefault("logsmaxsizeinmb", 20)
	v.SetDefault("logsmaxbackups", 10)
	v.SetDefault("logsmaxageindays", 30)

	v.SetDefault("databasepath", filepath.Join("storage", appName+".db"))
	v.SetDefault("driver", string(sqlite.DriverCGO))
	v.SetDefault("maxsize", litepool.DefaultMaxSize)
	v.SetDefault("acquiretimeout", 30*time.Second)
	v.SetDefault("busytimeout", 10*time.Second)
	v.SetDefault("readonly", false)
	v.SetDefault("pragmas", []string{})
	v.SetDefault("closegraceperiod", litepool.DefaultCloseGracePeriod)

	def := retry.DefaultPolicy()
	v.SetDefault("retryenabled", true)
	v.SetDefault("retrybackend", string(retry.BackendBuiltin))
	v.SetDefault("retryattempts", def.MaxAttempts)
	v.SetDefault("retrybasedelay", def.BaseDelay)
	v.SetDefault("retrymaxdelay", def.MaxDelay)
	v.SetDefault("retryjitter", def.Jitter)

	v.SetDefault("checkpointinterval", 5*time.Minute)
	v.SetDefault("checkpointmode", string(litepool.CheckpointPassive))
	v.SetDefault("walthreshold", "")
	v.SetDefault("watchwal", false)
}

func bindEnvVars(v *viper.Viper, prefix string) {
	v.BindEnv("environment", prefix+"_ENV")
	v.BindEnv("loglevel", prefix+"_LOG_LEVEL")
	v.BindEnv("logsdirectory", prefix+"_LOGS_DIR")

	v.BindEnv("databasepath", prefix+"_DB_PATH")
	v.BindEnv("driver", prefix+"_DRIVER")
	v.BindEnv("maxsize", prefix+"_POOL_SIZE")
	v.BindEnv("acquiretimeout", prefix+"_ACQUIRE_TIMEOUT")
	v.BindEnv("busytimeout", prefix+"_BUSY_TIMEOUT")
	v.BindEnv("readonly", prefix+"_READ_ONLY")
	v.BindEnv("closegraceperiod", prefix+"_CLOSE_GRACE")

	v.BindEnv("retryenabled", prefix+"_RETRY")
	v.BindEnv("retrybackend", prefix+"_RETRY_BACKEND")
	v.BindEnv("retryattempts", prefix+"_RETRY_ATTEMPTS")
	v.BindEnv("retrybasedelay", prefix+"_RETRY_BASE_DELAY")
	v.BindEnv("retrymaxdelay", prefix+"_RETRY_MAX_DELAY")
	v.BindEnv("retryjitter", prefix+"_RETRY_JITTER")

	v.BindEnv("checkpointinterval", prefix+"_CHECKPOINT_INTERVAL")
	v.BindEnv("checkpointmode", prefix+"_CHECKPOINT_MODE")
	v.BindEnv("walthreshold", prefix+"_WAL_THRESHOLD")
	v.BindEnv("watchwal", prefix+"_WATCH_WAL")
}

func (c *Config) validate() error {
	var problems []string

	switch c.Environment {
	case logging.Development, logging.Production, logging.Test:
	default:
		problems = append(problems, fmt.Sprintf("invalid %s_ENV value %q", c.envPrefix, c.Environment))
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		problems = append(problems, fmt.Sprintf("%s_DB_PATH is required", c.envPrefix))
	}
	if _, err := sqlite.ParseDriver(c.Driver); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := retry.ParseBackend(c.RetryBackend); err != nil {
		problems = append(problems, err.Error())
	}
	if c.MaxSize < 1 {
		problems = append(problems, fmt.Sprintf("%s_POOL_SIZE must be at least 1", c.envPrefix))
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := litepool.ParseCheckpointMode(c.CheckpointMode); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := c.WALThresholdBytes(); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return errors.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) ensureDirectories() {
	if c.ReadOnly {
		return
	}
	if dir := filepath.Dir(c.DatabasePath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Warn("config: failed to create directory", "dir", dir, "error", err)
		}
	}
}

// Environment checks.

func (c *Config) IsDevelopment() bool { return c.Environment == logging.Development }
func (c *Config) IsProduction() bool  { return c.Environment == logging.Production }
func (c *Config) IsTest() bool        { return c.Environment == logging.Test }

// RetryPolicy returns the configured retry policy.
func (c *Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.RetryAttempts,
		BaseDelay:   c.RetryBaseDelay,
		MaxDelay:    c.RetryMaxDelay,
		Jitter:      c.RetryJitter,
	}.WithDefaults()
}

// WALThresholdBytes parses WALThreshold ("64MB", "1 GiB", "0"). Empty
// means no threshold.
func (c *Config) WALThresholdBytes() (int64, error) {
	if strings.TrimSpace(c.WALThreshold) == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.WALThreshold)
	if err != nil {
		return 0, fmt.Errorf("invalid %s_WAL_THRESHOLD %q: %w", c.envPrefix, c.WALThreshold, err)
	}
	return int64(n), nil
}

// LogOptions returns the logger settings.
func (c *Config) LogOptions() logging.Options {
	return logging.Options{
		Environment: c.Environment,
		Level:       c.LogLevel,
		Directory:   c.LogsDirectory,
		MaxSizeMB:   c.LogsMaxSizeMB,
		MaxBackups:  c.LogsMaxBackups,
		MaxAgeDays:  c.LogsMaxAgeDays,
		AppName:     c.AppName,
	}
}

// PoolConfig converts the settings into a pool configuration.
func (c *Config) PoolConfig(logger *slog.Logger) litepool.Config {
	driver, _ := sqlite.ParseDriver(c.Driver)
	backend, _ := retry.ParseBackend(c.RetryBackend)
	return litepool.Config{
		Path:             c.DatabasePath,
		MaxSize:          c.MaxSize,
		AcquireTimeout:   c.AcquireTimeout,
		DisableRetry:     !c.RetryEnabled,
		Retry:            c.RetryPolicy(),
		RetryBackend:     backend,
		CloseGracePeriod: c.CloseGracePeriod,
		Driver:           driver,
		BusyTimeout:      c.BusyTimeout,
		Pragmas:          c.Pragmas,
		ReadOnly:         c.ReadOnly,
		Logger:           logger,
	}
}

// SchedulerConfig converts the checkpoint settings. ok is false when
// neither an interval nor a WAL watch is configured.
func (c *Config) SchedulerConfig(logger *slog.Logger) (cfg litepool.SchedulerConfig, ok bool) {
	mode, _ := litepool.ParseCheckpointMode(c.CheckpointMode)
	threshold, _ := c.WALThresholdBytes()
	cfg = litepool.SchedulerConfig{
		Interval:     c.CheckpointInterval,
		Mode:         mode,
		WALThreshold: threshold,
		Watch:        c.WatchWAL && threshold > 0,
		Logger:       logger,
	}
	return cfg, cfg.Interval > 0 || cfg.Watch
}
