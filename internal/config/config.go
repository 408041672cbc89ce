package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const EnvPrefix = "ORCH"

type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Store    StoreConfig    `mapstructure:"store"`
	Stream   StreamConfig   `mapstructure:"stream"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RunnerConfig struct {
	Workers          int           `mapstructure:"workers"`
	StageRetries     int           `mapstructure:"stage_retries"`
	StageRetryDelay  time.Duration `mapstructure:"stage_retry_delay"`
	MaxJobRetries    int           `mapstructure:"max_job_retries"`
	RetryBackoffBase time.Duration `mapstructure:"retry_backoff_base"`
	RetryBackoffMax  time.Duration `mapstructure:"retry_backoff_max"`
	CancelTimeout    time.Duration `mapstructure:"cancel_timeout"`
	AbandonGrace     time.Duration `mapstructure:"abandon_grace"`
}

type StoreConfig struct {
	MaxJobs       int           `mapstructure:"max_jobs"`
	RetainFor     time.Duration `mapstructure:"retain_for"`
	SweepSchedule string        `mapstructure:"sweep_schedule"`
}

type StreamConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	TerminalLogLines  int           `mapstructure:"terminal_log_lines"`
	SnapshotLogLines  int           `mapstructure:"snapshot_log_lines"`
}

// PostgresConfig enables snapshot persistence when DSN is set.
type PostgresConfig struct {
	DSN           string        `mapstructure:"dsn"`
	RestoreLimit  int           `mapstructure:"restore_limit"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// RedisConfig enables the retry cool-down ledger when Addr is set.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	LedgerTTL time.Duration `mapstructure:"ledger_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type PipelineConfig struct {
	OutputDir string        `mapstructure:"output_dir"`
	StepDelay time.Duration `mapstructure:"step_delay"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 15*time.Second)

	v.SetDefault("runner.workers", 4)
	v.SetDefault("runner.stage_retries", 3)
	v.SetDefault("runner.stage_retry_delay", 500*time.Millisecond)
	v.SetDefault("runner.max_job_retries", 5)
	v.SetDefault("runner.retry_backoff_base", 30*time.Second)
	v.SetDefault("runner.retry_backoff_max", 10*time.Minute)
	v.SetDefault("runner.cancel_timeout", 10*time.Second)
	v.SetDefault("runner.abandon_grace", 2*time.Second)

	v.SetDefault("store.max_jobs", 500)
	v.SetDefault("store.retain_for", 24*time.Hour)
	v.SetDefault("store.sweep_schedule", "@every 1m")

	v.SetDefault("stream.poll_interval", 500*time.Millisecond)
	v.SetDefault("stream.heartbeat_interval", 5*time.Second)
	v.SetDefault("stream.terminal_log_lines", 50)
	v.SetDefault("stream.snapshot_log_lines", 100)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.restore_limit", 500)
	v.SetDefault("postgres.flush_interval", time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "orchestrator:")
	v.SetDefault("redis.ledger_ttl", 24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("pipeline.output_dir", "./output")
	v.SetDefault("pipeline.step_delay", 200*time.Millisecond)
}

// Load reads defaults, then the optional config file, then ORCH_* environment
// variables (ORCH_RUNNER_WORKERS overrides runner.workers).
func Load(v *viper.Viper, file string) (Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "read config %s", file)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs *multierror.Error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = multierror.Append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.HTTP.Addr != "", "http.addr must be set")
	check(c.Runner.Workers > 0, "runner.workers must be positive, got %d", c.Runner.Workers)
	check(c.Runner.StageRetries >= 0, "runner.stage_retries must not be negative")
	check(c.Runner.MaxJobRetries >= 0, "runner.max_job_retries must not be negative")
	check(c.Runner.RetryBackoffMax >= c.Runner.RetryBackoffBase, "runner.retry_backoff_max must be >= runner.retry_backoff_base")
	check(c.Store.MaxJobs > 0, "store.max_jobs must be positive")
	check(c.Stream.PollInterval > 0, "stream.poll_interval must be positive")
	check(c.Stream.HeartbeatInterval > 0, "stream.heartbeat_interval must be positive")

	if c.Store.SweepSchedule != "" {
		if _, err := cron.ParseStandard(c.Store.SweepSchedule); err != nil {
			errs = multierror.Append(errs, errors.Wrap(err, "store.sweep_schedule"))
		}
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		check(false, "log.format must be text or json, got %q", c.Log.Format)
	}

	return errs.ErrorOrNil()
}
