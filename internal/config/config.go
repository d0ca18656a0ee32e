// Package config loads scansync settings with viper.
//
// Precedence, highest first: bound command-line flags, environment
// variables, the config file given with --config, a .env file in the working
// directory, built-in defaults. Environment variable names are the ones the
// scanner sync service has always used (CSV_FILE_PATH, RETRY_ATTEMPTS, ...).
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Watch modes.
const (
	WatchPoll   = "poll"
	WatchNotify = "notify"
)

// Config is the full service configuration. Durations are integer
// milliseconds to match the environment variables.
type Config struct {
	Source    SourceConfig    `mapstructure:"source" json:"source" yaml:"source"`
	Watch     WatchConfig     `mapstructure:"watch" json:"watch" yaml:"watch"`
	Retry     RetryConfig     `mapstructure:"retry" json:"retry" yaml:"retry"`
	Batch     BatchConfig     `mapstructure:"batch" json:"batch" yaml:"batch"`
	Record    RecordConfig    `mapstructure:"record" json:"record" yaml:"record"`
	State     StateConfig     `mapstructure:"state" json:"state" yaml:"state"`
	Store     StoreConfig     `mapstructure:"store" json:"store" yaml:"store"`
	Log       LogConfig       `mapstructure:"log" json:"log" yaml:"log"`
	Dashboard DashboardConfig `mapstructure:"dashboard" json:"dashboard" yaml:"dashboard"`
}

type SourceConfig struct {
	Path string `mapstructure:"path" json:"path" yaml:"path"`
}

type WatchConfig struct {
	Mode         string `mapstructure:"mode" json:"mode" yaml:"mode"`
	PollInterval int    `mapstructure:"poll_interval" json:"poll_interval" yaml:"poll_interval"`
}

type RetryConfig struct {
	Attempts int `mapstructure:"attempts" json:"attempts" yaml:"attempts"`
	Delay    int `mapstructure:"delay" json:"delay" yaml:"delay"`
}

type BatchConfig struct {
	Size int `mapstructure:"size" json:"size" yaml:"size"`
}

type RecordConfig struct {
	DefaultCountry string `mapstructure:"default_country" json:"default_country" yaml:"default_country"`
	RequireLicense bool   `mapstructure:"require_license" json:"require_license" yaml:"require_license"`
	Timezone       string `mapstructure:"timezone" json:"timezone" yaml:"timezone"`
}

type StateConfig struct {
	Path string `mapstructure:"path" json:"path" yaml:"path"`
}

type StoreConfig struct {
	Driver         string `mapstructure:"driver" json:"driver" yaml:"driver"`
	DSN            string `mapstructure:"dsn" json:"-" yaml:"-"`
	Table          string `mapstructure:"table" json:"table" yaml:"table"`
	AttemptTimeout int    `mapstructure:"attempt_timeout" json:"attempt_timeout" yaml:"attempt_timeout"`
	SimpleProtocol bool   `mapstructure:"simple_protocol" json:"simple_protocol" yaml:"simple_protocol"`
	MaxConns       int    `mapstructure:"max_conns" json:"max_conns" yaml:"max_conns"`
}

type LogConfig struct {
	Level string `mapstructure:"level" json:"level" yaml:"level"`
	File  string `mapstructure:"file" json:"file" yaml:"file"`
}

type DashboardConfig struct {
	Addr string `mapstructure:"addr" json:"addr" yaml:"addr"`
}

// envBindings maps config keys to their environment variables.
var envBindings = map[string]string{
	"source.path":            "CSV_FILE_PATH",
	"watch.mode":             "WATCH_MODE",
	"watch.poll_interval":    "CSV_POLLING_INTERVAL",
	"retry.attempts":         "RETRY_ATTEMPTS",
	"retry.delay":            "RETRY_DELAY",
	"batch.size":             "BATCH_SIZE",
	"record.default_country": "DEFAULT_COUNTRY",
	"record.require_license": "REQUIRE_DRIVERS_LICENSE",
	"record.timezone":        "SCANNER_TIMEZONE",
	"state.path":             "STATE_FILE_PATH",
	"store.driver":           "STORE_DRIVER",
	"store.dsn":              "DATABASE_URL",
	"store.table":            "STORE_TABLE",
	"store.attempt_timeout":  "STORE_ATTEMPT_TIMEOUT",
	"store.simple_protocol":  "STORE_SIMPLE_PROTOCOL",
	"store.max_conns":        "STORE_MAX_CONNS",
	"log.level":              "LOG_LEVEL",
	"log.file":               "LOG_FILE_PATH",
	"dashboard.addr":         "DASHBOARD_ADDR",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.path", "./scanner_data.csv")
	v.SetDefault("watch.mode", WatchPoll)
	v.SetDefault("watch.poll_interval", 1000)
	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", 1000)
	v.SetDefault("batch.size", 50)
	v.SetDefault("record.default_country", "USA")
	v.SetDefault("record.require_license", false)
	v.SetDefault("record.timezone", "Local")
	v.SetDefault("state.path", "./.csv-sync-state.json")
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.table", "customers")
	v.SetDefault("store.attempt_timeout", 30000)
	v.SetDefault("store.simple_protocol", false)
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "./logs/csv-sync.log")
	v.SetDefault("dashboard.addr", "")
}

// Options controls Load.
type Options struct {
	// ConfigFile is an optional YAML, TOML or JSON file.
	ConfigFile string

	// EnvFile is a dotenv file; missing is fine. Defaults to ".env".
	EnvFile string

	// Flags binds config keys to command-line flags. Only flags the user
	// actually set take effect.
	Flags map[string]*pflag.Flag
}

// Load reads configuration from all sources.
func Load(opts Options) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if opts.EnvFile == "" {
		opts.EnvFile = ".env"
	}
	if err := applyEnvFile(v, opts.EnvFile); err != nil {
		return nil, err
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", opts.ConfigFile, err)
		}
	}

	for key, flag := range opts.Flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("failed to bind flag %s: %w", flag.Name, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	cfg.normalize()
	return &cfg, nil
}

// applyEnvFile loads a dotenv file as defaults, so real environment
// variables and the config file still win.
func applyEnvFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("error checking env file %s: %w", path, err)
	}

	dotenv := viper.New()
	dotenv.SetConfigFile(path)
	dotenv.SetConfigType("env")
	if err := dotenv.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading env file %s: %w", path, err)
	}

	for key, env := range envBindings {
		// viper lower-cases dotenv keys
		name := strings.ToLower(env)
		if dotenv.IsSet(name) {
			v.SetDefault(key, dotenv.Get(name))
		}
	}
	return nil
}

func (c *Config) normalize() {
	c.Watch.Mode = strings.ToLower(strings.TrimSpace(c.Watch.Mode))
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Record.DefaultCountry = strings.TrimSpace(c.Record.DefaultCountry)
}

// PollInterval returns watch.poll_interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Watch.PollInterval) * time.Millisecond
}

// RetryDelay returns retry.delay as a duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Retry.Delay) * time.Millisecond
}

// AttemptTimeout returns store.attempt_timeout as a duration.
func (c *Config) AttemptTimeout() time.Duration {
	return time.Duration(c.Store.AttemptTimeout) * time.Millisecond
}

// Location resolves record.timezone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Record.Timezone {
	case "", "Local", "local":
		return time.Local, nil
	case "UTC", "utc":
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Record.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown time zone %q: %w", c.Record.Timezone, err)
	}
	return loc, nil
}

// Report is the result of Validate.
type Report struct {
	Errors   []string
	Warnings []string
}

// OK reports whether there are no errors.
func (r Report) OK() bool {
	return len(r.Errors) == 0
}

// Err joins all errors, or returns nil.
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = errors.New(e)
	}
	return errors.Join(errs...)
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the configuration. Errors are fatal at startup; warnings
// are printed.
func (c *Config) Validate() Report {
	var r Report
	fail := func(format string, args ...any) { r.Errors = append(r.Errors, fmt.Sprintf(format, args...)) }
	warn := func(format string, args ...any) { r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...)) }

	if c.Source.Path == "" {
		fail("source.path (CSV_FILE_PATH) is required")
	}
	switch c.Watch.Mode {
	case WatchPoll, WatchNotify:
	default:
		fail("watch.mode must be %q or %q, got %q", WatchPoll, WatchNotify, c.Watch.Mode)
	}
	if c.Watch.PollInterval <= 0 {
		fail("watch.poll_interval (CSV_POLLING_INTERVAL) must be positive, got %d", c.Watch.PollInterval)
	}

	if c.Retry.Attempts < 1 {
		fail("retry.attempts (RETRY_ATTEMPTS) must be at least 1, got %d", c.Retry.Attempts)
	}
	if c.Retry.Delay < 0 {
		fail("retry.delay (RETRY_DELAY) must not be negative, got %d", c.Retry.Delay)
	} else if c.Retry.Delay == 0 {
		warn("retry.delay is 0; failed inserts are retried immediately")
	}
	if c.Batch.Size < 1 {
		fail("batch.size (BATCH_SIZE) must be at least 1, got %d", c.Batch.Size)
	}

	if _, err := c.Location(); err != nil {
		fail("record.timezone (SCANNER_TIMEZONE): %v", err)
	}
	if c.Record.DefaultCountry == "" {
		warn("record.default_country is empty; rows without COUNTRY stay blank")
	}
	if !c.Record.RequireLicense {
		warn("record.require_license is false; rows without a license number are not protected by the store's unique constraint")
	}

	if c.State.Path == "" {
		fail("state.path (STATE_FILE_PATH) is required")
	}

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DSN == "" {
			fail("store.dsn (DATABASE_URL) is required for the postgres driver")
		}
	case "sqlite":
		if c.Store.DSN == "" {
			fail("store.dsn (DATABASE_URL) must name a database file for the sqlite driver")
		}
	default:
		fail("store.driver (STORE_DRIVER) must be postgres or sqlite, got %q", c.Store.Driver)
	}
	if !tableName.MatchString(c.Store.Table) {
		fail("store.table (STORE_TABLE) %q is not a valid table name", c.Store.Table)
	}
	if c.Store.AttemptTimeout < 0 {
		fail("store.attempt_timeout must not be negative, got %d", c.Store.AttemptTimeout)
	} else if c.Store.AttemptTimeout == 0 {
		warn("store.attempt_timeout is 0; a hung insert blocks the watcher until it returns")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		fail("log.level (LOG_LEVEL) must be debug, info, warn or error, got %q", c.Log.Level)
	}
	if c.Log.File == "" {
		warn("log.file is empty; logging to stderr only")
	}

	return r
}

// SourceDir returns the directory holding the source file.
func (c *Config) SourceDir() string {
	return filepath.Dir(c.Source.Path)
}

// RedactedDSN returns the DSN with any password masked, for display.
func (c *Config) RedactedDSN() string {
	if c.Store.DSN == "" {
		return ""
	}
	if c.Store.Driver == "sqlite" {
		return c.Store.DSN
	}
	u, err := url.Parse(c.Store.DSN)
	if err != nil || u.Scheme == "" {
		return "(set)"
	}
	return u.Redacted()
}
