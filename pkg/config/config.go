// Package config loads the application configuration from config.yaml with
// APP_ prefixed environment overrides, e.g. APP_DATABASE__DSN.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	scheduler "github.com/alextanhongpin/ani-scheduler"
)

const (
	AppName     = "ani-scheduler"
	FileName    = "config.yaml"
	EnvPrefix   = "APP"
	AnimeSource = "anime"
)

var (
	ErrMissingCategory = errors.New("config: missing datasource category")
	ErrInvalidSource   = errors.New("config: invalid datasource")
)

type Config struct {
	Datasource map[string][]DataSource `mapstructure:"datasource"`
	Database   Database                `mapstructure:"database"`
	Log        Log                     `mapstructure:"log"`
	Server     Server                  `mapstructure:"server"`
	Scheduler  Scheduler               `mapstructure:"scheduler"`
}

// DataSource is one platform endpoint fetched on a cron schedule.
// RetryTimes must fit 0-255; Jobs rejects anything else.
type DataSource struct {
	Name       string `mapstructure:"name" yaml:"name"`
	URL        string `mapstructure:"url" yaml:"url"`
	Cmd        string `mapstructure:"cmd" yaml:"cmd"`
	CronExpr   string `mapstructure:"cron_expr" yaml:"cron_expr"`
	RetryTimes int    `mapstructure:"retry_times" yaml:"retry_times"`
}

type Database struct {
	// Driver is sqlite or postgres.
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type Log struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
	File    string `mapstructure:"file"`
}

type Server struct {
	// Port of the status server, 0 disables it.
	Port int `mapstructure:"port"`
}

type Scheduler struct {
	Timezone           string        `mapstructure:"timezone"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	ExponentialBackoff bool          `mapstructure:"exponential_backoff"`
	MaxRetryDelay      time.Duration `mapstructure:"max_retry_delay"`
	MisfireGrace       time.Duration `mapstructure:"misfire_grace"`
	ResultBuffer       int           `mapstructure:"result_buffer"`
}

// DefaultDir is the per-user directory holding config.yaml and the data
// directory.
func DefaultDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}

	return filepath.Join(dir, AppName)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.console", true)
	v.SetDefault("log.file", "")
	v.SetDefault("server.port", 0)
	v.SetDefault("scheduler.timezone", "")
	v.SetDefault("scheduler.retry_delay", scheduler.DefaultRetryDelay)
	v.SetDefault("scheduler.exponential_backoff", false)
	v.SetDefault("scheduler.max_retry_delay", time.Minute)
	v.SetDefault("scheduler.misfire_grace", scheduler.DefaultMisfireGrace)
	v.SetDefault("scheduler.result_buffer", scheduler.DefaultResultBuffer)

	return v
}

// Load reads path, which is either a config file or a directory containing
// config.yaml. An empty path means DefaultDir.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultDir()
	}

	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, FileName)
	}

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: failed to read %s", err, path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s", err, path)
	}

	if cfg.Database.DSN == "" && isSQLite(cfg.Database.Driver) {
		cfg.Database.DSN = filepath.Join(filepath.Dir(path), "data", "app_data.db")
	}

	return &cfg, nil
}

func isSQLite(driver string) bool {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		return true
	default:
		return false
	}
}

// Jobs returns the job descriptors of a datasource category in file order.
func (c *Config) Jobs(category string) ([]scheduler.Job, error) {
	sources, ok := c.Datasource[category]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingCategory, category)
	}

	jobs := make([]scheduler.Job, 0, len(sources))
	for i, src := range sources {
		if strings.TrimSpace(src.Name) == "" || strings.TrimSpace(src.Cmd) == "" {
			return nil, fmt.Errorf("%w: %s[%d] requires name and cmd", ErrInvalidSource, category, i)
		}

		if src.RetryTimes < 0 || src.RetryTimes > math.MaxUint8 {
			return nil, fmt.Errorf("%w: %s[%d] retry_times %d out of range [0, %d]", ErrInvalidSource, category, i, src.RetryTimes, math.MaxUint8)
		}

		jobs = append(jobs, scheduler.NewJob(src.Name, src.CronExpr, src.Cmd, src.URL, uint8(src.RetryTimes)))
	}

	return jobs, nil
}

// Location resolves the scheduler timezone, defaulting to the local zone.
func (s Scheduler) Location() (*time.Location, error) {
	if strings.TrimSpace(s.Timezone) == "" {
		return time.Local, nil
	}

	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: timezone %q", err, s.Timezone)
	}

	return loc, nil
}

func (s Scheduler) Backoff() scheduler.BackoffFunc {
	delay := s.RetryDelay
	if delay <= 0 {
		delay = scheduler.DefaultRetryDelay
	}

	if !s.ExponentialBackoff {
		return scheduler.FlatBackoff(delay)
	}

	maxDelay := s.MaxRetryDelay
	if maxDelay < delay {
		maxDelay = delay
	}

	return scheduler.ExponentialBackoff(delay, maxDelay)
}
