// Package config loads portal settings from a config file, environment
// variables, and defaults, in that order of increasing precedence for
// the environment and decreasing for defaults. Settings cover the HTTP
// listener, the SQLite database, the diff tool subprocess, the branch
// catalog, sync cadence enforcement, and log rotation.
package config

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds every runtime setting for the portal.
type Config struct {
	// ListenAddr is the HTTP listen address, e.g. ":8080".
	ListenAddr string `mapstructure:"listen_addr"`

	// DBPath is the SQLite database file.
	DBPath string `mapstructure:"db_path"`

	// Python is the interpreter used to run the diff script.
	Python string `mapstructure:"python"`

	// DiffScript is the path to the Perforce diff extraction script.
	DiffScript string `mapstructure:"diff_script"`

	// RefdataPath is the branch/model catalog YAML file. Empty disables
	// catalog validation and the hot-reload watcher.
	RefdataPath string `mapstructure:"refdata_path"`

	// SyncTimeout bounds a single sync attempt including the diff tool
	// subprocess.
	SyncTimeout time.Duration `mapstructure:"sync_timeout"`

	// SchedulerTick is how often the background scheduler checks for
	// projects due a refresh.
	SchedulerTick time.Duration `mapstructure:"scheduler_tick"`

	// LogFile, when set, routes logs through a size-rotated file instead
	// of stderr.
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
	LogMaxAgeDays int    `mapstructure:"log_max_age_days"`
}

// Load reads configuration from fmsportal.yaml (searched in path, or
// the working directory and /etc/fmsportal when path is empty) merged
// with FMSPORTAL_* environment variables. A missing config file is not
// an error; the defaults stand.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("db_path", "fmsportal.db")
	v.SetDefault("python", "python3")
	v.SetDefault("diff_script", "get_dif_from_p4.py")
	v.SetDefault("refdata_path", "")
	v.SetDefault("sync_timeout", 10*time.Minute)
	v.SetDefault("scheduler_tick", time.Hour)
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 50)
	v.SetDefault("log_max_backups", 5)
	v.SetDefault("log_max_age_days", 30)

	v.SetConfigName("fmsportal")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fmsportal")
	}

	v.SetEnvPrefix("FMSPORTAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	if c.SyncTimeout <= 0 {
		return fmt.Errorf("sync_timeout must be positive, got %s", c.SyncTimeout)
	}
	if c.SchedulerTick <= 0 {
		return fmt.Errorf("scheduler_tick must be positive, got %s", c.SchedulerTick)
	}
	return nil
}

// LogWriter returns the destination for all loggers. With LogFile set
// it is a lumberjack rotating writer; the caller owns closing it.
func (c *Config) LogWriter() io.WriteCloser {
	if c.LogFile == "" {
		return nopCloser{os.Stderr}
	}
	return &lumberjack.Logger{
		Filename:   c.LogFile,
		MaxSize:    c.LogMaxSizeMB,
		MaxBackups: c.LogMaxBackups,
		MaxAge:     c.LogMaxAgeDays,
		Compress:   true,
	}
}

// NewLogger builds a prefixed logger on the given writer.
func NewLogger(w io.Writer, prefix string) *log.Logger {
	return log.New(w, prefix, log.LstdFlags)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
