// Package config provides configuration management for the livegen daemon
// using Viper for flexible configuration loading from files, environment
// variables, and command-line flags.
//
// The configuration system supports YAML files and environment variable
// overrides with the LIVEGEN_ prefix. It manages the daemon directory, API
// server settings, watcher tuning, and executor defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Daemon   DaemonConfig   `yaml:"daemon"`
	Watch    WatchConfig    `yaml:"watch"`
	Executor ExecutorConfig `yaml:"executor"`
	Log      LogConfig      `yaml:"log"`
}

type DaemonConfig struct {
	// Dir is the configuration directory holding the database, content
	// store, and PID file. Defaults to ~/.livegen.
	Dir  string `yaml:"dir"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type WatchConfig struct {
	// DebounceMillis groups rapid file change events together.
	DebounceMillis int `yaml:"debounce_ms"`
	// TailIntervalMillis is the poll interval for tailed files.
	TailIntervalMillis int `yaml:"tail_interval_ms"`
	// TailBufferLimit caps the per-file rolling line buffer.
	TailBufferLimit int `yaml:"tail_buffer_limit"`
}

type ExecutorConfig struct {
	// DefaultTimeoutSeconds applies when a program node declares no timeout.
	DefaultTimeoutSeconds int `yaml:"default_timeout"`
	// WorkDir is the fallback working directory for program nodes.
	WorkDir string `yaml:"work_dir"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load builds a Config from viper's merged sources and applies defaults.
func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if config.Daemon.Dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		config.Daemon.Dir = filepath.Join(home, ".livegen")
	}
	if config.Daemon.Host == "" {
		config.Daemon.Host = "localhost"
	}
	if config.Daemon.Port == 0 {
		config.Daemon.Port = 8765
	}
	if config.Watch.DebounceMillis <= 0 {
		config.Watch.DebounceMillis = 300
	}
	if config.Watch.TailIntervalMillis <= 0 {
		config.Watch.TailIntervalMillis = 500
	}
	if config.Watch.TailBufferLimit <= 0 {
		config.Watch.TailBufferLimit = 1000
	}
	if config.Executor.DefaultTimeoutSeconds <= 0 {
		config.Executor.DefaultTimeoutSeconds = 30
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.Log.Format == "" {
		config.Log.Format = "text"
	}

	return &config, nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Daemon.Port < 1 || c.Daemon.Port > 65535 {
		return fmt.Errorf("invalid daemon port %d", c.Daemon.Port)
	}
	if c.Watch.TailIntervalMillis < 10 {
		return fmt.Errorf("tail interval %dms too small", c.Watch.TailIntervalMillis)
	}
	return nil
}

// DatabasePath is the SQLite database location under the daemon directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Daemon.Dir, "db.sqlite")
}

// StorePath is the content store location under the daemon directory.
func (c *Config) StorePath() string {
	return filepath.Join(c.Daemon.Dir, "store")
}

// PIDPath is the daemon PID file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Daemon.Dir, "daemon.pid")
}

// Debounce returns the watcher debounce window.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Watch.DebounceMillis) * time.Millisecond
}

// TailInterval returns the tail polling interval.
func (c *Config) TailInterval() time.Duration {
	return time.Duration(c.Watch.TailIntervalMillis) * time.Millisecond
}

// DefaultTimeout returns the fallback program execution timeout.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.Executor.DefaultTimeoutSeconds) * time.Second
}

// EnsureDirs creates the daemon directory tree.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.Daemon.Dir, c.StorePath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
