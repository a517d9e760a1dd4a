// File: control/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Typed daemon configuration with YAML loading and validated defaults.

package control

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the tunables of a loop daemon.
type Config struct {
	// Addr is the listen address in "host:port" form.
	Addr string `yaml:"addr"`
	// Backlog is the listen(2) backlog; 0 selects the OS maximum.
	Backlog int `yaml:"backlog"`
	// MaxEvents caps readiness events delivered per poll.
	MaxEvents int `yaml:"max_events"`
	// BufferSize is the per-connection receive buffer size in bytes.
	BufferSize int `yaml:"buffer_size"`
	// LogLevel is a logrus level name (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
}

// DefaultConfig returns the baseline configuration.
func DefaultConfig() Config {
	return Config{
		Addr:       ":9010",
		Backlog:    0,
		MaxEvents:  128,
		BufferSize: 64 * 1024,
		LogLevel:   "info",
	}
}

// LoadConfig reads a YAML file over the defaults. A missing path returns
// the defaults unchanged.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the loop cannot operate with.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr must not be empty")
	}
	if c.MaxEvents <= 0 {
		return fmt.Errorf("config: max_events must be positive, got %d", c.MaxEvents)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("config: buffer_size must be positive, got %d", c.BufferSize)
	}
	if c.Backlog < 0 {
		return fmt.Errorf("config: backlog must not be negative, got %d", c.Backlog)
	}
	return nil
}
