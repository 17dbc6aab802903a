// Package config loads service-level settings for the matching engine from
// a YAML file with environment-variable overrides. Only the service layer
// (cmd/server) reads it; the core packages accept everything
// they need as explicit constructor arguments.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level configuration, mapping directly onto the YAML
// file structure.
type Config struct {
	WAL      WALConfig      `mapstructure:"wal"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Listen   ListenConfig   `mapstructure:"listen"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// WALConfig controls where each market's write-ahead log lives.
type WALConfig struct {
	Dir string `mapstructure:"dir"`
}

// SnapshotConfig controls where periodic book snapshots are written and
// how often.
type SnapshotConfig struct {
	Dir      string `mapstructure:"dir"`
	Interval string `mapstructure:"interval"`
}

// ListenConfig controls the TCP server's bind address.
type ListenConfig struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
}

// LoggingConfig controls zerolog's global level and output format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file at path, with ENGINE_* environment
// variables overriding any field (e.g. ENGINE_WAL_DIR, ENGINE_LISTEN_PORT).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("wal.dir", "./data/wal")
	v.SetDefault("snapshot.dir", "./data/snapshots")
	v.SetDefault("snapshot.interval", "30s")
	v.SetDefault("listen.address", "0.0.0.0")
	v.SetDefault("listen.port", 9000)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields the service layer cannot safely run without.
func (c *Config) Validate() error {
	if c.WAL.Dir == "" {
		return fmt.Errorf("config: wal.dir is required")
	}
	if c.Snapshot.Dir == "" {
		return fmt.Errorf("config: snapshot.dir is required")
	}
	if c.Listen.Port <= 0 {
		return fmt.Errorf("config: listen.port must be positive")
	}
	return nil
}
