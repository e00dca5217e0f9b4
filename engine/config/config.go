// Package config loads engine configuration from YAML and the environment.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables overriding file values.
const (
	EnvShardCount  = "SHARDFLOW_SHARD_COUNT"
	EnvStoreDriver = "SHARDFLOW_STORE_DRIVER"
	EnvStoreDSN    = "SHARDFLOW_STORE_DSN"
	EnvLogLevel    = "SHARDFLOW_LOG_LEVEL"
)

// Config is the top-level configuration of a shardflow process.
//
// Example YAML:
//
//	engine:
//	  shard_count: 8
//	store:
//	  driver: sqlite
//	  dsn: ./shardflow.db
//	log:
//	  level: info
//	  format: json
//	metrics:
//	  addr: ":9090"
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Store   StoreConfig   `yaml:"store"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// EngineConfig sizes the coordinator.
type EngineConfig struct {
	// ShardCount is the number of shard processors. Zero means runtime.NumCPU().
	ShardCount int `yaml:"shard_count"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is one of "memory", "sqlite", "mysql", "postgres".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// LogConfig configures the slog handler built by NewLogger.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Engine: EngineConfig{ShardCount: runtime.NumCPU()},
		Store:  StoreConfig{Driver: "memory"},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the YAML file at path, applies environment overrides and validates
// the result. An empty path yields Default with overrides applied.
func Load(path string) (Config, error) {
	if path == "" {
		return finish(Default())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default, applies environment overrides and validates.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return finish(cfg)
}

func finish(cfg Config) (Config, error) {
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if cfg.Engine.ShardCount == 0 {
		cfg.Engine.ShardCount = runtime.NumCPU()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv(EnvShardCount); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvShardCount, v, err)
		}
		c.Engine.ShardCount = n
	}
	if v, ok := os.LookupEnv(EnvStoreDriver); ok {
		c.Store.Driver = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv(EnvStoreDSN); ok {
		c.Store.DSN = v
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		c.Log.Level = strings.TrimSpace(v)
	}
	return nil
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Engine.ShardCount < 1 {
		return fmt.Errorf("engine.shard_count must be at least 1, got %d", c.Engine.ShardCount)
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite", "mysql", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log.format %q", c.Log.Format)
	}
	return nil
}

// NewLogger builds a slog.Logger writing to w according to the log section.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log.level %q", s)
	}
}
