// Package config loads service configuration from YAML with environment
// overrides. The file declares the serving address, logging, the model
// provider, runner limits, the storage backend and the agent and tool
// registrations handed to the registry.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/loomlab/loom/registry"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ModelConfig selects and configures the completion provider.
type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	Name        string  `yaml:"name"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
}

// RunnerConfig bounds the reasoning loop.
type RunnerConfig struct {
	MaxIterations int `yaml:"max_iterations"`
	// Memory selects the context strategy: buffer, window or focus.
	Memory string `yaml:"memory"`
	// WindowSize applies when Memory is window.
	WindowSize int `yaml:"window_size"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// SQLiteConfig holds the database location.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// StoreConfig selects the persistence backend: memory, redis or sqlite.
type StoreConfig struct {
	Backend string       `yaml:"backend"`
	Redis   RedisConfig  `yaml:"redis"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
}

// Config is the root document.
type Config struct {
	Server ServerConfig               `yaml:"server"`
	Log    LogConfig                  `yaml:"log"`
	Model  ModelConfig                `yaml:"model"`
	Runner RunnerConfig               `yaml:"runner"`
	Store  StoreConfig                `yaml:"store"`
	Agents map[string]registry.Config `yaml:"agents"`
	Tools  map[string]registry.Config `yaml:"tools"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		Log:    LogConfig{Level: "info", Format: "text"},
		Model:  ModelConfig{Provider: "openai", Temperature: 0.7},
		Runner: RunnerConfig{MaxIterations: 5, Memory: "buffer", WindowSize: 20},
		Store:  StoreConfig{Backend: "memory", SQLite: SQLiteConfig{Path: "loom.db"}},
	}
}

// Load reads the YAML file at path on top of the defaults, then applies
// environment overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Environment variables recognized by applyEnv. Secrets in particular are
// expected to arrive this way rather than through the file.
const (
	envServerAddr  = "LOOM_SERVER_ADDR"
	envLogLevel    = "LOOM_LOG_LEVEL"
	envLogFormat   = "LOOM_LOG_FORMAT"
	envModelAPIKey = "LOOM_MODEL_API_KEY"
	envModelName   = "LOOM_MODEL_NAME"
	envRedisAddr   = "LOOM_REDIS_ADDR"
	envRedisDB     = "LOOM_REDIS_DB"
)

func (c *Config) applyEnv() {
	if v := os.Getenv(envServerAddr); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv(envLogFormat); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv(envModelAPIKey); v != "" {
		c.Model.APIKey = v
	}
	if v := os.Getenv(envModelName); v != "" {
		c.Model.Name = v
	}
	if v := os.Getenv(envRedisAddr); v != "" {
		c.Store.Redis.Addr = v
	}
	if v := os.Getenv(envRedisDB); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Store.Redis.DB = db
		}
	}
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	switch c.Runner.Memory {
	case "", "buffer", "window", "focus":
	default:
		return fmt.Errorf("unknown memory strategy %q", c.Runner.Memory)
	}
	if c.Runner.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must not be negative")
	}
	return nil
}
