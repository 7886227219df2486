package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables read by LoadAppConfig
const (
	EnvConfigPath = "PROMPTCHAIN_CONFIG"
	EnvRedisAddr  = "PROMPTCHAIN_REDIS_ADDR"
	EnvDBPath     = "PROMPTCHAIN_DB"
	EnvAddr       = "PROMPTCHAIN_ADDR"
	EnvLogLevel   = "PROMPTCHAIN_LOG_LEVEL"
)

// AppConfig is the process configuration for the CLI and server
type AppConfig struct {
	LogLevel    string                    `yaml:"log_level"`
	Server      ServerConfig              `yaml:"server"`
	Sandbox     SandboxConfig             `yaml:"sandbox"`
	Cache       CacheConfig               `yaml:"cache"`
	Store       StoreConfig               `yaml:"store"`
	Concurrency int                       `yaml:"concurrency"` // rows run in parallel, default 1
	Providers   map[string]ProviderConfig `yaml:"providers"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type SandboxConfig struct {
	TimeoutMs     int  `yaml:"timeout_ms"`
	MemoryLimitMB int  `yaml:"memory_limit_mb"`
	InProcess     bool `yaml:"in_process"`
}

type CacheConfig struct {
	Backend    string `yaml:"backend"` // memory, redis, none
	RedisAddr  string `yaml:"redis_addr"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	Prefix     string `yaml:"prefix"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type StoreConfig struct {
	Path string `yaml:"path"` // SQLite file, empty disables persistence
}

// DefaultAppConfig returns the configuration used when no file is given
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		LogLevel: "info",
		Server:   ServerConfig{Addr: ":8080"},
		Sandbox: SandboxConfig{
			TimeoutMs:     1000,
			MemoryLimitMB: 8,
		},
		Cache:       CacheConfig{Backend: "memory"},
		Store:       StoreConfig{Path: "promptchain.db"},
		Concurrency: 1,
		Providers: map[string]ProviderConfig{
			"echo": {Type: "echo"},
		},
	}
}

// LoadAppConfig reads the configuration file at path, falling back to
// $PROMPTCHAIN_CONFIG and then to defaults. Environment overrides are
// applied last.
func LoadAppConfig(path string) (*AppConfig, error) {
	cfg := DefaultAppConfig()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) applyEnv() {
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Cache.Backend = "redis"
		c.Cache.RedisAddr = v
	}
	if v, ok := os.LookupEnv(EnvDBPath); ok {
		c.Store.Path = v
	}
	if v := os.Getenv(EnvAddr); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the configuration
func (c *AppConfig) Validate() error {
	var errs []error

	switch c.Cache.Backend {
	case "memory", "none", "":
	case "redis":
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("cache: redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache: unknown backend '%s'", c.Cache.Backend))
	}

	if c.Concurrency < 0 {
		errs = append(errs, errors.New("concurrency must not be negative"))
	}

	for name, p := range c.Providers {
		if err := p.Validate(name); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// SandboxTimeout returns the sandbox timeout as a duration
func (c *AppConfig) SandboxTimeout() time.Duration {
	return time.Duration(c.Sandbox.TimeoutMs) * time.Millisecond
}

// SandboxMemoryLimit returns the sandbox heap ceiling in bytes
func (c *AppConfig) SandboxMemoryLimit() uint64 {
	return uint64(c.Sandbox.MemoryLimitMB) << 20
}

// CacheTTL returns the cache expiration, zero meaning none
func (c *AppConfig) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}
