// Package config loads service settings from an optional YAML file layered
// under DOJO_ environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Lock     LockConfig     `yaml:"lock"`
	Redis    RedisConfig    `yaml:"redis"`
	Activity ActivityConfig `yaml:"activity"`
	Log      LogConfig      `yaml:"log"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Mastery  MasteryConfig  `yaml:"mastery"`
	Sensei   SenseiConfig   `yaml:"sensei"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// UserHeader carries the caller id set by the upstream auth proxy.
	UserHeader string `yaml:"user_header"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "memory"
	Path   string `yaml:"path"`
}

// LockConfig selects the session lock backend.
type LockConfig struct {
	Backend string `yaml:"backend"` // "memory" or "redis"

	// TTL is how long a crashed holder keeps the lock. Live holders renew it.
	TTL    time.Duration `yaml:"ttl"`
	Prefix string        `yaml:"prefix"`
}

// RedisConfig is shared by the redis lock and the activity publisher.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ActivityConfig tunes the activity dispatcher.
type ActivityConfig struct {
	Buffer int `yaml:"buffer"`
	// Publish sends activities to Channel on redis in addition to the store.
	Publish bool   `yaml:"publish"`
	Channel string `yaml:"channel"`
}

// LogConfig selects the zap preset.
type LogConfig struct {
	Mode string `yaml:"mode"` // "development" or "production"
}

// TracingConfig enables OTLP trace export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// MasteryConfig bounds optimistic write retries.
type MasteryConfig struct {
	RetryAttempts int `yaml:"retry_attempts"`
}

// SenseiConfig tunes the conversation loop.
type SenseiConfig struct {
	MaxRounds int `yaml:"max_rounds"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    2 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
			UserHeader:      "X-User-ID",
		},
		Store:    StoreConfig{Driver: "sqlite"},
		Lock:     LockConfig{Backend: "memory", TTL: 2 * time.Minute, Prefix: "dojo:lock:session:"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Activity: ActivityConfig{Buffer: 256, Channel: "dojo.activity"},
		Log:      LogConfig{Mode: "production"},
		Tracing:  TracingConfig{ServiceName: "dojo"},
		Mastery:  MasteryConfig{RetryAttempts: 5},
		Sensei:   SenseiConfig{MaxRounds: 5},
	}
}

// Load reads path (if non-empty) over the defaults, then applies the
// environment. ${VAR} references in the file are expanded first.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Server.Addr, "DOJO_ADDR")
	setString(&cfg.Server.UserHeader, "DOJO_USER_HEADER")
	setString(&cfg.Store.Driver, "DOJO_STORE_DRIVER")
	setString(&cfg.Store.Path, "DOJO_DB")
	setString(&cfg.Lock.Backend, "DOJO_LOCK_BACKEND")
	setString(&cfg.Redis.Addr, "DOJO_REDIS_ADDR")
	setString(&cfg.Redis.Password, "DOJO_REDIS_PASSWORD")
	setString(&cfg.Activity.Channel, "DOJO_ACTIVITY_CHANNEL")
	setString(&cfg.Log.Mode, "DOJO_LOG_MODE")
	setString(&cfg.Tracing.Endpoint, "DOJO_OTLP_ENDPOINT")

	if v := os.Getenv("DOJO_ACTIVITY_PUBLISH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DOJO_ACTIVITY_PUBLISH: %w", err)
		}
		cfg.Activity.Publish = b
	}
	if v := os.Getenv("DOJO_MASTERY_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DOJO_MASTERY_RETRY_ATTEMPTS: %w", err)
		}
		cfg.Mastery.RetryAttempts = n
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate rejects unknown backends and nonsensical limits.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown store driver: %q", c.Store.Driver)
	}
	switch c.Lock.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown lock backend: %q", c.Lock.Backend)
	}
	if c.Mastery.RetryAttempts < 1 {
		return fmt.Errorf("mastery.retry_attempts must be at least 1, got %d", c.Mastery.RetryAttempts)
	}
	if c.Activity.Buffer < 1 {
		return fmt.Errorf("activity.buffer must be at least 1, got %d", c.Activity.Buffer)
	}
	return nil
}

// NeedsRedis reports whether any component is configured to use redis.
func (c Config) NeedsRedis() bool {
	return c.Lock.Backend == "redis" || c.Activity.Publish
}
