package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "30s" or
// "24h" instead of nanosecond integers.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Roles a loyaltyd process can run as.
const (
	RoleAPI       = "api"       // serve HTTP, delegate transfers over the bus
	RoleAuthority = "authority" // apply transfers arriving over the bus
	RoleBoth      = "both"      // apply locally and serve the bus
)

// Config is the loyaltyd configuration, loaded from YAML and overridable
// per-field with LOYALTY_* environment variables.
type Config struct {
	Addr     string `yaml:"addr"`
	Role     string `yaml:"role"`
	LogLevel string `yaml:"log_level"`

	Store       StoreConfig       `yaml:"store"`
	Bus         BusConfig         `yaml:"bus"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Webhook     WebhookConfig     `yaml:"webhook"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Kind     string `yaml:"kind"`     // memory, postgres, sqlite, mongo
	DSN      string `yaml:"dsn"`      // postgres
	Path     string `yaml:"path"`     // sqlite
	URI      string `yaml:"uri"`      // mongo
	Database string `yaml:"database"` // mongo
}

// BusConfig selects the request/reply transport.
type BusConfig struct {
	Kind           string   `yaml:"kind"` // memory, redis
	RedisAddr      string   `yaml:"redis_addr"`
	RequestTimeout Duration `yaml:"request_timeout"`
}

// IdempotencyConfig selects the replay-record backend.
type IdempotencyConfig struct {
	Kind      string   `yaml:"kind"` // memory, redis
	RedisAddr string   `yaml:"redis_addr"`
	Retention Duration `yaml:"retention"`
}

// WebhookConfig tunes outbound delivery.
type WebhookConfig struct {
	MaxAttempts int      `yaml:"max_attempts"`
	RetryDelay  Duration `yaml:"retry_delay"`
}

func defaultConfig() *Config {
	return &Config{
		Addr:     ":8080",
		Role:     RoleBoth,
		LogLevel: "info",
		Store: StoreConfig{
			Kind: "memory",
		},
		Bus: BusConfig{
			Kind:           "memory",
			RedisAddr:      "localhost:6379",
			RequestTimeout: Duration(30 * time.Second),
		},
		Idempotency: IdempotencyConfig{
			Kind:      "memory",
			RedisAddr: "localhost:6379",
			Retention: Duration(24 * time.Hour),
		},
		Webhook: WebhookConfig{
			MaxAttempts: 3,
			RetryDelay:  Duration(time.Second),
		},
	}
}

// loadConfig builds the effective configuration: defaults, then the YAML
// file when a path is given, then LOYALTY_* environment overrides.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Addr, "LOYALTY_ADDR")
	setString(&cfg.Role, "LOYALTY_ROLE")
	setString(&cfg.LogLevel, "LOYALTY_LOG_LEVEL")

	setString(&cfg.Store.Kind, "LOYALTY_STORE_KIND")
	setString(&cfg.Store.DSN, "LOYALTY_STORE_DSN")
	setString(&cfg.Store.Path, "LOYALTY_STORE_PATH")
	setString(&cfg.Store.URI, "LOYALTY_STORE_URI")
	setString(&cfg.Store.Database, "LOYALTY_STORE_DATABASE")

	setString(&cfg.Bus.Kind, "LOYALTY_BUS_KIND")
	setString(&cfg.Bus.RedisAddr, "LOYALTY_BUS_REDIS_ADDR")
	if err := setDuration(&cfg.Bus.RequestTimeout, "LOYALTY_BUS_REQUEST_TIMEOUT"); err != nil {
		return err
	}

	setString(&cfg.Idempotency.Kind, "LOYALTY_IDEMPOTENCY_KIND")
	setString(&cfg.Idempotency.RedisAddr, "LOYALTY_IDEMPOTENCY_REDIS_ADDR")
	if err := setDuration(&cfg.Idempotency.Retention, "LOYALTY_IDEMPOTENCY_RETENTION"); err != nil {
		return err
	}

	return nil
}

func setString(dst *string, name string) {
	if v := os.Getenv(name); v != "" {
		*dst = v
	}
}

func setDuration(dst *Duration, name string) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = Duration(parsed)
	return nil
}

func (c *Config) validate() error {
	switch c.Role {
	case RoleAPI, RoleAuthority, RoleBoth:
	default:
		return fmt.Errorf("invalid role %q (want api, authority or both)", c.Role)
	}

	switch c.Store.Kind {
	case "memory", "postgres", "sqlite", "mongo":
	default:
		return fmt.Errorf("invalid store kind %q", c.Store.Kind)
	}

	switch c.Bus.Kind {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid bus kind %q", c.Bus.Kind)
	}

	switch c.Idempotency.Kind {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid idempotency kind %q", c.Idempotency.Kind)
	}

	return nil
}
