// Package config assembles the full worker configuration from defaults, an
// optional JSON file, and environment overrides, in that order. Every
// section validates itself; Load returns the first violation.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/praekeltfoundation/vumigo/bus"
	"github.com/praekeltfoundation/vumigo/dispatcher"
	"github.com/praekeltfoundation/vumigo/errors"
	"github.com/praekeltfoundation/vumigo/failures"
	"github.com/praekeltfoundation/vumigo/kvstore"
	"github.com/praekeltfoundation/vumigo/smpp"
	"github.com/praekeltfoundation/vumigo/window"
)

// EnvPrefix namespaces every environment override
const EnvPrefix = "VUMIGO"

// Worker roles
const (
	RoleDispatcher = "dispatcher"
	RoleSMPP       = "smpp"
)

// WorkerConfig identifies the process and what it runs as
type WorkerConfig struct {
	// Name of this worker instance
	Name string `json:"name"`
	// Role selects the worker loop: dispatcher or smpp
	Role string `json:"role"`
	// LogLevel is debug, info, warn or error
	LogLevel string `json:"log_level"`
}

// Validate checks the worker identity
func (c *WorkerConfig) Validate() error {
	if c.Name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"config.WorkerConfig", "Validate", "name must be set")
	}
	switch c.Role {
	case RoleDispatcher, RoleSMPP:
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"config.WorkerConfig", "Validate", "role must be dispatcher or smpp")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig,
			"config.WorkerConfig", "Validate", "unknown log_level "+c.LogLevel)
	}
	return nil
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Port int    `json:"port"`
	Path string `json:"path"`
}

// HealthConfig configures the liveness endpoint and probe interval
type HealthConfig struct {
	Port     int           `json:"port"`
	Interval time.Duration `json:"interval"`
}

// DispatcherConfig groups the dispatcher worker's sections
type DispatcherConfig struct {
	dispatcher.Config
	Table dispatcher.TableConfig `json:"routing_table"`
}

// SMPPConfig groups the SMPP worker's sections
type SMPPConfig struct {
	smpp.Config
	Window   window.Config   `json:"window"`
	Failures failures.Config `json:"failures"`
}

// Config is the complete worker configuration
type Config struct {
	Worker  WorkerConfig        `json:"worker"`
	Redis   kvstore.RedisConfig `json:"redis"`
	NATS    bus.JetStreamConfig `json:"nats"`
	Metrics MetricsConfig       `json:"metrics"`
	Health  HealthConfig        `json:"health"`

	// Exactly one of these matches Worker.Role
	Dispatcher *DispatcherConfig `json:"dispatcher,omitempty"`
	SMPP       *SMPPConfig       `json:"smpp,omitempty"`
}

// Default returns the baseline configuration every load starts from
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			LogLevel: "info",
		},
		Redis: kvstore.RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "vumigo",
		},
		NATS:    bus.DefaultJetStreamConfig("nats://localhost:4222"),
		Metrics: MetricsConfig{Port: 9090, Path: "/metrics"},
		Health:  HealthConfig{Port: 8081, Interval: 15 * time.Second},
	}
}

// Validate checks the whole configuration, section by section
func (c *Config) Validate() error {
	if err := c.Worker.Validate(); err != nil {
		return err
	}
	if err := c.Redis.Validate(); err != nil {
		return errors.WrapInvalid(err, "config.Config", "Validate", "redis section")
	}
	if err := c.NATS.Validate(); err != nil {
		return errors.WrapInvalid(err, "config.Config", "Validate", "nats section")
	}

	switch c.Worker.Role {
	case RoleDispatcher:
		if c.Dispatcher == nil {
			return errors.WrapInvalid(errors.ErrInvalidConfig,
				"config.Config", "Validate", "dispatcher section required for dispatcher role")
		}
		if err := c.Dispatcher.Config.Validate(); err != nil {
			return err
		}
		if err := c.Dispatcher.Table.Validate(); err != nil {
			return err
		}
	case RoleSMPP:
		if c.SMPP == nil {
			return errors.WrapInvalid(errors.ErrInvalidConfig,
				"config.Config", "Validate", "smpp section required for smpp role")
		}
		if err := c.SMPP.Config.Validate(); err != nil {
			return err
		}
		if err := c.SMPP.Window.Validate(); err != nil {
			return err
		}
		if err := c.SMPP.Failures.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Load builds the configuration: defaults, then the JSON file at path (if
// path is non-empty), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "config", "Load", "config file read")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "config file parse")
		}
	}

	applyEnvOverrides(cfg)
	applySectionDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applySectionDefaults fills zero-valued fields of the role sections so a
// config file only has to name what it changes.
func applySectionDefaults(cfg *Config) {
	if cfg.SMPP == nil {
		return
	}

	defaults := smpp.DefaultConfig(cfg.SMPP.TransportName)
	if cfg.SMPP.SubmitTTL == 0 {
		cfg.SMPP.SubmitTTL = defaults.SubmitTTL
	}
	if cfg.SMPP.RemoteIDTTL == 0 {
		cfg.SMPP.RemoteIDTTL = defaults.RemoteIDTTL
	}
	if cfg.SMPP.MessageTTL == 0 {
		cfg.SMPP.MessageTTL = defaults.MessageTTL
	}
	if cfg.SMPP.ThrottleDelay == 0 {
		cfg.SMPP.ThrottleDelay = defaults.ThrottleDelay
	}

	if cfg.SMPP.Window == (window.Config{}) {
		cfg.SMPP.Window = window.DefaultConfig()
	}

	ledgerDefaults := failures.DefaultConfig(cfg.SMPP.TransportName)
	if cfg.SMPP.Failures.Name == "" {
		cfg.SMPP.Failures.Name = ledgerDefaults.Name
	}
	if cfg.SMPP.Failures.Granularity == 0 {
		cfg.SMPP.Failures.Granularity = ledgerDefaults.Granularity
	}
	if cfg.SMPP.Failures.DeliveryPeriod == 0 {
		cfg.SMPP.Failures.DeliveryPeriod = ledgerDefaults.DeliveryPeriod
	}
	if cfg.SMPP.Failures.Backoff.InitialDelay == 0 {
		cfg.SMPP.Failures.Backoff = ledgerDefaults.Backoff
	}
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(EnvPrefix + "_WORKER_NAME"); val != "" {
		cfg.Worker.Name = val
	}
	if val := os.Getenv(EnvPrefix + "_WORKER_ROLE"); val != "" {
		cfg.Worker.Role = val
	}
	if val := os.Getenv(EnvPrefix + "_LOG_LEVEL"); val != "" {
		cfg.Worker.LogLevel = strings.ToLower(val)
	}

	if val := os.Getenv(EnvPrefix + "_REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
	}
	if val := os.Getenv(EnvPrefix + "_REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv(EnvPrefix + "_REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv(EnvPrefix + "_REDIS_KEY_PREFIX"); val != "" {
		cfg.Redis.KeyPrefix = val
	}

	if val := os.Getenv(EnvPrefix + "_NATS_URL"); val != "" {
		cfg.NATS.URL = val
	}
	if val := os.Getenv(EnvPrefix + "_NATS_STREAM"); val != "" {
		cfg.NATS.StreamName = val
	}

	if val := os.Getenv(EnvPrefix + "_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Metrics.Port = port
		}
	}
	if val := os.Getenv(EnvPrefix + "_HEALTH_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Health.Port = port
		}
	}
}
