// Package config loads and validates courier.yml plus the environment
// overrides used by the service binaries and the CLI.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Environment variable names recognized by FromEnv / ApplyEnv.
const (
	EnvRedisURL = "COURIER_REDIS_URL"
	EnvInstance = "COURIER_INSTANCE"
)

// Config is the top-level courier.yml configuration.
type Config struct {
	Instance     string             `yaml:"instance"`
	Redis        RedisConfig        `yaml:"redis"`
	Transport    TransportConfig    `yaml:"transport,omitempty"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator,omitempty"`
}

// RedisConfig locates the broker. Defaults suit a local single-node Redis.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// TransportConfig tunes the queue transport client.
type TransportConfig struct {
	ConnectAttempts int           `yaml:"connect_attempts,omitempty"` // Bounded retry count for Connect
	ConnectDelay    time.Duration `yaml:"connect_delay,omitempty"`    // Fixed backoff between attempts
	MaxDeliveries   int           `yaml:"max_deliveries,omitempty"`   // Deliveries before dead-lettering
	PollInterval    time.Duration `yaml:"poll_interval,omitempty"`    // Idle consumer sleep
	ConsumerTTL     time.Duration `yaml:"consumer_ttl,omitempty"`     // Consumer registry staleness window
}

// OrchestratorConfig tunes the control plane.
type OrchestratorConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval,omitempty"`      // Response listener idle sleep
	WaitPollInterval time.Duration `yaml:"wait_poll_interval,omitempty"` // WaitForTask re-check interval
	TaskTimeout      time.Duration `yaml:"task_timeout,omitempty"`       // Default SubmitAndWait timeout
	HealthAddr       string        `yaml:"health_addr,omitempty"`        // healthz listen address
}

// Default returns the configuration for a local single-node broker.
func Default() *Config {
	return &Config{
		Instance: "default",
		Redis:    RedisConfig{URL: "redis://localhost:6379/0"},
		Transport: TransportConfig{
			ConnectAttempts: 5,
			ConnectDelay:    5 * time.Second,
			MaxDeliveries:   3,
			PollInterval:    100 * time.Millisecond,
			ConsumerTTL:     15 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			PollInterval:     100 * time.Millisecond,
			WaitPollInterval: 500 * time.Millisecond,
			TaskTimeout:      60 * time.Second,
			HealthAddr:       ":8080",
		},
	}
}

// Load reads and validates courier.yml from the specified path, applying
// defaults for omitted fields and environment overrides on top.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	config.fillDefaults()
	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// FromEnv builds a configuration from defaults plus environment variables,
// for binaries that run without a courier.yml.
func FromEnv() (*Config, error) {
	config := Default()
	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// ApplyEnv overlays recognized environment variables onto the config.
func (c *Config) ApplyEnv() {
	if url := os.Getenv(EnvRedisURL); url != "" {
		c.Redis.URL = url
	}
	if instance := os.Getenv(EnvInstance); instance != "" {
		c.Instance = instance
	}
}

// fillDefaults restores defaults for fields zeroed by explicit YAML nulls or
// partial sections.
func (c *Config) fillDefaults() {
	d := Default()
	if c.Instance == "" {
		c.Instance = d.Instance
	}
	if c.Redis.URL == "" {
		c.Redis.URL = d.Redis.URL
	}
	if c.Transport.ConnectAttempts == 0 {
		c.Transport.ConnectAttempts = d.Transport.ConnectAttempts
	}
	if c.Transport.ConnectDelay == 0 {
		c.Transport.ConnectDelay = d.Transport.ConnectDelay
	}
	if c.Transport.MaxDeliveries == 0 {
		c.Transport.MaxDeliveries = d.Transport.MaxDeliveries
	}
	if c.Transport.PollInterval == 0 {
		c.Transport.PollInterval = d.Transport.PollInterval
	}
	if c.Transport.ConsumerTTL == 0 {
		c.Transport.ConsumerTTL = d.Transport.ConsumerTTL
	}
	if c.Orchestrator.PollInterval == 0 {
		c.Orchestrator.PollInterval = d.Orchestrator.PollInterval
	}
	if c.Orchestrator.WaitPollInterval == 0 {
		c.Orchestrator.WaitPollInterval = d.Orchestrator.WaitPollInterval
	}
	if c.Orchestrator.TaskTimeout == 0 {
		c.Orchestrator.TaskTimeout = d.Orchestrator.TaskTimeout
	}
	if c.Orchestrator.HealthAddr == "" {
		c.Orchestrator.HealthAddr = d.Orchestrator.HealthAddr
	}
}

// Validate performs strict validation on the configuration.
func (c *Config) Validate() error {
	if c.Instance == "" {
		return fmt.Errorf("instance name is required")
	}

	if _, err := redis.ParseURL(c.Redis.URL); err != nil {
		return fmt.Errorf("invalid redis url %q: %w", c.Redis.URL, err)
	}

	if c.Transport.ConnectAttempts < 1 {
		return fmt.Errorf("transport.connect_attempts must be >= 1, got %d", c.Transport.ConnectAttempts)
	}

	if c.Transport.MaxDeliveries < 1 {
		return fmt.Errorf("transport.max_deliveries must be >= 1, got %d", c.Transport.MaxDeliveries)
	}

	if c.Orchestrator.TaskTimeout < time.Second {
		return fmt.Errorf("orchestrator.task_timeout must be >= 1s, got %s", c.Orchestrator.TaskTimeout)
	}

	return nil
}

// RedisOptions parses the configured URL into go-redis client options.
func (c *Config) RedisOptions() (*redis.Options, error) {
	opts, err := redis.ParseURL(c.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return opts, nil
}
