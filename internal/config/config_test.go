package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "courier.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "default", cfg.Instance)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	assert.Equal(t, 3, cfg.Transport.MaxDeliveries)
	assert.Equal(t, 60*time.Second, cfg.Orchestrator.TaskTimeout)
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `instance: prod
redis:
  url: redis://broker.internal:6380/2
transport:
  connect_attempts: 10
  connect_delay: 2s
  max_deliveries: 5
orchestrator:
  task_timeout: 120s
`)

	config, err := Load(configPath)
	require.NoError(t, err)
	assert.NotNil(t, config)
	assert.Equal(t, "prod", config.Instance)
	assert.Equal(t, "redis://broker.internal:6380/2", config.Redis.URL)
	assert.Equal(t, 10, config.Transport.ConnectAttempts)
	assert.Equal(t, 2*time.Second, config.Transport.ConnectDelay)
	assert.Equal(t, 5, config.Transport.MaxDeliveries)
	assert.Equal(t, 120*time.Second, config.Orchestrator.TaskTimeout)

	// Omitted fields keep their defaults.
	assert.Equal(t, 100*time.Millisecond, config.Transport.PollInterval)
	assert.Equal(t, ":8080", config.Orchestrator.HealthAddr)
}

func TestLoad_MinimalConfig(t *testing.T) {
	configPath := writeConfig(t, "instance: demo\n")

	config, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "demo", config.Instance)
	assert.Equal(t, "redis://localhost:6379/0", config.Redis.URL)
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load(filepath.Join(t.TempDir(), "nonexistent.yml"))
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `instance: prod
transport:
  - this is invalid
    yaml syntax
`)

	config, err := Load(configPath)
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoad_InvalidRedisURL(t *testing.T) {
	configPath := writeConfig(t, "redis:\n  url: \"http://not-redis\"\n")

	config, err := Load(configPath)
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "invalid redis url")
}

func TestFromEnv(t *testing.T) {
	t.Setenv(EnvRedisURL, "redis://elsewhere:6379/1")
	t.Setenv(EnvInstance, "staging")

	config, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "redis://elsewhere:6379/1", config.Redis.URL)
	assert.Equal(t, "staging", config.Instance)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty instance",
			mutate:  func(c *Config) { c.Instance = "" },
			wantErr: "instance name is required",
		},
		{
			name:    "zero connect attempts",
			mutate:  func(c *Config) { c.Transport.ConnectAttempts = 0 },
			wantErr: "connect_attempts",
		},
		{
			name:    "zero max deliveries",
			mutate:  func(c *Config) { c.Transport.MaxDeliveries = 0 },
			wantErr: "max_deliveries",
		},
		{
			name:    "sub-second task timeout",
			mutate:  func(c *Config) { c.Orchestrator.TaskTimeout = 10 * time.Millisecond },
			wantErr: "task_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRedisOptions(t *testing.T) {
	cfg := Default()
	cfg.Redis.URL = "redis://:secret@broker:6380/3"

	opts, err := cfg.RedisOptions()
	require.NoError(t, err)
	assert.Equal(t, "broker:6380", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 3, opts.DB)
}
