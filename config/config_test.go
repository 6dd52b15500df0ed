package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func validConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Transport:    "http",
			HTTPPort:     8000,
			APIKey:       "test-key",
			APIKeyHeader: "X-API-Key",
		},
		Session: SessionConfig{
			BasePath: "/tmp/sessions",
		},
		Sandbox: SandboxConfig{
			Image:             "pyexec-base",
			User:              "appuser",
			MemoryMB:          256,
			CPUShares:         512,
			ExecTimeoutSec:    60,
			InstallTimeoutSec: 600,
			Workers:           8,
		},
		Redis: RedisConfig{
			StatusTTLSec: 3600,
		},
		S3: S3Config{
			PresignExpirySec: 3600,
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		err := validConfig().validate()
		require.NoError(t, err)
	})

	t.Run("InvalidServerTransport", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Transport = "invalid"

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server.transport")
	})

	t.Run("MissingAPIKey", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.APIKey = ""

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "server.api_key is required")
	})

	t.Run("InvalidMemory", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.MemoryMB = 0

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox.memory_mb must be positive")
	})

	t.Run("InvalidExecTimeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sandbox.ExecTimeoutSec = -1

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sandbox.exec_timeout_sec must be positive")
	})

	t.Run("S3BucketWithoutRegion", func(t *testing.T) {
		cfg := validConfig()
		cfg.S3.Bucket = "my-bucket"
		cfg.S3.Region = ""

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "s3.region is required")
	})

	t.Run("InvalidStatusTTL", func(t *testing.T) {
		cfg := validConfig()
		cfg.Redis.StatusTTLSec = 0

		err := cfg.validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "redis.status_ttl_sec must be positive")
	})
}

func TestConfigBackendToggles(t *testing.T) {
	cfg := validConfig()
	assert.False(t, cfg.RedisEnabled())
	assert.False(t, cfg.S3Enabled())

	cfg.Redis.URL = "redis://localhost:6379/0"
	cfg.S3.Bucket = "my-bucket"
	assert.True(t, cfg.RedisEnabled())
	assert.True(t, cfg.S3Enabled())
}

func TestConfigDurations(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, int64(256*1024*1024), cfg.MemoryBytes())
	assert.Equal(t, "1h0m0s", cfg.StatusTTL().String())
	assert.Equal(t, "1m0s", cfg.ExecTimeout().String())
	assert.Equal(t, "10m0s", cfg.InstallTimeout().String())
	assert.Equal(t, "1h0m0s", cfg.PresignExpiry().String())
}

func TestNewFromFile(t *testing.T) {
	dir := t.TempDir()

	fixture := map[string]any{
		"server": map[string]any{
			"api_key":   "fixture-key",
			"http_port": 9000,
		},
		"sandbox": map[string]any{
			"memory_mb": 128,
		},
	}
	data, err := yaml.Marshal(fixture)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), data, 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, "fixture-key", cfg.Server.APIKey)
	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 128, cfg.Sandbox.MemoryMB)
	// Defaults still apply for everything the file leaves unset.
	assert.Equal(t, "pyexec-base", cfg.Sandbox.Image)
	assert.Equal(t, "X-API-Key", cfg.Server.APIKeyHeader)
}
