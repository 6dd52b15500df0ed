package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Session SessionConfig `mapstructure:"session"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Redis   RedisConfig   `mapstructure:"redis"`
	S3      S3Config      `mapstructure:"s3"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP server and authentication configuration
type ServerConfig struct {
	Transport    string `mapstructure:"transport"`
	HTTPPort     int    `mapstructure:"http_port"`
	APIKey       string `mapstructure:"api_key"`
	APIKeyHeader string `mapstructure:"api_key_header"`
}

// SessionConfig holds session directory configuration
type SessionConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// SandboxConfig holds container execution configuration
type SandboxConfig struct {
	Image             string `mapstructure:"image"`
	User              string `mapstructure:"user"`
	MemoryMB          int    `mapstructure:"memory_mb"`
	CPUShares         int    `mapstructure:"cpu_shares"`
	ExecTimeoutSec    int    `mapstructure:"exec_timeout_sec"`
	InstallTimeoutSec int    `mapstructure:"install_timeout_sec"`
	Workers           int    `mapstructure:"workers"`
}

// RedisConfig holds the optional durable status store configuration.
// An empty URL selects the in-process fallback store.
type RedisConfig struct {
	URL          string `mapstructure:"url"`
	StatusTTLSec int    `mapstructure:"status_ttl_sec"`
}

// S3Config holds the optional object store configuration.
// An empty bucket disables remote file sync entirely.
type S3Config struct {
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	PresignExpirySec int    `mapstructure:"presign_expiry_sec"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// New loads and validates the application configuration
func New() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("pyexec")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, continue with defaults
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.transport", "http")
	viper.SetDefault("server.http_port", 8000)
	viper.SetDefault("server.api_key_header", "X-API-Key")

	viper.SetDefault("session.base_path", "/tmp/sessions")

	viper.SetDefault("sandbox.image", "pyexec-base")
	viper.SetDefault("sandbox.user", "appuser")
	viper.SetDefault("sandbox.memory_mb", 256)
	viper.SetDefault("sandbox.cpu_shares", 512)
	viper.SetDefault("sandbox.exec_timeout_sec", 60)
	viper.SetDefault("sandbox.install_timeout_sec", 600)
	viper.SetDefault("sandbox.workers", 8)

	viper.SetDefault("redis.status_ttl_sec", 3600)

	viper.SetDefault("s3.presign_expiry_sec", 3600)

	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	switch c.Server.Transport {
	case "http", "mcp-stdio", "mcp-http":
	default:
		return fmt.Errorf("invalid server.transport: %s, must be 'http', 'mcp-stdio' or 'mcp-http'", c.Server.Transport)
	}

	if c.Server.APIKey == "" {
		return fmt.Errorf("server.api_key is required")
	}

	if c.Session.BasePath == "" {
		return fmt.Errorf("session.base_path is required")
	}

	if c.Sandbox.Image == "" {
		return fmt.Errorf("sandbox.image is required")
	}

	if c.Sandbox.MemoryMB <= 0 {
		return fmt.Errorf("sandbox.memory_mb must be positive, got: %d", c.Sandbox.MemoryMB)
	}

	if c.Sandbox.CPUShares <= 0 {
		return fmt.Errorf("sandbox.cpu_shares must be positive, got: %d", c.Sandbox.CPUShares)
	}

	if c.Sandbox.ExecTimeoutSec <= 0 {
		return fmt.Errorf("sandbox.exec_timeout_sec must be positive, got: %d", c.Sandbox.ExecTimeoutSec)
	}

	if c.Sandbox.Workers <= 0 {
		return fmt.Errorf("sandbox.workers must be positive, got: %d", c.Sandbox.Workers)
	}

	if c.Redis.StatusTTLSec <= 0 {
		return fmt.Errorf("redis.status_ttl_sec must be positive, got: %d", c.Redis.StatusTTLSec)
	}

	if c.S3.Bucket != "" && c.S3.Region == "" {
		return fmt.Errorf("s3.region is required when s3.bucket is set")
	}

	return nil
}

// RedisEnabled reports whether the durable status store is configured.
func (c *Config) RedisEnabled() bool {
	return c.Redis.URL != ""
}

// S3Enabled reports whether the object store is configured.
func (c *Config) S3Enabled() bool {
	return c.S3.Bucket != ""
}

// StatusTTL returns the task status retention window.
func (c *Config) StatusTTL() time.Duration {
	return time.Duration(c.Redis.StatusTTLSec) * time.Second
}

// ExecTimeout returns the wall-clock bound for one code execution.
func (c *Config) ExecTimeout() time.Duration {
	return time.Duration(c.Sandbox.ExecTimeoutSec) * time.Second
}

// InstallTimeout returns the wall-clock bound for one install task.
func (c *Config) InstallTimeout() time.Duration {
	return time.Duration(c.Sandbox.InstallTimeoutSec) * time.Second
}

// PresignExpiry returns the lifetime of generated download URLs.
func (c *Config) PresignExpiry() time.Duration {
	return time.Duration(c.S3.PresignExpirySec) * time.Second
}

// MemoryBytes returns the execution memory ceiling in bytes.
func (c *Config) MemoryBytes() int64 {
	return int64(c.Sandbox.MemoryMB) * 1024 * 1024
}
