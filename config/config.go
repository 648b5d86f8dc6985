package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Pool      PoolConfig      `mapstructure:"pool"`
	Sandbox   SandboxConfig   `mapstructure:"sandbox"`
	Languages LanguagesConfig `mapstructure:"languages"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds the API and MCP transport configuration
type ServerConfig struct {
	HTTPPort     int    `mapstructure:"http_port"`
	MCPTransport string `mapstructure:"mcp_transport"`
	MCPHTTPPort  int    `mapstructure:"mcp_http_port"`
}

// EngineConfig holds backend selection and default resource limits
type EngineConfig struct {
	PreferredBackend  string `mapstructure:"preferred_backend"`
	FallbackEnabled   bool   `mapstructure:"fallback_enabled"`
	DefaultTimeoutSec int    `mapstructure:"default_timeout_sec"`
	DefaultMemoryMB   int    `mapstructure:"default_memory_mb"`
	DefaultCPUQuota   int    `mapstructure:"default_cpu_quota"`
}

// PoolConfig holds the warm pool capacities and eviction tunables
type PoolConfig struct {
	GlobalCapacity       int `mapstructure:"global_capacity"`
	PerSignatureCapacity int `mapstructure:"per_signature_capacity"`
	IdleTimeoutSec       int `mapstructure:"idle_timeout_sec"`
	SweepIntervalSec     int `mapstructure:"sweep_interval_sec"`
}

// SandboxConfig holds sandbox-level settings shared by all backends
type SandboxConfig struct {
	NetworkEnabled bool `mapstructure:"network_enabled"`
}

// LanguagesConfig holds per-language base images
type LanguagesConfig struct {
	Python     LanguageConfig `mapstructure:"python"`
	JavaScript LanguageConfig `mapstructure:"javascript"`
}

// LanguageConfig holds one language's sandbox image
type LanguageConfig struct {
	Image string `mapstructure:"image"`
}

// LoggingConfig holds logger settings
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

	// Set default values
	viper.SetDefault("server.http_port", 8080)
	viper.SetDefault("server.mcp_transport", "")
	viper.SetDefault("server.mcp_http_port", 8081)

	viper.SetDefault("engine.preferred_backend", "gvisor")
	viper.SetDefault("engine.fallback_enabled", true)
	viper.SetDefault("engine.default_timeout_sec", 60)
	viper.SetDefault("engine.default_memory_mb", 128)
	viper.SetDefault("engine.default_cpu_quota", 100000)

	viper.SetDefault("pool.global_capacity", 10)
	viper.SetDefault("pool.per_signature_capacity", 3)
	viper.SetDefault("pool.idle_timeout_sec", 300)
	viper.SetDefault("pool.sweep_interval_sec", 5)

	viper.SetDefault("sandbox.network_enabled", false)

	viper.SetDefault("languages.python.image", "funcbox-python:latest")
	viper.SetDefault("languages.javascript.image", "funcbox-javascript:latest")

	viper.SetDefault("logging.mode", "production")
	viper.SetDefault("logging.level", "info")

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

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}

	return &config, nil
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port must be a valid port, got: %d", c.Server.HTTPPort)
	}

	switch c.Server.MCPTransport {
	case "", "stdio", "http":
	default:
		return fmt.Errorf("invalid server.mcp_transport: %s, must be '', 'stdio' or 'http'", c.Server.MCPTransport)
	}

	if c.Engine.PreferredBackend != "docker" && c.Engine.PreferredBackend != "gvisor" {
		return fmt.Errorf("unsupported engine.preferred_backend: %s", c.Engine.PreferredBackend)
	}

	if c.Engine.DefaultTimeoutSec <= 0 {
		return fmt.Errorf("engine.default_timeout_sec must be positive, got: %d", c.Engine.DefaultTimeoutSec)
	}

	if c.Engine.DefaultMemoryMB <= 0 {
		return fmt.Errorf("engine.default_memory_mb must be positive, got: %d", c.Engine.DefaultMemoryMB)
	}

	if c.Pool.GlobalCapacity <= 0 {
		return fmt.Errorf("pool.global_capacity must be positive, got: %d", c.Pool.GlobalCapacity)
	}

	if c.Pool.PerSignatureCapacity <= 0 {
		return fmt.Errorf("pool.per_signature_capacity must be positive, got: %d", c.Pool.PerSignatureCapacity)
	}

	if c.Pool.PerSignatureCapacity > c.Pool.GlobalCapacity {
		return fmt.Errorf("pool.per_signature_capacity (%d) must not exceed pool.global_capacity (%d)",
			c.Pool.PerSignatureCapacity, c.Pool.GlobalCapacity)
	}

	if c.Languages.Python.Image == "" || c.Languages.JavaScript.Image == "" {
		return fmt.Errorf("every language must have an image configured")
	}

	return nil
}

// IdleTimeout returns the pool idle-eviction threshold as a duration
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Pool.IdleTimeoutSec) * time.Second
}

// SweepInterval returns the pool sweep cadence as a duration
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Pool.SweepIntervalSec) * time.Second
}

// Images returns the language-to-image mapping for the runtimes
func (c *Config) Images() map[string]string {
	return map[string]string{
		"python":     c.Languages.Python.Image,
		"javascript": c.Languages.JavaScript.Image,
	}
}
