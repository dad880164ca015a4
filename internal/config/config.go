// Package config provides centralized configuration for the service.
// Settings load from environment variables with defaults and are validated
// on startup so misconfiguration fails fast, before any pool is opened.
package config

import (
	"fmt"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Registry RegistryConfig
	Shards   ShardConfig
	Upload   UploadConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading the request body (default: 30s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`

	// WriteTimeout is the maximum duration for writing the response (default: 60s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"60s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// RegistryConfig holds the tenant registry database settings.
// The registry is a small, always-available store; it is never sharded.
type RegistryConfig struct {
	// URL is the PostgreSQL connection string for the tenant registry (required)
	URL string `env:"REGISTRY_DATABASE_URL" envAlt:"REGISTRY_DB_URL" required:"true"`

	// MaxConns is the maximum number of pooled connections (default: 8)
	MaxConns int `env:"REGISTRY_DB_MAX_CONNS" default:"8"`
}

// ShardConfig holds the per-shard database settings.
type ShardConfig struct {
	// URLs is a comma-separated, ordered list of shard connection strings
	// (required). Shard numbers are 1-based positions in this list; tenant
	// assignment is decided at provisioning time and is stable, so the
	// order of this list must never change for an existing deployment.
	URLs []string `env:"DB_SHARD_URLS" required:"true"`

	// MaxConns is the maximum pooled connections per shard (default: 20)
	MaxConns int `env:"SHARD_DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum connections kept open per shard (default: 2)
	MinConns int `env:"SHARD_DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"SHARD_DB_MAX_CONN_LIFETIME" default:"1h"`
}

// UploadConfig holds CSV ingestion settings.
type UploadConfig struct {
	// MaxFileSize is the maximum accepted file size in bytes (default: 50MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"52428800"`

	// MaxConcurrent is the maximum number of parallel uploads (default: 5)
	MaxConcurrent int `env:"UPLOAD_MAX_CONCURRENT" default:"5"`

	// MaxWaitTime is how long to wait for an upload slot (default: 30s)
	MaxWaitTime time.Duration `env:"UPLOAD_MAX_WAIT_TIME" default:"30s"`

	// TxTimeout bounds the reconciliation transaction; on expiry the
	// transaction is rolled back and the upload fails (default: 2m)
	TxTimeout time.Duration `env:"UPLOAD_TX_TIMEOUT" default:"2m"`

	// DefaultMaxPoints is the fallback maximum score applied to every
	// assignment when an upload has no points row (default: 100)
	DefaultMaxPoints float64 `env:"UPLOAD_DEFAULT_MAX_POINTS" default:"100"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks cross-field constraints that tags cannot express.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if len(c.Shards.URLs) == 0 {
		return fmt.Errorf("at least one shard URL is required")
	}
	if c.Shards.MinConns > c.Shards.MaxConns {
		return fmt.Errorf("shard min conns (%d) exceeds max conns (%d)", c.Shards.MinConns, c.Shards.MaxConns)
	}
	if c.Upload.MaxFileSize <= 0 {
		return fmt.Errorf("upload max file size must be positive")
	}
	if c.Upload.DefaultMaxPoints < 0 {
		return fmt.Errorf("default max points must be non-negative")
	}
	if c.Upload.TxTimeout <= 0 {
		return fmt.Errorf("upload tx timeout must be positive")
	}
	return nil
}
