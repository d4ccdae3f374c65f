// Package config provides configuration management for oncue.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure for oncue.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Scripts   ScriptsConfig   `mapstructure:"scripts"`
	RunLog    RunLogConfig    `mapstructure:"runlog"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host to bind the server to
	Host string `mapstructure:"host"`

	// Port to listen on
	Port int `mapstructure:"port"`

	// Enable CORS
	CORS CORSConfig `mapstructure:"cors"`

	// Request timeouts
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`

	// Maximum request body size in bytes
	MaxBodySize int64 `mapstructure:"max_body_size"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	// Enable CORS
	Enabled bool `mapstructure:"enabled"`

	// Allowed origins (use ["*"] for all)
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// Allowed methods
	AllowedMethods []string `mapstructure:"allowed_methods"`

	// Allowed headers
	AllowedHeaders []string `mapstructure:"allowed_headers"`

	// Exposed headers
	ExposedHeaders []string `mapstructure:"exposed_headers"`

	// Allow credentials
	AllowCredentials bool `mapstructure:"allow_credentials"`

	// Max age for preflight cache
	MaxAge time.Duration `mapstructure:"max_age"`
}

// DatabaseConfig holds database settings.
type DatabaseConfig struct {
	// Path to SQLite database file
	Path string `mapstructure:"path"`

	// Enable WAL mode (recommended)
	WALMode bool `mapstructure:"wal_mode"`

	// Cache size in KB (negative for KB, positive for pages)
	CacheSize int `mapstructure:"cache_size"`

	// Busy timeout
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`

	// Enable foreign keys
	ForeignKeys bool `mapstructure:"foreign_keys"`

	// Maximum open connections
	MaxOpenConns int `mapstructure:"max_open_conns"`

	// Maximum idle connections
	MaxIdleConns int `mapstructure:"max_idle_conns"`

	// Connection max lifetime
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// SchedulerConfig holds scheduler loop settings.
type SchedulerConfig struct {
	// Wake interval for the polling loop
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// Maximum due jobs claimed per wake
	ClaimBatch int `mapstructure:"claim_batch"`

	// Attempts for persisting a reschedule before marking the job degraded
	RescheduleRetries int `mapstructure:"reschedule_retries"`

	// Initial backoff between reschedule attempts
	RescheduleBackoff time.Duration `mapstructure:"reschedule_backoff"`

	// Backoff cap
	RescheduleBackoffMax time.Duration `mapstructure:"reschedule_backoff_max"`
}

// ExecutorConfig holds worker pool and script execution settings.
type ExecutorConfig struct {
	// Worker count; 0 means the number of CPUs
	Workers int `mapstructure:"workers"`

	// Buffered queue depth; 0 means twice the worker count
	QueueDepth int `mapstructure:"queue_depth"`

	// Queued-task count past which backpressure warnings are logged
	QueueHighWater int `mapstructure:"queue_high_water"`

	// Default per-execution timeout for jobs without their own
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`

	// Captured output bound in bytes (tail is kept)
	OutputLimit int `mapstructure:"output_limit"`

	// Interpreter binaries by script type
	PythonBin string `mapstructure:"python_bin"`
	ShellBin  string `mapstructure:"shell_bin"`
}

// ScriptsConfig holds script storage settings.
type ScriptsConfig struct {
	// Backend type: filesystem or s3
	Backend string `mapstructure:"backend"`

	// Root directory for the filesystem backend
	Path string `mapstructure:"path"`

	// Compression at rest: empty, gzip, or zstd
	Compression string `mapstructure:"compression"`

	// Watch a local directory for script changes (dev convenience)
	Watch bool `mapstructure:"watch"`

	// Directory watched when watch is enabled
	WatchPath string `mapstructure:"watch_path"`

	// Glob patterns the watcher ignores
	WatchIgnore []string `mapstructure:"watch_ignore"`

	// S3 backend settings (required when backend is s3)
	S3 *S3Config `mapstructure:"s3"`
}

// S3Config holds S3 backend settings.
type S3Config struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Endpoint        string `mapstructure:"endpoint"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// RunLogConfig holds execution record settings.
type RunLogConfig struct {
	Retention RetentionConfig `mapstructure:"retention"`
}

// RetentionConfig holds background pruning settings for execution records.
type RetentionConfig struct {
	// Enable the background sweep
	Enabled bool `mapstructure:"enabled"`

	// Terminal records older than this are pruned
	MaxAge time.Duration `mapstructure:"max_age"`

	// Sweep frequency
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Log format (json, console)
	Format string `mapstructure:"format"`

	// Include caller info
	Caller bool `mapstructure:"caller"`

	// Include timestamp
	Timestamp bool `mapstructure:"timestamp"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
