package config

import "time"

// Default configuration values.
const (
	// Server defaults.
	DefaultHost         = "localhost"
	DefaultPort         = 8090
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultIdleTimeout  = 120 * time.Second
	DefaultMaxBodySize  = 32 * 1024 * 1024 // 32MB, scripts arrive as multipart uploads

	// Database defaults.
	DefaultDBPath       = "oncue.db"
	DefaultCacheSize    = -64000 // 64MB
	DefaultBusyTimeout  = 5 * time.Second
	DefaultMaxOpenConns = 1 // SQLite works best with single writer
	DefaultMaxIdleConns = 1

	// Scheduler defaults.
	DefaultPollInterval         = 5 * time.Second
	DefaultClaimBatch           = 100
	DefaultRescheduleRetries    = 3
	DefaultRescheduleBackoff    = time.Second
	DefaultRescheduleBackoffMax = 10 * time.Second

	// Executor defaults.
	DefaultQueueHighWater   = 100
	DefaultExecutionTimeout = 5 * time.Minute
	DefaultOutputLimit      = 64 * 1024 // last 64KB of stdout+stderr
	DefaultPythonBin        = "python3"
	DefaultShellBin         = "sh"

	// Script storage defaults.
	DefaultScriptsBackend = "filesystem"
	DefaultScriptsPath    = "scripts-data"

	// Run log defaults.
	DefaultRetentionMaxAge = 30 * 24 * time.Hour
	DefaultSweepInterval   = time.Hour

	// Logging defaults.
	DefaultLogLevel  = "info"
	DefaultLogFormat = "console"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         DefaultHost,
			Port:         DefaultPort,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			MaxBodySize:  DefaultMaxBodySize,
			CORS: CORSConfig{
				Enabled:          true,
				AllowedOrigins:   []string{"*"},
				AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
				ExposedHeaders:   []string{"X-Request-ID"},
				AllowCredentials: false,
				MaxAge:           12 * time.Hour,
			},
		},
		Database: DatabaseConfig{
			Path:            DefaultDBPath,
			WALMode:         true,
			CacheSize:       DefaultCacheSize,
			BusyTimeout:     DefaultBusyTimeout,
			ForeignKeys:     true,
			MaxOpenConns:    DefaultMaxOpenConns,
			MaxIdleConns:    DefaultMaxIdleConns,
			ConnMaxLifetime: 0, // No limit
		},
		Scheduler: SchedulerConfig{
			PollInterval:         DefaultPollInterval,
			ClaimBatch:           DefaultClaimBatch,
			RescheduleRetries:    DefaultRescheduleRetries,
			RescheduleBackoff:    DefaultRescheduleBackoff,
			RescheduleBackoffMax: DefaultRescheduleBackoffMax,
		},
		Executor: ExecutorConfig{
			Workers:        0, // NumCPU
			QueueDepth:     0, // 2x workers
			QueueHighWater: DefaultQueueHighWater,
			DefaultTimeout: DefaultExecutionTimeout,
			OutputLimit:    DefaultOutputLimit,
			PythonBin:      DefaultPythonBin,
			ShellBin:       DefaultShellBin,
		},
		Scripts: ScriptsConfig{
			Backend:     DefaultScriptsBackend,
			Path:        DefaultScriptsPath,
			Compression: "",
			Watch:       false,
			WatchIgnore: []string{".*", "*.tmp", "*.swp"},
		},
		RunLog: RunLogConfig{
			Retention: RetentionConfig{
				Enabled:       false,
				MaxAge:        DefaultRetentionMaxAge,
				SweepInterval: DefaultSweepInterval,
			},
		},
		Logging: LoggingConfig{
			Level:     DefaultLogLevel,
			Format:    DefaultLogFormat,
			Caller:    false,
			Timestamp: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}
