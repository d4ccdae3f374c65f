package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

var (
	ErrConfigNotFound = errors.New("config file not found")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

type LoadOptions struct {
	ConfigFile string
	EnvPrefix  string
	Defaults   *Config
}

func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()

	defaults := opts.Defaults
	if defaults == nil {
		defaults = Default()
	}
	setViperDefaults(v, defaults)

	if opts.EnvPrefix == "" {
		opts.EnvPrefix = "ONCUE"
	}
	v.SetEnvPrefix(opts.EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("oncue")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/oncue")
		v.AddConfigPath("/etc/oncue")
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	expandEnvInConfig(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func LoadFromFile(path string) (*Config, error) {
	return Load(LoadOptions{ConfigFile: path})
}

func LoadWithDefaults() (*Config, error) {
	return Load(LoadOptions{})
}

func setViperDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", cfg.Server.IdleTimeout)
	v.SetDefault("server.max_body_size", cfg.Server.MaxBodySize)

	v.SetDefault("server.cors.enabled", cfg.Server.CORS.Enabled)
	v.SetDefault("server.cors.allowed_origins", cfg.Server.CORS.AllowedOrigins)
	v.SetDefault("server.cors.allowed_methods", cfg.Server.CORS.AllowedMethods)
	v.SetDefault("server.cors.allowed_headers", cfg.Server.CORS.AllowedHeaders)
	v.SetDefault("server.cors.exposed_headers", cfg.Server.CORS.ExposedHeaders)
	v.SetDefault("server.cors.allow_credentials", cfg.Server.CORS.AllowCredentials)
	v.SetDefault("server.cors.max_age", cfg.Server.CORS.MaxAge)

	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.wal_mode", cfg.Database.WALMode)
	v.SetDefault("database.cache_size", cfg.Database.CacheSize)
	v.SetDefault("database.busy_timeout", cfg.Database.BusyTimeout)
	v.SetDefault("database.foreign_keys", cfg.Database.ForeignKeys)
	v.SetDefault("database.max_open_conns", cfg.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", cfg.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", cfg.Database.ConnMaxLifetime)

	v.SetDefault("scheduler.poll_interval", cfg.Scheduler.PollInterval)
	v.SetDefault("scheduler.claim_batch", cfg.Scheduler.ClaimBatch)
	v.SetDefault("scheduler.reschedule_retries", cfg.Scheduler.RescheduleRetries)
	v.SetDefault("scheduler.reschedule_backoff", cfg.Scheduler.RescheduleBackoff)
	v.SetDefault("scheduler.reschedule_backoff_max", cfg.Scheduler.RescheduleBackoffMax)

	v.SetDefault("executor.workers", cfg.Executor.Workers)
	v.SetDefault("executor.queue_depth", cfg.Executor.QueueDepth)
	v.SetDefault("executor.queue_high_water", cfg.Executor.QueueHighWater)
	v.SetDefault("executor.default_timeout", cfg.Executor.DefaultTimeout)
	v.SetDefault("executor.output_limit", cfg.Executor.OutputLimit)
	v.SetDefault("executor.python_bin", cfg.Executor.PythonBin)
	v.SetDefault("executor.shell_bin", cfg.Executor.ShellBin)

	v.SetDefault("scripts.backend", cfg.Scripts.Backend)
	v.SetDefault("scripts.path", cfg.Scripts.Path)
	v.SetDefault("scripts.compression", cfg.Scripts.Compression)
	v.SetDefault("scripts.watch", cfg.Scripts.Watch)
	v.SetDefault("scripts.watch_path", cfg.Scripts.WatchPath)
	v.SetDefault("scripts.watch_ignore", cfg.Scripts.WatchIgnore)

	v.SetDefault("runlog.retention.enabled", cfg.RunLog.Retention.Enabled)
	v.SetDefault("runlog.retention.max_age", cfg.RunLog.Retention.MaxAge)
	v.SetDefault("runlog.retention.sweep_interval", cfg.RunLog.Retention.SweepInterval)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.caller", cfg.Logging.Caller)
	v.SetDefault("logging.timestamp", cfg.Logging.Timestamp)

	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
}

// expandEnvInConfig resolves ${VAR} and ${VAR:-default} values so secrets like
// S3 credentials can live outside the config file.
func expandEnvInConfig(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if !strings.HasPrefix(val, "${") || !strings.HasSuffix(val, "}") {
			continue
		}

		expr := val[2 : len(val)-1]
		name, fallback, hasFallback := strings.Cut(expr, ":-")
		if envVal := os.Getenv(name); envVal != "" {
			v.Set(key, envVal)
		} else if hasFallback {
			v.Set(key, fallback)
		}
	}
}

func ConfigFilePath(customPath string) (string, error) {
	if customPath != "" {
		absPath, err := filepath.Abs(customPath)
		if err != nil {
			return "", fmt.Errorf("resolving config path: %w", err)
		}
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("config file not found: %s", absPath)
		}
		return absPath, nil
	}

	searchPaths := []string{
		"oncue.yaml",
		"oncue.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "oncue", "oncue.yaml"),
		"/etc/oncue/oncue.yaml",
	}

	for _, p := range searchPaths {
		if _, err := os.Stat(p); err == nil {
			return filepath.Abs(p)
		}
	}

	return "", ErrConfigNotFound
}
