package config

import (
	"fmt"
	"strings"
	"time"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateDatabase(&cfg.Database)...)
	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateExecutor(&cfg.Executor)...)
	errs = append(errs, validateScripts(&cfg.Scripts)...)
	errs = append(errs, validateRunLog(&cfg.RunLog)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateServer(cfg *ServerConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, ValidationError{
			Field:   "server.port",
			Message: "must be between 1 and 65535",
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.read_timeout",
			Message: "must be non-negative",
		})
	}

	if cfg.WriteTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.write_timeout",
			Message: "must be non-negative",
		})
	}

	if cfg.MaxBodySize < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.max_body_size",
			Message: "must be non-negative",
		})
	}

	if cfg.CORS.Enabled && cfg.CORS.AllowCredentials {
		for _, origin := range cfg.CORS.AllowedOrigins {
			if origin == "*" {
				errs = append(errs, ValidationError{
					Field:   "server.cors",
					Message: "security: allow_credentials=true with allowed_origins=[\"*\"] is insecure",
				})
				break
			}
		}
	}

	return errs
}

func validateDatabase(cfg *DatabaseConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "database.path",
			Message: "required",
		})
	}

	if cfg.BusyTimeout < 0 {
		errs = append(errs, ValidationError{
			Field:   "database.busy_timeout",
			Message: "must be non-negative",
		})
	}

	return errs
}

func validateScheduler(cfg *SchedulerConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.PollInterval < time.Second {
		errs = append(errs, ValidationError{
			Field:   "scheduler.poll_interval",
			Message: "must be at least 1 second",
		})
	}

	if cfg.ClaimBatch < 1 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.claim_batch",
			Message: "must be at least 1",
		})
	}

	if cfg.RescheduleRetries < 1 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.reschedule_retries",
			Message: "must be at least 1",
		})
	}

	if cfg.RescheduleBackoff <= 0 {
		errs = append(errs, ValidationError{
			Field:   "scheduler.reschedule_backoff",
			Message: "must be positive",
		})
	}

	if cfg.RescheduleBackoffMax < cfg.RescheduleBackoff {
		errs = append(errs, ValidationError{
			Field:   "scheduler.reschedule_backoff_max",
			Message: "must be greater than or equal to reschedule_backoff",
		})
	}

	return errs
}

func validateExecutor(cfg *ExecutorConfig) ValidationErrors {
	var errs ValidationErrors

	if cfg.Workers < 0 {
		errs = append(errs, ValidationError{
			Field:   "executor.workers",
			Message: "must be non-negative (0 means number of CPUs)",
		})
	}

	if cfg.QueueDepth < 0 {
		errs = append(errs, ValidationError{
			Field:   "executor.queue_depth",
			Message: "must be non-negative (0 means twice the worker count)",
		})
	}

	if cfg.QueueHighWater < 1 {
		errs = append(errs, ValidationError{
			Field:   "executor.queue_high_water",
			Message: "must be at least 1",
		})
	}

	if cfg.DefaultTimeout < time.Second {
		errs = append(errs, ValidationError{
			Field:   "executor.default_timeout",
			Message: "must be at least 1 second",
		})
	}

	if cfg.OutputLimit < 1024 {
		errs = append(errs, ValidationError{
			Field:   "executor.output_limit",
			Message: "must be at least 1024 bytes",
		})
	}

	if cfg.PythonBin == "" {
		errs = append(errs, ValidationError{
			Field:   "executor.python_bin",
			Message: "required",
		})
	}

	if cfg.ShellBin == "" {
		errs = append(errs, ValidationError{
			Field:   "executor.shell_bin",
			Message: "required",
		})
	}

	return errs
}

func validateScripts(cfg *ScriptsConfig) ValidationErrors {
	var errs ValidationErrors

	validBackends := map[string]bool{"filesystem": true, "s3": true}
	if !validBackends[cfg.Backend] {
		errs = append(errs, ValidationError{
			Field:   "scripts.backend",
			Message: "must be 'filesystem' or 's3'",
		})
	}

	switch cfg.Backend {
	case "filesystem":
		if cfg.Path == "" {
			errs = append(errs, ValidationError{
				Field:   "scripts.path",
				Message: "required when backend is 'filesystem'",
			})
		}
		if strings.Contains(cfg.Path, "..") {
			errs = append(errs, ValidationError{
				Field:   "scripts.path",
				Message: "path traversal (..) not allowed",
			})
		}

	case "s3":
		if cfg.S3 == nil {
			errs = append(errs, ValidationError{
				Field:   "scripts.s3",
				Message: "required when backend is 's3'",
			})
			break
		}
		if cfg.S3.Region == "" {
			errs = append(errs, ValidationError{
				Field:   "scripts.s3.region",
				Message: "required",
			})
		}
		if cfg.S3.Bucket == "" {
			errs = append(errs, ValidationError{
				Field:   "scripts.s3.bucket",
				Message: "required",
			})
		}
		if cfg.S3.AccessKeyID == "" {
			errs = append(errs, ValidationError{
				Field:   "scripts.s3.access_key_id",
				Message: "required",
			})
		}
		if cfg.S3.SecretAccessKey == "" {
			errs = append(errs, ValidationError{
				Field:   "scripts.s3.secret_access_key",
				Message: "required",
			})
		}
	}

	validCompression := map[string]bool{"": true, "none": true, "gzip": true, "zstd": true}
	if !validCompression[cfg.Compression] {
		errs = append(errs, ValidationError{
			Field:   "scripts.compression",
			Message: "must be 'none', 'gzip', or 'zstd'",
		})
	}

	if cfg.Watch && cfg.WatchPath == "" {
		errs = append(errs, ValidationError{
			Field:   "scripts.watch_path",
			Message: "required when watch is enabled",
		})
	}

	return errs
}

func validateRunLog(cfg *RunLogConfig) ValidationErrors {
	var errs ValidationErrors

	if !cfg.Retention.Enabled {
		return errs
	}

	if cfg.Retention.MaxAge < time.Minute {
		errs = append(errs, ValidationError{
			Field:   "runlog.retention.max_age",
			Message: "must be at least 1 minute",
		})
	}

	if cfg.Retention.SweepInterval < time.Minute {
		errs = append(errs, ValidationError{
			Field:   "runlog.retention.sweep_interval",
			Message: "must be at least 1 minute",
		})
	}

	return errs
}

func validateLogging(cfg *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLevels[cfg.Level] {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: "must be one of: trace, debug, info, warn, error, fatal, panic",
		})
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[cfg.Format] {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: "must be 'json' or 'console'",
		})
	}

	return errs
}
