package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Initialize a new oncue project",
	Long: `Initialize a new oncue project.

Creates the project directory structure with:
  - oncue.yaml     Configuration file
  - jobs.yaml      Declarative job manifest with a starter job
  - scripts/       Local scripts directory (seeded with hello.sh)
  - data/          Database and script storage`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite existing files")

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	projectDir := "."
	if len(args) > 0 {
		projectDir = args[0]
	}

	if err := prepareProjectDir(projectDir, initForce); err != nil {
		return err
	}

	if err := createProjectStructure(projectDir); err != nil {
		return err
	}

	if err := writeProjectFiles(projectDir); err != nil {
		return err
	}

	if err := writeGitignore(projectDir); err != nil {
		return err
	}

	printSuccessMessage(projectDir)
	return nil
}

func prepareProjectDir(projectDir string, force bool) error {
	if projectDir != "." {
		if err := os.MkdirAll(projectDir, 0o755); err != nil {
			return fmt.Errorf("creating project directory: %w", err)
		}
		log.Info().Str("directory", projectDir).Msg("Created project directory")
	}

	if !force {
		existingFiles := checkExistingFiles(projectDir)
		if len(existingFiles) > 0 {
			return fmt.Errorf("files already exist: %s (use --force to overwrite)", strings.Join(existingFiles, ", "))
		}
	}
	return nil
}

func createProjectStructure(projectDir string) error {
	dirs := []string{"data", "scripts"}
	for _, dir := range dirs {
		dirPath := filepath.Join(projectDir, dir)
		if err := os.MkdirAll(dirPath, 0o755); err != nil {
			return fmt.Errorf("creating %s directory: %w", dir, err)
		}
	}
	return nil
}

func writeProjectFiles(projectDir string) error {
	files := map[string]string{
		"oncue.yaml":       configYAML,
		"jobs.yaml":        manifestYAML,
		"scripts/hello.sh": helloScript,
	}

	for filename, content := range files {
		filePath := filepath.Join(projectDir, filename)
		if err := os.WriteFile(filePath, []byte(content), 0o600); err != nil {
			return fmt.Errorf("writing %s: %w", filename, err)
		}
		log.Info().Str("file", filename).Msg("Created")
	}
	return nil
}

func writeGitignore(projectDir string) error {
	content := `# Oncue data
data/
*.db
*.db-wal
*.db-shm

# Environment
.env
.env.local

# IDE
.idea/
.vscode/
*.swp
*.swo
`
	if err := os.WriteFile(filepath.Join(projectDir, ".gitignore"), []byte(content), 0o600); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}
	log.Info().Str("file", ".gitignore").Msg("Created")
	return nil
}

func printSuccessMessage(projectDir string) {
	fmt.Println()
	fmt.Println("✓ Project initialized")
	fmt.Println()
	fmt.Println("Next steps:")
	if projectDir != "." {
		fmt.Printf("  cd %s\n", projectDir)
	}
	fmt.Println("  oncue serve              # Start the daemon")
	fmt.Println("  oncue apply jobs.yaml    # Apply the job manifest")
	fmt.Println()
}

func checkExistingFiles(dir string) []string {
	filesToCheck := []string{"oncue.yaml", "jobs.yaml"}
	var existing []string
	for _, f := range filesToCheck {
		if _, err := os.Stat(filepath.Join(dir, f)); err == nil {
			existing = append(existing, f)
		}
	}
	return existing
}

const configYAML = `# =============================================================================
# Oncue Configuration
# =============================================================================
# Environment variables can be used with ${VAR} or ${VAR:-default} syntax,
# and any key can be overridden with ONCUE_SECTION_KEY environment variables.
# Example: ONCUE_SERVER_PORT=9000
# =============================================================================

# -----------------------------------------------------------------------------
# Server Configuration
# -----------------------------------------------------------------------------
server:
  # Host to bind the server to
  host: localhost

  # Port to listen on
  port: 8090

  # CORS (Cross-Origin Resource Sharing) settings
  cors:
    enabled: true
    allowed_origins: ["*"]
    # allowed_methods: ["GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"]
    # allowed_headers: ["Accept", "Authorization", "Content-Type", "X-Request-ID"]
    # exposed_headers: ["X-Request-ID"]
    # allow_credentials: false
    # max_age: 12h

  # Request timeouts
  # read_timeout: 30s
  # write_timeout: 30s
  # idle_timeout: 120s

  # Maximum request body size in bytes (default: 32MB, bounds script uploads)
  # max_body_size: 33554432

# -----------------------------------------------------------------------------
# Database Configuration
# -----------------------------------------------------------------------------
database:
  # Path to SQLite database file
  path: ./data/oncue.db

  # Enable WAL mode for better concurrency (recommended)
  wal_mode: true

  # Enable foreign key constraints
  foreign_keys: true

  # Cache size in KB (negative) or pages (positive)
  # cache_size: -64000  # 64MB

  # Busy timeout
  # busy_timeout: 5s

  # Connection pool settings (the scheduler is the single writer)
  # max_open_conns: 1
  # max_idle_conns: 1

# -----------------------------------------------------------------------------
# Scheduler Configuration
# -----------------------------------------------------------------------------
scheduler:
  # Wake interval for the polling loop
  poll_interval: 5s

  # Maximum due jobs claimed per wake
  # claim_batch: 100

  # Reschedule persistence retries before a job is marked degraded
  # reschedule_retries: 3
  # reschedule_backoff: 1s
  # reschedule_backoff_max: 10s

# -----------------------------------------------------------------------------
# Executor Configuration
# -----------------------------------------------------------------------------
executor:
  # Worker count (0 = number of CPUs)
  workers: 0

  # Queue depth (0 = twice the worker count)
  # queue_depth: 0

  # Default per-execution timeout for jobs without their own
  default_timeout: 5m

  # Captured output bound in bytes; the tail is kept
  # output_limit: 65536

  # Interpreter binaries
  # python_bin: python3
  # shell_bin: sh

# -----------------------------------------------------------------------------
# Script Storage Configuration
# -----------------------------------------------------------------------------
scripts:
  # Backend: filesystem or s3
  backend: filesystem

  # Root directory for the filesystem backend
  path: ./data/scripts

  # Compression at rest: gzip or zstd (empty = none)
  # compression: ""

  # Watch a local directory and import changed files as scripts
  # watch: true
  # watch_path: ./scripts
  # watch_ignore: [".*", "*.tmp", "*.swp"]

  # S3 backend settings (required when backend is s3)
  # s3:
  #   region: us-east-1
  #   bucket: my-oncue-scripts
  #   access_key_id: ${AWS_ACCESS_KEY_ID}
  #   secret_access_key: ${AWS_SECRET_ACCESS_KEY}
  #   # endpoint: http://localhost:9000
  #   # force_path_style: true

# -----------------------------------------------------------------------------
# Run Log Configuration
# -----------------------------------------------------------------------------
runlog:
  # Background pruning of old finished records
  retention:
    enabled: false
    # max_age: 720h  # 30 days
    # sweep_interval: 1h

# -----------------------------------------------------------------------------
# Logging Configuration
# -----------------------------------------------------------------------------
logging:
  # Log level: debug, info, warn, error
  level: info

  # Log format: json or console
  format: console

  # Include caller info in logs
  # caller: false

  # Include timestamps
  # timestamp: true

# -----------------------------------------------------------------------------
# Metrics Configuration
# -----------------------------------------------------------------------------
metrics:
  # Expose Prometheus metrics at /metrics
  enabled: true
`

const manifestYAML = `# =============================================================================
# Oncue Job Manifest
# =============================================================================
# Declarative job definitions; apply with:
#   oncue apply jobs.yaml
#
# Jobs are upserted by name, so this file can live in version control and
# be re-applied safely. Script paths are resolved relative to this file
# and uploaded on apply.
# =============================================================================

jobs:
  # A starter job; enable it once the daemon is running.
  - name: hello
    script: scripts/hello.sh
    rule:
      kind: interval
      every: 1h
    enabled: false

# ---------------------------------------------------------------------------
# Rule kinds reference
# ---------------------------------------------------------------------------
#
# - name: nightly-report
#   script: scripts/report.py
#   rule:
#     kind: daily
#     time: "03:30"
#   timezone: America/New_York
#   timeout: 10m
#
# - name: heartbeat
#   script: scripts/ping.sh
#   rule:
#     kind: interval
#     every: 90s
#
# - name: weekly-cleanup
#   script: scripts/cleanup.sh
#   rule:
#     kind: weekly
#     weekday: 1        # 0 = Sunday
#     time: "06:00"
#
# - name: monthly-invoice
#   script: scripts/invoice.py
#   rule:
#     kind: monthly
#     day: 31           # clamps to the last day of shorter months
#     time: "09:00"
#
# - name: one-shot-migration
#   script: scripts/migrate.sh
#   rule:
#     kind: once
#     at: "2027-01-15T06:00:00Z"
#
# - name: cron-style
#   script: scripts/sync.sh
#   rule:
#     kind: cron
#     expression: "*/15 * * * *"
#   enabled: false
`

const helloScript = `#!/bin/sh
echo "Hello from oncue"
`
