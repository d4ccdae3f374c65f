package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/watzon/oncue/internal/config"
	"github.com/watzon/oncue/internal/database"
	"github.com/watzon/oncue/internal/executor"
	"github.com/watzon/oncue/internal/job"
	"github.com/watzon/oncue/internal/runlog"
	"github.com/watzon/oncue/internal/scheduler"
	"github.com/watzon/oncue/internal/scripts"
	"github.com/watzon/oncue/internal/server"
)

const shutdownTimeout = 30 * time.Second

var (
	servePort int
	serveHost string
	serveDB   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler daemon",
	Long: `Start the oncue daemon.

The daemon will:
  - Open (or create) the job database
  - Recover claims and records left by an unclean shutdown
  - Start the scheduling loop and the worker pool
  - Serve the HTTP API

Missed occurrences are skipped on startup, not backfilled; only a
pending once fire is delivered late.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", config.DefaultPort, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHost, "host", config.DefaultHost, "Host to bind to")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "Path to the SQLite database")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithDefaults()
	if err != nil {
		log.Warn().Err(err).Msg("No config file found, using defaults")
		cfg = config.Default()
	}

	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if cmd.Flags().Changed("db") {
		cfg.Database.Path = serveDB
	}

	applyLoggingConfig(&cfg.Logging)

	log.Info().
		Str("db", cfg.Database.Path).
		Str("addr", cfg.Server.Address()).
		Msg("Starting oncue")

	db, err := database.Open(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	jobs := job.NewStore(db)
	runs := runlog.NewStore(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := scripts.NewBackend(ctx, &cfg.Scripts)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up script storage")
	}
	scriptsSvc := scripts.NewService(scripts.NewStore(db), jobs, backend)

	pool := executor.NewPool(&cfg.Executor, scriptsSvc, runs)
	pool.Start()

	sched := scheduler.NewScheduler(db, jobs, runs, pool, &cfg.Scheduler)
	if err := sched.Recover(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to recover interrupted work")
	}
	sched.Start()

	var sweeper *runlog.Sweeper
	if cfg.RunLog.Retention.Enabled {
		sweeper = runlog.NewSweeper(runs, &cfg.RunLog.Retention)
		sweeper.Start()
	}

	srv := server.New(cfg, db, jobs, runs, scriptsSvc, sched, pool)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if cfg.Scripts.Watch {
		watcher, watchErr := scripts.NewWatcher(scriptsSvc, &cfg.Scripts)
		if watchErr == nil {
			watchErr = watcher.Start()
		}
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("Failed to set up script watcher, continuing without it")
		} else {
			defer func() { _ = watcher.Stop() }()
			log.Info().Str("path", cfg.Scripts.WatchPath).Msg("Script watching enabled")
		}
	}

	logEndpoints(cfg)

	if err := srv.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Server error")
		return err
	}

	<-ctx.Done()

	// The loop stops before the pool so nothing new is claimed while
	// workers drain. Whatever was still queued is closed out as canceled.
	sched.Stop()
	pool.Stop()
	if sweeper != nil {
		sweeper.Stop()
	}

	if n, err := runs.CancelInFlight(context.Background(), "daemon shutdown"); err != nil {
		log.Error().Err(err).Msg("Failed to close out in-flight records")
	} else if n > 0 {
		log.Info().Int64("records", n).Msg("Canceled in-flight records")
	}

	return nil
}

func logEndpoints(cfg *config.Config) {
	log.Info().
		Str("url", "http://"+cfg.Server.Address()).
		Msg("Server started")

	log.Info().
		Str("jobs", "http://"+cfg.Server.Address()+"/api/jobs").
		Str("runs", "http://"+cfg.Server.Address()+"/api/runs").
		Str("scripts", "http://"+cfg.Server.Address()+"/api/scripts").
		Msg("API endpoints")

	if cfg.Metrics.Enabled {
		log.Info().
			Str("metrics", "http://"+cfg.Server.Address()+"/metrics").
			Msg("Prometheus metrics")
	}
}
