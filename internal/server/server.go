package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/watzon/oncue/internal/config"
	"github.com/watzon/oncue/internal/database"
	"github.com/watzon/oncue/internal/executor"
	"github.com/watzon/oncue/internal/job"
	"github.com/watzon/oncue/internal/runlog"
	"github.com/watzon/oncue/internal/scheduler"
	"github.com/watzon/oncue/internal/scripts"
)

const version = "0.1.0"

// Server is the HTTP control surface for the daemon. It owns no
// background work of its own; the scheduler and executor are started
// and stopped by the caller.
type Server struct {
	cfg        *config.Config
	db         *database.DB
	jobs       *job.Store
	runs       *runlog.Store
	scripts    *scripts.Service
	sched      *scheduler.Scheduler
	pool       *executor.Pool
	httpServer *http.Server
	router     *Router
}

func New(cfg *config.Config, db *database.DB, jobs *job.Store, runs *runlog.Store, scriptsSvc *scripts.Service, sched *scheduler.Scheduler, pool *executor.Pool) *Server {
	srv := &Server{
		cfg:     cfg,
		db:      db,
		jobs:    jobs,
		runs:    runs,
		scripts: scriptsSvc,
		sched:   sched,
		pool:    pool,
	}

	srv.router = NewRouter(srv)
	srv.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      srv.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return srv
}

func (s *Server) Start(ctx context.Context) error {
	log.Info().
		Str("addr", s.cfg.Server.Address()).
		Msg("Starting server")

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) DB() *database.DB {
	return s.db
}

func (s *Server) Jobs() *job.Store {
	return s.jobs
}

func (s *Server) Runs() *runlog.Store {
	return s.runs
}

func (s *Server) Scripts() *scripts.Service {
	return s.scripts
}

func (s *Server) Scheduler() *scheduler.Scheduler {
	return s.sched
}

func (s *Server) Pool() *executor.Pool {
	return s.pool
}

func (s *Server) Config() *config.Config {
	return s.cfg
}
