package server

import (
	"net/http"

	"github.com/watzon/oncue/internal/metrics"
	"github.com/watzon/oncue/internal/server/handlers"
)

type Router struct {
	server      *Server
	mux         *http.ServeMux
	middlewares []Middleware
}

type Middleware func(http.Handler) http.Handler

func NewRouter(srv *Server) *Router {
	r := &Router{
		server: srv,
		mux:    http.NewServeMux(),
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

func (r *Router) setupMiddleware() {
	r.Use(RecoveryMiddleware)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	if r.server.cfg.Server.CORS.Enabled {
		r.Use(CORSMiddleware(r.server.cfg.Server.CORS))
	}
	if r.server.cfg.Server.MaxBodySize > 0 {
		r.Use(MaxBodySizeMiddleware(r.server.cfg.Server.MaxBodySize))
	}
	if r.server.cfg.Metrics.Enabled {
		r.Use(MetricsMiddleware)
	}
}

func (r *Router) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

func (r *Router) setupRoutes() {
	jobs := handlers.NewJobHandlers(r.server.Jobs(), r.server.Runs(), r.server.Scheduler())
	r.mux.HandleFunc("POST /api/jobs", r.wrap(jobs.Create))
	r.mux.HandleFunc("GET /api/jobs", r.wrap(jobs.List))
	r.mux.HandleFunc("GET /api/jobs/{id}", r.wrap(jobs.Get))
	r.mux.HandleFunc("PATCH /api/jobs/{id}", r.wrap(jobs.Update))
	r.mux.HandleFunc("DELETE /api/jobs/{id}", r.wrap(jobs.Delete))
	r.mux.HandleFunc("POST /api/jobs/{id}/enable", r.wrap(jobs.Enable))
	r.mux.HandleFunc("POST /api/jobs/{id}/disable", r.wrap(jobs.Disable))
	r.mux.HandleFunc("POST /api/jobs/{id}/run", r.wrap(jobs.Run))
	r.mux.HandleFunc("GET /api/jobs/{id}/runs", r.wrap(jobs.Runs))

	runs := handlers.NewRunHandlers(r.server.Runs())
	r.mux.HandleFunc("GET /api/runs", r.wrap(runs.List))
	r.mux.HandleFunc("GET /api/runs/{id}", r.wrap(runs.Get))
	r.mux.HandleFunc("DELETE /api/runs", r.wrap(runs.Prune))

	scriptsH := handlers.NewScriptHandlers(r.server.Scripts())
	r.mux.HandleFunc("POST /api/scripts", r.wrap(scriptsH.Upload))
	r.mux.HandleFunc("GET /api/scripts", r.wrap(scriptsH.List))
	r.mux.HandleFunc("GET /api/scripts/{name}", r.wrap(scriptsH.Get))
	r.mux.HandleFunc("GET /api/scripts/{name}/content", r.wrap(scriptsH.Content))
	r.mux.HandleFunc("DELETE /api/scripts/{name}", r.wrap(scriptsH.Delete))

	health := handlers.NewHealthHandlers(r.server.DB(), r.server.Jobs(), r.server.Pool(), version)
	r.mux.HandleFunc("GET /health", r.wrap(health.Health))
	r.mux.HandleFunc("GET /health/live", r.wrap(health.Liveness))
	r.mux.HandleFunc("GET /health/ready", r.wrap(health.Readiness))
	r.mux.HandleFunc("GET /api/stats", r.wrap(health.Stats))

	if r.server.cfg.Metrics.Enabled {
		r.mux.Handle("GET /metrics", metrics.Handler())
	}
}

func (r *Router) wrap(fn handlers.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		fn(w, req)
	}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	handler := http.Handler(r.mux)

	for i := len(r.middlewares) - 1; i >= 0; i-- {
		handler = r.middlewares[i](handler)
	}

	handler.ServeHTTP(w, req)
}
