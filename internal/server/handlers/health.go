package handlers

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/watzon/oncue/internal/database"
	"github.com/watzon/oncue/internal/executor"
	"github.com/watzon/oncue/internal/job"
)

type HealthHandlers struct {
	db      *database.DB
	jobs    *job.Store
	pool    *executor.Pool
	version string
}

func NewHealthHandlers(db *database.DB, jobs *job.Store, pool *executor.Pool, version string) *HealthHandlers {
	return &HealthHandlers{
		db:      db,
		jobs:    jobs,
		pool:    pool,
		version: version,
	}
}

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

type ComponentHealth struct {
	Status  HealthStatus `json:"status"`
	Latency string       `json:"latency,omitempty"`
	Message string       `json:"message,omitempty"`
}

type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
	Timestamp  string                     `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

var startTime = time.Now()

const healthCheckTimeout = 5 * time.Second

func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	components := make(map[string]ComponentHealth)
	overallStatus := HealthStatusHealthy

	dbHealth := h.checkDatabase(ctx)
	components["database"] = dbHealth
	if dbHealth.Status == HealthStatusUnhealthy {
		overallStatus = HealthStatusUnhealthy
	}

	jobHealth := h.checkJobs(ctx)
	components["jobs"] = jobHealth
	if jobHealth.Status != HealthStatusHealthy && overallStatus == HealthStatusHealthy {
		overallStatus = HealthStatusDegraded
	}

	if h.pool != nil {
		poolHealth := h.checkExecutor()
		components["executor"] = poolHealth
		if poolHealth.Status != HealthStatusHealthy && overallStatus == HealthStatusHealthy {
			overallStatus = HealthStatusDegraded
		}
	}

	resp := HealthResponse{
		Status:     overallStatus,
		Version:    h.version,
		Uptime:     time.Since(startTime).Round(time.Second).String(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: components,
	}

	status := http.StatusOK
	if overallStatus == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	JSON(w, status, resp)
}

func (h *HealthHandlers) checkDatabase(ctx context.Context) ComponentHealth {
	start := time.Now()
	err := h.db.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		return ComponentHealth{
			Status:  HealthStatusUnhealthy,
			Latency: latency.String(),
			Message: "database ping failed",
		}
	}

	return ComponentHealth{
		Status:  HealthStatusHealthy,
		Latency: latency.String(),
	}
}

func (h *HealthHandlers) checkJobs(ctx context.Context) ComponentHealth {
	stats, err := h.jobs.Counts(ctx)
	if err != nil {
		return ComponentHealth{
			Status:  HealthStatusDegraded,
			Message: "job stats unavailable",
		}
	}

	if stats.Degraded > 0 {
		return ComponentHealth{
			Status:  HealthStatusDegraded,
			Message: strconv.FormatInt(stats.Degraded, 10) + " jobs degraded",
		}
	}

	return ComponentHealth{
		Status: HealthStatusHealthy,
	}
}

func (h *HealthHandlers) checkExecutor() ComponentHealth {
	stats := h.pool.Stats()

	if stats.Overflow > 0 {
		return ComponentHealth{
			Status:  HealthStatusDegraded,
			Message: strconv.Itoa(stats.Overflow) + " fires queued beyond pool capacity",
		}
	}

	return ComponentHealth{
		Status: HealthStatusHealthy,
	}
}

func (h *HealthHandlers) Liveness(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *HealthHandlers) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database unavailable",
		})
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

type RuntimeStats struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	NumCPU       int    `json:"num_cpu"`
	MemAlloc     uint64 `json:"mem_alloc_bytes"`
	MemSys       uint64 `json:"mem_sys_bytes"`
	NumGC        uint32 `json:"num_gc"`
}

func (h *HealthHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := RuntimeStats{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		MemAlloc:     m.Alloc,
		MemSys:       m.Sys,
		NumGC:        m.NumGC,
	}

	resp := map[string]any{
		"runtime": stats,
		"uptime":  time.Since(startTime).Round(time.Second).String(),
	}

	if h.db != nil {
		dbStats := h.db.Stats()
		resp["database"] = map[string]any{
			"open_connections": dbStats.OpenConnections,
			"in_use":           dbStats.InUse,
			"idle":             dbStats.Idle,
			"max_open":         dbStats.MaxOpenConnections,
		}
	}

	if jobStats, err := h.jobs.Counts(r.Context()); err == nil {
		resp["jobs"] = jobStats
	}

	if h.pool != nil {
		resp["executor"] = h.pool.Stats()
	}

	JSON(w, http.StatusOK, resp)
}
