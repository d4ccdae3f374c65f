package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"

	"github.com/watzon/oncue/internal/database"
	"github.com/watzon/oncue/internal/job"
	"github.com/watzon/oncue/internal/runlog"
	"github.com/watzon/oncue/internal/scheduler"
	"github.com/watzon/oncue/internal/trigger"
)

// JobHandlers handles job CRUD and manual fires.
type JobHandlers struct {
	jobs  *job.Store
	runs  *runlog.Store
	sched *scheduler.Scheduler
}

func NewJobHandlers(jobs *job.Store, runs *runlog.Store, sched *scheduler.Scheduler) *JobHandlers {
	return &JobHandlers{
		jobs:  jobs,
		runs:  runs,
		sched: sched,
	}
}

// CreateJobRequest is the request body for creating a job.
type CreateJobRequest struct {
	Name           string       `json:"name"`
	Script         string       `json:"script"`
	Rule           trigger.Rule `json:"rule"`
	Timezone       string       `json:"timezone"`
	Enabled        *bool        `json:"enabled,omitempty"`
	TimeoutSeconds int          `json:"timeout_seconds"`
}

// UpdateJobRequest is the request body for partially updating a job.
// Absent fields keep their current values.
type UpdateJobRequest struct {
	Name           *string       `json:"name,omitempty"`
	Script         *string       `json:"script,omitempty"`
	Rule           *trigger.Rule `json:"rule,omitempty"`
	Timezone       *string       `json:"timezone,omitempty"`
	Enabled        *bool         `json:"enabled,omitempty"`
	TimeoutSeconds *int          `json:"timeout_seconds,omitempty"`
}

// Create handles POST /api/jobs.
func (h *JobHandlers) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid JSON body: "+err.Error())
		return
	}

	if req.Name == "" {
		BadRequest(w, "Name is required")
		return
	}
	if req.Script == "" {
		BadRequest(w, "Script is required")
		return
	}
	if req.TimeoutSeconds < 0 {
		BadRequest(w, "Timeout must not be negative")
		return
	}

	if err := req.Rule.Validate(time.Now().UTC()); err != nil {
		Error(w, http.StatusBadRequest, "INVALID_RULE", err.Error())
		return
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			Error(w, http.StatusBadRequest, "INVALID_TIMEZONE", "Unknown timezone: "+req.Timezone)
			return
		}
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	j := &job.Job{
		Name:           req.Name,
		ScriptRef:      req.Script,
		Rule:           req.Rule,
		Timezone:       req.Timezone,
		Enabled:        enabled,
		TimeoutSeconds: req.TimeoutSeconds,
	}

	if err := h.jobs.Create(ctx, j); err != nil {
		if database.IsUniqueError(err) {
			Conflict(w, "DUPLICATE_NAME", "A job named "+strconv.Quote(req.Name)+" already exists")
			return
		}
		log.Error().Err(err).Str("name", req.Name).Msg("Failed to create job")
		InternalError(w, "Failed to create job")
		return
	}

	JSON(w, http.StatusCreated, j)
}

// List handles GET /api/jobs.
func (h *JobHandlers) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter := job.Filter{
		Name: r.URL.Query().Get("name"),
		Kind: r.URL.Query().Get("kind"),
		Sort: r.URL.Query().Get("sort"),
	}
	if filter.Sort == "" {
		filter.Sort = "next_fire_at"
	}

	if enabledStr := r.URL.Query().Get("enabled"); enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			BadRequest(w, "Invalid enabled parameter")
			return
		}
		filter.Enabled = &enabled
	}

	if pattern := r.URL.Query().Get("name_glob"); pattern != "" {
		if _, err := glob.Compile(pattern); err != nil {
			Error(w, http.StatusBadRequest, "INVALID_GLOB", "Invalid name_glob pattern: "+err.Error())
			return
		}
		filter.Glob = pattern
	}

	jobs, err := h.jobs.List(ctx, filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list jobs")
		InternalError(w, "Failed to list jobs")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// Get handles GET /api/jobs/{id}.
func (h *JobHandlers) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	j, err := h.jobs.Get(ctx, id)
	if errors.Is(err, job.ErrNotFound) {
		NotFound(w, "Job not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to get job")
		InternalError(w, "Failed to get job")
		return
	}

	JSON(w, http.StatusOK, j)
}

// Update handles PATCH /api/jobs/{id}.
func (h *JobHandlers) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	j, err := h.jobs.Get(ctx, id)
	if errors.Is(err, job.ErrNotFound) {
		NotFound(w, "Job not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to get job")
		InternalError(w, "Failed to get job")
		return
	}

	var req UpdateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "Invalid JSON body: "+err.Error())
		return
	}

	now := time.Now().UTC()

	if req.Rule != nil {
		if err := req.Rule.Validate(now); err != nil {
			Error(w, http.StatusBadRequest, "INVALID_RULE", err.Error())
			return
		}
	}
	if req.Timezone != nil && *req.Timezone != "" {
		if _, err := time.LoadLocation(*req.Timezone); err != nil {
			Error(w, http.StatusBadRequest, "INVALID_TIMEZONE", "Unknown timezone: "+*req.Timezone)
			return
		}
	}

	if req.Name != nil {
		if *req.Name == "" {
			BadRequest(w, "Name cannot be empty")
			return
		}
		j.Name = *req.Name
	}
	if req.Script != nil {
		if *req.Script == "" {
			BadRequest(w, "Script cannot be empty")
			return
		}
		j.ScriptRef = *req.Script
	}
	if req.Rule != nil {
		j.Rule = *req.Rule
		// A new rule anchors at now, not at the old rule's history.
		j.LastFireAt = nil
	}
	if req.Timezone != nil {
		j.Timezone = *req.Timezone
	}
	if req.Enabled != nil {
		j.Enabled = *req.Enabled
	}
	if req.TimeoutSeconds != nil {
		if *req.TimeoutSeconds < 0 {
			BadRequest(w, "Timeout must not be negative")
			return
		}
		j.TimeoutSeconds = *req.TimeoutSeconds
	}

	if j.Enabled {
		next, err := trigger.Next(&j.Rule, j.Timezone, j.LastFireAt, now)
		if err != nil {
			Error(w, http.StatusBadRequest, "INVALID_RULE", err.Error())
			return
		}
		j.NextFireAt = next
		j.LastError = ""
		j.ClaimedAt = nil
	} else {
		j.NextFireAt = nil
		j.ClaimedAt = nil
	}

	if err := h.jobs.Update(ctx, j); err != nil {
		if database.IsUniqueError(err) {
			Conflict(w, "DUPLICATE_NAME", "A job named "+strconv.Quote(j.Name)+" already exists")
			return
		}
		log.Error().Err(err).Str("id", id).Msg("Failed to update job")
		InternalError(w, "Failed to update job")
		return
	}

	JSON(w, http.StatusOK, j)
}

// Delete handles DELETE /api/jobs/{id}. Execution records are retained.
func (h *JobHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	err := h.jobs.Delete(ctx, id)
	if errors.Is(err, job.ErrNotFound) {
		NotFound(w, "Job not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to delete job")
		InternalError(w, "Failed to delete job")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Enable handles POST /api/jobs/{id}/enable.
func (h *JobHandlers) Enable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

// Disable handles POST /api/jobs/{id}/disable.
func (h *JobHandlers) Disable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *JobHandlers) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	ctx := r.Context()
	id := r.PathValue("id")

	j, err := h.jobs.SetEnabled(ctx, id, enabled)
	if errors.Is(err, job.ErrNotFound) {
		NotFound(w, "Job not found")
		return
	}
	if errors.Is(err, trigger.ErrInvalidRule) {
		Error(w, http.StatusBadRequest, "INVALID_RULE", err.Error())
		return
	}
	if err != nil {
		log.Error().Err(err).Str("id", id).Bool("enabled", enabled).Msg("Failed to change job enabled state")
		InternalError(w, "Failed to change job enabled state")
		return
	}

	JSON(w, http.StatusOK, j)
}

// Run handles POST /api/jobs/{id}/run: an immediate manual fire. The
// regular schedule is not moved.
func (h *JobHandlers) Run(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	rec, err := h.sched.RunNow(ctx, id)
	if errors.Is(err, job.ErrNotFound) {
		NotFound(w, "Job not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to queue manual run")
		InternalError(w, "Failed to queue manual run")
		return
	}

	JSON(w, http.StatusAccepted, rec)
}

// Runs handles GET /api/jobs/{id}/runs.
func (h *JobHandlers) Runs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	if _, err := h.jobs.Get(ctx, id); errors.Is(err, job.ErrNotFound) {
		NotFound(w, "Job not found")
		return
	} else if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to get job")
		InternalError(w, "Failed to get job")
		return
	}

	filter, err := parseRunFilter(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	filter.JobID = id

	recs, err := h.runs.List(ctx, filter)
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to list runs for job")
		InternalError(w, "Failed to list runs for job")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"runs":   recs,
		"count":  len(recs),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}
