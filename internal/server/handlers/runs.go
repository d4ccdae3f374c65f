package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/watzon/oncue/internal/runlog"
)

// RunHandlers handles execution record queries and pruning.
type RunHandlers struct {
	runs *runlog.Store
}

func NewRunHandlers(runs *runlog.Store) *RunHandlers {
	return &RunHandlers{runs: runs}
}

// List handles GET /api/runs.
func (h *RunHandlers) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := parseRunFilter(r)
	if err != nil {
		BadRequest(w, err.Error())
		return
	}
	filter.JobID = r.URL.Query().Get("job_id")

	recs, err := h.runs.List(ctx, filter)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list runs")
		InternalError(w, "Failed to list runs")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"runs":   recs,
		"count":  len(recs),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// Get handles GET /api/runs/{id}.
func (h *RunHandlers) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	rec, err := h.runs.Get(ctx, id)
	if errors.Is(err, runlog.ErrNotFound) {
		NotFound(w, "Run not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("id", id).Msg("Failed to get run")
		InternalError(w, "Failed to get run")
		return
	}

	JSON(w, http.StatusOK, rec)
}

// Prune handles DELETE /api/runs?before=RFC3339: removes finished
// records scheduled before the cutoff.
func (h *RunHandlers) Prune(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	beforeStr := r.URL.Query().Get("before")
	if beforeStr == "" {
		BadRequest(w, "Query parameter before is required")
		return
	}

	before, err := time.Parse(time.RFC3339, beforeStr)
	if err != nil {
		BadRequest(w, "Invalid before timestamp: "+err.Error())
		return
	}

	maxAge := time.Since(before)
	if maxAge <= 0 {
		BadRequest(w, "Cutoff must be in the past")
		return
	}

	pruned, err := h.runs.DeleteOlderThan(ctx, maxAge)
	if err != nil {
		log.Error().Err(err).Msg("Failed to prune runs")
		InternalError(w, "Failed to prune runs")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"pruned": pruned,
	})
}

// parseRunFilter reads the shared run query parameters. The job_id
// constraint is the caller's to fill in.
func parseRunFilter(r *http.Request) (runlog.Filter, error) {
	filter := runlog.Filter{
		Status:  runlog.Status(r.URL.Query().Get("status")),
		Trigger: runlog.TriggerKind(r.URL.Query().Get("trigger")),
		Keyword: r.URL.Query().Get("q"),
		Limit:   50,
	}

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return filter, fmt.Errorf("invalid from timestamp: %w", err)
		}
		filter.From = &from
	}
	if toStr := r.URL.Query().Get("to"); toStr != "" {
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return filter, fmt.Errorf("invalid to timestamp: %w", err)
		}
		filter.To = &to
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			return filter, errors.New("invalid limit parameter")
		}
		if limit > 1000 {
			limit = 1000
		}
		filter.Limit = limit
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			return filter, errors.New("invalid offset parameter")
		}
		filter.Offset = offset
	}

	return filter, nil
}
