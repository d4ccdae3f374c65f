package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/watzon/oncue/internal/scripts"
)

const maxUploadMemory = 32 << 20

// ScriptHandlers handles script upload, download and metadata endpoints.
type ScriptHandlers struct {
	service *scripts.Service
}

func NewScriptHandlers(service *scripts.Service) *ScriptHandlers {
	return &ScriptHandlers{service: service}
}

// Upload handles POST /api/scripts. The multipart file name becomes the
// script name; uploading an existing name replaces it.
func (h *ScriptHandlers) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		Error(w, http.StatusBadRequest, "INVALID_FORM", "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		Error(w, http.StatusBadRequest, "FILE_REQUIRED", "File is required")
		return
	}
	defer file.Close()

	script, err := h.service.Upload(r.Context(), header.Filename, file, header.Size)
	if err != nil {
		if errors.Is(err, scripts.ErrInvalidName) {
			Error(w, http.StatusBadRequest, "INVALID_NAME", err.Error())
			return
		}
		log.Error().Err(err).Str("name", header.Filename).Msg("Failed to store script")
		InternalError(w, "Failed to store script")
		return
	}

	JSON(w, http.StatusCreated, script)
}

// List handles GET /api/scripts.
func (h *ScriptHandlers) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list scripts")
		InternalError(w, "Failed to list scripts")
		return
	}

	JSON(w, http.StatusOK, map[string]any{
		"scripts": list,
		"count":   len(list),
	})
}

// Get handles GET /api/scripts/{name}.
func (h *ScriptHandlers) Get(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	script, err := h.service.Get(r.Context(), name)
	if errors.Is(err, scripts.ErrNotFound) {
		NotFound(w, "Script not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("name", name).Msg("Failed to get script")
		InternalError(w, "Failed to get script")
		return
	}

	JSON(w, http.StatusOK, script)
}

// Content handles GET /api/scripts/{name}/content: streams the stored
// bytes back to the caller.
func (h *ScriptHandlers) Content(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	rc, script, err := h.service.Open(r.Context(), name)
	if errors.Is(err, scripts.ErrNotFound) {
		NotFound(w, "Script not found")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("name", name).Msg("Failed to open script")
		InternalError(w, "Failed to open script")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", script.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(script.Size, 10))
	w.Header().Set("Content-Disposition", `attachment; filename="`+script.Name+`"`)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		log.Warn().Err(err).Str("name", name).Msg("Script download interrupted")
	}
}

// Delete handles DELETE /api/scripts/{name}. Deletion is refused while
// jobs still reference the script.
func (h *ScriptHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	err := h.service.Delete(r.Context(), name)
	if errors.Is(err, scripts.ErrNotFound) {
		NotFound(w, "Script not found")
		return
	}
	if errors.Is(err, scripts.ErrInUse) {
		Conflict(w, "SCRIPT_IN_USE", err.Error())
		return
	}
	if err != nil {
		log.Error().Err(err).Str("name", name).Msg("Failed to delete script")
		InternalError(w, "Failed to delete script")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
