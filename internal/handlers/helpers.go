package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fjmerc/airlift/internal/config"
	"github.com/fjmerc/airlift/internal/metrics"
	"github.com/fjmerc/airlift/internal/models"
	"github.com/fjmerc/airlift/internal/registry"
)

// sendError writes the wire error object. Clients discriminate on the
// presence of errorTitle, not the HTTP status.
func sendError(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	json.NewEncoder(w).Encode(models.ErrorResponse{
		ErrorTitle:   code,
		ErrorMessage: message,
	})
	metrics.ErrorsTotal.WithLabelValues(code).Inc()
}

// sendJSON writes a success payload.
func sendJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// sendRegistryError maps registry sentinel errors onto wire codes.
func sendRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrInvalidFilename):
		sendError(w, models.ErrCodeInvalidFilename, err.Error(), http.StatusBadRequest)
	case errors.Is(err, registry.ErrHashConflict):
		sendError(w, models.ErrCodeHashConflict, err.Error(), http.StatusConflict)
	case errors.Is(err, registry.ErrAlreadyUploaded):
		// Not a failure from the client's point of view; it skips the
		// transfer entirely.
		sendError(w, models.ErrCodeAlreadyUploaded, err.Error(), http.StatusOK)
	case errors.Is(err, registry.ErrUploadNotFound):
		sendError(w, models.ErrCodeUploadNotFound, err.Error(), http.StatusNotFound)
	case errors.Is(err, registry.ErrUploadNotAssembled):
		sendError(w, models.ErrCodeUploadNotFound, err.Error(), http.StatusNotFound)
	case errors.Is(err, registry.ErrInvalidChunk):
		sendError(w, models.ErrCodeChunkUploadFailed, err.Error(), http.StatusBadRequest)
	case errors.Is(err, registry.ErrAssemblyCorruption):
		sendError(w, models.ErrCodeAssemblyCorruption, err.Error(), http.StatusInternalServerError)
	case errors.Is(err, registry.ErrFileTooLarge):
		sendError(w, models.ErrCodeFileTooLarge, err.Error(), http.StatusRequestEntityTooLarge)
	case errors.Is(err, registry.ErrInvalidUploadParams):
		sendError(w, models.ErrCodeInvalidRequest, err.Error(), http.StatusBadRequest)
	case errors.Is(err, registry.ErrShuttingDown):
		sendError(w, models.ErrCodeInternalError, err.Error(), http.StatusServiceUnavailable)
	default:
		slog.Error("request failed", "error", err)
		sendError(w, models.ErrCodeInternalError, "Internal server error", http.StatusInternalServerError)
	}
}

// requester is the caller identity forwarded by the gateway.
type requester struct {
	UploaderID int64
	FleetID    int64
}

// requesterIdentity reads the gateway identity headers, falling back to the
// configured single-tenant defaults.
func requesterIdentity(r *http.Request, cfg *config.Config) requester {
	id := requester{
		UploaderID: cfg.DefaultUploaderID,
		FleetID:    cfg.DefaultFleetID,
	}
	if v := r.Header.Get("X-Airlift-Uploader"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			id.UploaderID = parsed
		}
	}
	if v := r.Header.Get("X-Airlift-Fleet"); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			id.FleetID = parsed
		}
	}
	return id
}

// pageParams parses currentPage and pageSize query parameters, clamping the
// page size to the configured ceiling.
func pageParams(r *http.Request, cfg *config.Config) (currentPage, pageSize int) {
	currentPage = 0
	pageSize = cfg.DefaultPageSize

	if v := r.URL.Query().Get("currentPage"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			currentPage = parsed
		}
	}
	if v := r.URL.Query().Get("pageSize"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			pageSize = parsed
		}
	}
	if pageSize > cfg.MaxPageSize {
		pageSize = cfg.MaxPageSize
	}
	return currentPage, pageSize
}
