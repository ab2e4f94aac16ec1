package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fjmerc/airlift/internal/config"
	"github.com/fjmerc/airlift/internal/models"
	"github.com/fjmerc/airlift/internal/registry"
	"github.com/fjmerc/airlift/internal/repository"
)

// requestNewUpload is the value of the "request" form field on creation.
const requestNewUpload = "NEW_UPLOAD"

// maxCreateFormSize bounds the creation form; it carries metadata only.
const maxCreateFormSize = 1 << 20

// UploadHandler handles POST /api/upload (create or resume a session) and
// GET /api/upload (list the fleet's uploads).
func UploadHandler(reg *registry.Registry, repos *repository.Repositories, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			createUpload(w, r, reg, cfg)
		case http.MethodGet:
			listUploads(w, r, repos, cfg)
		default:
			sendError(w, models.ErrCodeInvalidRequest, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func createUpload(w http.ResponseWriter, r *http.Request, reg *registry.Registry, cfg *config.Config) {
	r.Body = http.MaxBytesReader(w, r.Body, maxCreateFormSize)
	if err := r.ParseMultipartForm(maxCreateFormSize); err != nil {
		// Plain form posts are accepted too.
		if err := r.ParseForm(); err != nil {
			sendError(w, models.ErrCodeInvalidRequest, "Invalid form data", http.StatusBadRequest)
			return
		}
	}

	if req := r.FormValue("request"); req != requestNewUpload {
		sendError(w, models.ErrCodeInvalidRequest,
			"Unknown request type: "+req, http.StatusBadRequest)
		return
	}

	numberChunks, err := strconv.Atoi(r.FormValue("numberChunks"))
	if err != nil {
		sendError(w, models.ErrCodeInvalidRequest, "numberChunks must be an integer", http.StatusBadRequest)
		return
	}
	sizeBytes, err := strconv.ParseInt(r.FormValue("sizeBytes"), 10, 64)
	if err != nil {
		sendError(w, models.ErrCodeInvalidRequest, "sizeBytes must be an integer", http.StatusBadRequest)
		return
	}

	id := requesterIdentity(r, cfg)

	upload, err := reg.CreateOrResumeUpload(r.Context(), registry.CreateRequest{
		UploaderID:   id.UploaderID,
		FleetID:      id.FleetID,
		Filename:     r.FormValue("filename"),
		NumberChunks: numberChunks,
		SizeBytes:    sizeBytes,
		MD5Hash:      r.FormValue("md5Hash"),
	})
	if err != nil {
		sendRegistryError(w, err)
		return
	}

	sendJSON(w, http.StatusOK, upload)
}

func listUploads(w http.ResponseWriter, r *http.Request, repos *repository.Repositories, cfg *config.Config) {
	id := requesterIdentity(r, cfg)
	currentPage, pageSize := pageParams(r, cfg)

	uploads, numberPages, err := repos.Uploads.List(r.Context(), id.FleetID, currentPage, pageSize)
	if err != nil {
		slog.Error("failed to list uploads", "fleet_id", id.FleetID, "error", err)
		sendError(w, models.ErrCodeInternalError, "Failed to list uploads", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, models.UploadListResponse{
		Uploads:     uploads,
		NumberPages: numberPages,
	})
}
