package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/fjmerc/airlift/internal/config"
	"github.com/fjmerc/airlift/internal/models"
	"github.com/fjmerc/airlift/internal/registry"
)

// multipartOverhead covers multipart boundaries and headers around the chunk
// payload.
const multipartOverhead = 1 << 20

// UploadItemHandler routes requests under /api/upload/{id}:
//
//	PUT    /api/upload/{id}/chunk/{n}  accept one chunk
//	GET    /api/upload/{id}/file       download the assembled file
//	DELETE /api/upload/{id}            remove the upload
func UploadItemHandler(reg *registry.Registry, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/upload/"), "/")
		parts := strings.Split(rest, "/")

		uploadID, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			sendError(w, models.ErrCodeInvalidRequest, "Invalid upload id", http.StatusBadRequest)
			return
		}

		switch {
		case len(parts) == 3 && parts[1] == "chunk" && r.Method == http.MethodPut:
			index, err := strconv.Atoi(parts[2])
			if err != nil {
				sendError(w, models.ErrCodeChunkUploadFailed, "Invalid chunk index", http.StatusBadRequest)
				return
			}
			putChunk(w, r, reg, cfg, uploadID, index)

		case len(parts) == 2 && parts[1] == "file" && r.Method == http.MethodGet:
			downloadFile(w, r, reg, cfg, uploadID)

		case len(parts) == 1 && r.Method == http.MethodDelete:
			deleteUpload(w, r, reg, cfg, uploadID)

		default:
			sendError(w, models.ErrCodeInvalidRequest, "Not found", http.StatusNotFound)
		}
	}
}

func putChunk(w http.ResponseWriter, r *http.Request, reg *registry.Registry, cfg *config.Config, uploadID int64, index int) {
	id := requesterIdentity(r, cfg)

	r.Body = http.MaxBytesReader(w, r.Body, reg.ChunkSize()+multipartOverhead)

	file, _, err := r.FormFile("chunk")
	if err != nil {
		sendError(w, models.ErrCodeChunkUploadFailed,
			"Multipart field 'chunk' is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	upload, err := reg.AcceptChunk(r.Context(), id.UploaderID, uploadID, index, file)
	if err != nil {
		sendRegistryError(w, err)
		return
	}

	sendJSON(w, http.StatusOK, upload)
}

func deleteUpload(w http.ResponseWriter, r *http.Request, reg *registry.Registry, cfg *config.Config, uploadID int64) {
	id := requesterIdentity(r, cfg)

	if err := reg.DeleteUpload(r.Context(), id.UploaderID, uploadID); err != nil {
		sendRegistryError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
