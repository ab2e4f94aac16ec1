package handlers

import (
	"log/slog"
	"net/http"

	"github.com/fjmerc/airlift/internal/config"
	"github.com/fjmerc/airlift/internal/models"
	"github.com/fjmerc/airlift/internal/repository"
)

// ImportsHandler handles GET /api/upload/imported, the paginated view of
// import pipeline results for the fleet's uploads.
func ImportsHandler(repos *repository.Repositories, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			sendError(w, models.ErrCodeInvalidRequest, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		id := requesterIdentity(r, cfg)
		currentPage, pageSize := pageParams(r, cfg)

		imports, numberPages, err := repos.Imports.List(r.Context(), id.FleetID, currentPage, pageSize)
		if err != nil {
			slog.Error("failed to list imports", "fleet_id", id.FleetID, "error", err)
			sendError(w, models.ErrCodeInternalError, "Failed to list imports", http.StatusInternalServerError)
			return
		}

		sendJSON(w, http.StatusOK, models.ImportListResponse{
			Imports:     imports,
			NumberPages: numberPages,
		})
	}
}
