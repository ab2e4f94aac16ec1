package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/fjmerc/airlift/internal/metrics"
	"github.com/fjmerc/airlift/internal/models"
	"github.com/fjmerc/airlift/internal/repository"
	"github.com/fjmerc/airlift/internal/staging"
	"github.com/fjmerc/airlift/internal/storage"
)

// statusCheckTimeout bounds a single service check.
const statusCheckTimeout = 5 * time.Second

// StatusChecker reports one service's health.
type StatusChecker func(ctx context.Context) models.StatusResponse

// StatusCheckers builds the fixed set of named service checks.
func StatusCheckers(repos *repository.Repositories, stagingStore *staging.Store, archive storage.Backend) map[string]StatusChecker {
	return map[string]StatusChecker{
		"database": func(ctx context.Context) models.StatusResponse {
			if err := repos.Ping(ctx); err != nil {
				return models.StatusResponse{Status: models.ProbeError, Message: err.Error()}
			}
			return models.StatusResponse{Status: models.ProbeOK}
		},
		"staging": func(ctx context.Context) models.StatusResponse {
			if err := stagingStore.Ping(); err != nil {
				return models.StatusResponse{Status: models.ProbeError, Message: err.Error()}
			}
			return models.StatusResponse{Status: models.ProbeOK}
		},
		"archive": func(ctx context.Context) models.StatusResponse {
			if err := archive.Ping(ctx); err != nil {
				return models.StatusResponse{Status: models.ProbeError, Message: err.Error()}
			}
			return models.StatusResponse{Status: models.ProbeOK}
		},
	}
}

// StatusHandler handles GET /api/status/{serviceName}. Unknown service names
// report UNKNOWN rather than an error so probes can tolerate version skew.
func StatusHandler(checkers map[string]StatusChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			sendError(w, models.ErrCodeInvalidRequest, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		name := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/status/"), "/")
		if name == "" {
			sendError(w, models.ErrCodeInvalidRequest, "Service name required", http.StatusBadRequest)
			return
		}

		checker, ok := checkers[name]
		if !ok {
			sendJSON(w, http.StatusOK, models.StatusResponse{
				Status:  models.ProbeUnknown,
				Message: "unknown service: " + name,
			})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), statusCheckTimeout)
		defer cancel()

		result := checker(ctx)

		metrics.StatusChecksTotal.WithLabelValues(name, result.Status).Inc()
		metrics.ServiceStatus.WithLabelValues(name).Set(statusGaugeValue(result.Status))

		sendJSON(w, http.StatusOK, result)
	}
}

func statusGaugeValue(status string) float64 {
	switch status {
	case models.ProbeOK:
		return 2
	case models.ProbeWarning:
		return 1
	default:
		return 0
	}
}
