package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fjmerc/airlift/internal/metrics"
)

// Metrics records request counts and latency per method and route.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		route := normalizeRoute(r.URL.Path)
		metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, route, strconv.Itoa(wrapped.statusCode),
		).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).
			Observe(time.Since(start).Seconds())
	})
}

// normalizeRoute collapses path parameters so metric cardinality stays
// bounded.
func normalizeRoute(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if _, err := strconv.ParseInt(p, 10, 64); err == nil {
			parts[i] = ":id"
		}
	}
	// Status endpoint names are a fixed set but still collapsed to keep
	// label values stable.
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "status" && len(parts) > 2 {
		parts = append(parts[:2], ":service")
	}
	return "/" + strings.Join(parts, "/")
}
