package airlift

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthColor(t *testing.T) {
	tests := []struct {
		name     string
		results  map[string]ServiceStatus
		expected string
	}{
		{"empty", map[string]ServiceStatus{}, HealthUnknown},
		{
			"all ok",
			map[string]ServiceStatus{
				"database": {Status: StatusProbeOK},
				"staging":  {Status: StatusProbeOK},
				"archive":  {Status: StatusProbeOK},
			},
			HealthHealthy,
		},
		{
			"none ok",
			map[string]ServiceStatus{
				"database": {Status: StatusProbeError},
				"staging":  {Status: StatusProbeError},
			},
			HealthUnhealthy,
		},
		{
			"mixed",
			map[string]ServiceStatus{
				"database": {Status: StatusProbeOK},
				"staging":  {Status: StatusProbeError},
			},
			HealthDegraded,
		},
		{
			"warning still counts against healthy",
			map[string]ServiceStatus{
				"database": {Status: StatusProbeOK},
				"staging":  {Status: StatusProbeWarning},
			},
			HealthDegraded,
		},
		{
			"nothing reachable",
			map[string]ServiceStatus{
				"database": {Status: StatusProbeUnchecked},
				"staging":  {Status: StatusProbeUnchecked},
			},
			HealthUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HealthColor(tt.results))
		})
	}
}

func TestSweepSettlesAllProbes(t *testing.T) {
	// database and archive answer OK; staging returns garbage so its probe
	// lands on UNCHECKED without aborting the sweep.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/api/status/")
		if name == "staging" {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream failure"))
			return
		}
		json.NewEncoder(w).Encode(ServiceStatus{Status: StatusProbeOK})
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{BaseURL: srv.URL, RetryMax: 1})
	require.NoError(t, err)

	probe := NewStatusProbe(client)
	probe.Timeout = 2 * time.Second

	results := probe.Sweep(context.Background())
	require.Len(t, results, len(ProbeServices), "every service settles")

	assert.Equal(t, StatusProbeOK, results["database"].Status)
	assert.Equal(t, StatusProbeOK, results["archive"].Status)
	assert.Equal(t, StatusProbeUnchecked, results["staging"].Status)
	assert.NotEmpty(t, results["staging"].Message)

	assert.Equal(t, HealthDegraded, HealthColor(results))
}

func TestSweepAllDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	srv.Close() // refuse every connection

	client, err := NewClient(ClientConfig{BaseURL: srv.URL, RetryMax: 1, Timeout: time.Second})
	require.NoError(t, err)

	probe := NewStatusProbe(client)
	probe.Timeout = time.Second

	results := probe.Sweep(context.Background())
	require.Len(t, results, len(ProbeServices))
	for name, s := range results {
		assert.Equal(t, StatusProbeUnchecked, s.Status, "service %s", name)
	}
	assert.Equal(t, HealthUnknown, HealthColor(results))
}
