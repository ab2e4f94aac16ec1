package airlift

import (
	"context"
	"sync"
	"time"
)

// ProbeServices is the fixed set of services the status endpoint exposes.
var ProbeServices = []string{"database", "staging", "archive"}

// Health colors aggregated from a full probe sweep.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
	HealthUnknown   = "unknown"
)

// StatusProbe checks every known service in parallel and aggregates the
// results into a single health color.
type StatusProbe struct {
	client *Client

	// Timeout bounds each service check independently; one hung probe
	// cannot stall the sweep.
	Timeout time.Duration
}

// NewStatusProbe creates a probe over the given client.
func NewStatusProbe(client *Client) *StatusProbe {
	return &StatusProbe{
		client:  client,
		Timeout: 10 * time.Second,
	}
}

// Sweep probes every service concurrently and waits for all of them to
// settle. A probe that fails or times out reports UNCHECKED rather than
// aborting the sweep.
func (p *StatusProbe) Sweep(ctx context.Context) map[string]ServiceStatus {
	results := make(map[string]ServiceStatus, len(ProbeServices))

	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, name := range ProbeServices {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()

			probeCtx, cancel := context.WithTimeout(ctx, p.Timeout)
			defer cancel()

			status := ServiceStatus{Status: StatusProbeUnchecked}
			if res, err := p.client.GetServiceStatus(probeCtx, name); err == nil {
				status = *res
			} else {
				status.Message = err.Error()
			}

			mu.Lock()
			results[name] = status
			mu.Unlock()
		}(name)
	}

	wg.Wait()
	return results
}

// HealthColor reduces a sweep's results to one color: all OK is healthy,
// none OK is unhealthy, a mix is degraded, and a sweep where nothing could
// be checked at all is unknown.
func HealthColor(results map[string]ServiceStatus) string {
	if len(results) == 0 {
		return HealthUnknown
	}

	ok := 0
	unchecked := 0
	for _, s := range results {
		switch s.Status {
		case StatusProbeOK:
			ok++
		case StatusProbeUnchecked:
			unchecked++
		}
	}

	switch {
	case unchecked == len(results):
		return HealthUnknown
	case ok == len(results):
		return HealthHealthy
	case ok == 0:
		return HealthUnhealthy
	default:
		return HealthDegraded
	}
}
