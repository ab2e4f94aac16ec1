// Package workers holds the background loops that run beside the HTTP
// server.
package workers

import (
	"context"
	"log/slog"
	"time"

	"github.com/fjmerc/airlift/internal/registry"
)

// CleanupWorker periodically reaps incomplete uploads whose chunk activity
// stopped long enough ago that the client is not coming back.
type CleanupWorker struct {
	registry *registry.Registry
	interval time.Duration
	maxIdle  time.Duration
}

// NewCleanupWorker creates a cleanup worker.
func NewCleanupWorker(reg *registry.Registry, interval, maxIdle time.Duration) *CleanupWorker {
	return &CleanupWorker{
		registry: reg,
		interval: interval,
		maxIdle:  maxIdle,
	}
}

// Run loops until the context is cancelled. One sweep runs immediately so a
// restart doesn't postpone overdue cleanup by a full interval.
func (w *CleanupWorker) Run(ctx context.Context) {
	slog.Info("cleanup worker started",
		"interval", w.interval, "max_idle", w.maxIdle)

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *CleanupWorker) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-w.maxIdle)
	reaped, err := w.registry.ReapStaleUploads(ctx, cutoff)
	if err != nil {
		slog.Error("cleanup sweep failed", "error", err)
		return
	}
	if reaped > 0 {
		slog.Info("cleanup sweep finished", "reaped", reaped)
	}
}
