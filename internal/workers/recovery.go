package workers

import (
	"context"
	"log/slog"

	"github.com/fjmerc/airlift/internal/registry"
)

// RunRecovery performs the one-shot startup pass that rewinds assemblies
// interrupted by a crash and finishes any upload that already has every
// chunk staged.
func RunRecovery(ctx context.Context, reg *registry.Registry) {
	if err := reg.RecoverInterrupted(ctx); err != nil {
		slog.Error("startup recovery failed", "error", err)
		return
	}
	slog.Info("startup recovery finished")
}
