package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/pergola/pkg/domain"
)

// LogHooks writes one structured record per lifecycle event.
// Handler and routing failures are logged at warn level, everything else at debug.
func LogHooks(logger *slog.Logger) domain.LifecycleHooks {
	if logger == nil {
		return domain.LifecycleHooks{}
	}
	return domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) {
			logger.DebugContext(ctx, "node enter", "run_id", e.RunID, "step", e.Step, "node", e.Node)
		},
		OnNodeLeave: func(ctx context.Context, e *domain.NodeEvent) {
			if e.Err != nil {
				logger.WarnContext(ctx, "node failed", "run_id", e.RunID, "step", e.Step, "node", e.Node, "duration", e.Duration, "error", e.Err)
				return
			}
			logger.DebugContext(ctx, "node leave", "run_id", e.RunID, "step", e.Step, "node", e.Node, "duration", e.Duration)
		},
		OnRoute: func(ctx context.Context, e *domain.RouteEvent) {
			if e.Err != nil {
				logger.WarnContext(ctx, "routing failed", "run_id", e.RunID, "from", e.From, "key", e.Key, "error", e.Err)
				return
			}
			logger.DebugContext(ctx, "route", "run_id", e.RunID, "from", e.From, "key", e.Key, "to", e.To)
		},
		OnSuspend: func(ctx context.Context, e *domain.RunEvent) {
			logger.InfoContext(ctx, "run suspended", "run_id", e.RunID, "step", e.Step, "node", e.Node, "reason", e.Reason)
		},
		OnComplete: func(ctx context.Context, e *domain.RunEvent) {
			logger.InfoContext(ctx, "run completed", "run_id", e.RunID, "step", e.Step)
		},
	}
}
