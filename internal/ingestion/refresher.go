package ingestion

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/boletin/backend/pkg/logger"
)

// Run reloads the sheet every interval until ctx is done. A failed refresh
// keeps the current snapshot. Load events past the retention window are
// pruned after every tick.
func (p *Processor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || p.fetcher == nil {
		return
	}

	logger.Info("Sheet refresher started", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Sheet refresher stopped")
			return
		case <-ticker.C:
			if _, err := p.Load(ctx); err != nil {
				logger.Warn("Scheduled refresh failed", zap.Error(err))
			}
			p.pruneHistory(ctx)
		}
	}
}

func (p *Processor) pruneHistory(ctx context.Context) {
	pruner, ok := p.repo.(HistoryPruner)
	if !ok || p.retention <= 0 {
		return
	}

	cutoff := p.now().Add(-p.retention)
	n, err := pruner.PruneLoads(ctx, cutoff)
	if err != nil {
		logger.Warn("Failed to prune load history", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("Load history pruned", zap.Int64("removed", n), zap.Time("cutoff", cutoff))
	}
}
