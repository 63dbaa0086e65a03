package worker

import (
	"context"
	"log/slog"
	"time"
)

// Purger removes ledger entries older than a given age.
type Purger interface {
	PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// Pruner deletes old ledger entries based on the retention policy.
type Pruner struct {
	purger   Purger
	period   time.Duration
	interval time.Duration
	log      *slog.Logger
}

// NewPruner creates a new Pruner worker. A zero interval derives one from the
// retention period.
func NewPruner(purger Purger, period, interval time.Duration) *Pruner {
	if interval <= 0 {
		// 10% of retention period, between 1 minute and 1 hour
		interval = min(period/10, 1*time.Hour)
		interval = max(interval, 1*time.Minute)
	}
	return &Pruner{
		purger:   purger,
		period:   period,
		interval: interval,
		log:      slog.Default().With("component", "pruner"),
	}
}

// Interval returns the time between prune passes.
func (p *Pruner) Interval() time.Duration {
	return p.interval
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.period <= 0 {
		return // Retention disabled
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Initial prune
	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	n, err := p.purger.PurgeOlderThan(ctx, p.period)
	if err != nil {
		p.log.Error("Failed to prune ledger", "retention", p.period, "error", err)
		return
	}
	if n > 0 {
		p.log.Info("Pruned ledger", "removed", n, "retention", p.period)
	}
}
