package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"github.com/benbjohnson/clock"

	"github.com/caam1406/clawdesk/pkg/logger"
	"github.com/caam1406/clawdesk/pkg/storage/repository"
)

// Pruner deletes conversation events older than the retention window on a cron schedule.
type Pruner struct {
	repo      repository.ConversationRepository
	schedule  string
	retention time.Duration
	clock     clock.Clock
}

// NewPruner validates schedule and returns a pruner. A nil clock uses the wall clock.
func NewPruner(repo repository.ConversationRepository, schedule string, retention time.Duration, clk clock.Clock) (*Pruner, error) {
	g := gronx.New()
	if !g.IsValid(schedule) {
		return nil, fmt.Errorf("invalid prune schedule %q", schedule)
	}
	if retention <= 0 {
		return nil, fmt.Errorf("retention must be positive, got %s", retention)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Pruner{repo: repo, schedule: schedule, retention: retention, clock: clk}, nil
}

// Run prunes at every schedule tick until ctx is done.
func (p *Pruner) Run(ctx context.Context) error {
	for {
		now := p.clock.Now()
		next, err := gronx.NextTickAfter(p.schedule, now, false)
		if err != nil {
			return fmt.Errorf("next prune tick: %w", err)
		}

		timer := p.clock.Timer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if _, err := p.PruneOnce(ctx); err != nil {
			logger.ErrorCF("storage", "Prune failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}

// PruneOnce deletes everything older than the retention window.
func (p *Pruner) PruneOnce(ctx context.Context) (int64, error) {
	cutoff := p.clock.Now().Add(-p.retention)
	n, err := p.repo.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	logger.InfoCF("storage", "Pruned conversation events", map[string]interface{}{
		"deleted": n,
		"cutoff":  cutoff.Format(time.RFC3339),
	})
	return n, nil
}
