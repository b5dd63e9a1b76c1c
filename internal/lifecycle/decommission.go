package lifecycle

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"github.com/terrpan/runnerctl/internal/runner"
)

// Decommissioner removes the runners carrying a label.
type Decommissioner struct {
	finder   *Finder
	registry runner.Registry
	repo     runner.Repository
	logger   *slog.Logger

	removed metric.Int64Counter
}

// NewDecommissioner creates a Decommissioner scoped to repo.
func NewDecommissioner(finder *Finder, registry runner.Registry, repo runner.Repository, logger *slog.Logger) *Decommissioner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Decommissioner{
		finder:   finder,
		registry: registry,
		repo:     repo,
		logger:   logger,
	}
}

// RemoveByLabel deletes every runner carrying label, one at a time and in
// lookup order.  No match is a no-op.  The first failed deletion stops
// the batch and is returned; runners not yet processed are left alone.
func (d *Decommissioner) RemoveByLabel(ctx context.Context, label string) error {
	runners := d.finder.FindByLabel(ctx, label)
	if len(runners) == 0 {
		d.logger.Info("runner not found, removal skipped", slog.String("label", label))
		return nil
	}

	d.logger.Info("found runners to remove",
		slog.String("label", label),
		slog.Int("count", len(runners)),
	)

	for _, r := range runners {
		d.logger.Info("removing runner",
			slog.String("runner", r.Name),
			slog.Int64("runnerID", r.ID),
			slog.String("status", string(r.Status)),
		)
		if err := d.registry.RemoveRunner(ctx, d.repo, r.ID); err != nil {
			d.logger.Error("runner removal failed",
				slog.String("runner", r.Name),
				slog.Int64("runnerID", r.ID),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("remove runner %s (%d): %w", r.Name, r.ID, err)
		}

		if d.removed != nil {
			d.removed.Add(ctx, 1)
		}
		d.logger.Info("runner removed", slog.String("runner", r.Name))
	}
	return nil
}
