package lifecycle

import (
	"context"
	"log/slog"

	"github.com/terrpan/runnerctl/internal/runner"
)

// Finder looks runners up by label.
type Finder struct {
	registry runner.Registry
	repo     runner.Repository
	logger   *slog.Logger
}

// NewFinder creates a Finder scoped to repo.
func NewFinder(registry runner.Registry, repo runner.Repository, logger *slog.Logger) *Finder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Finder{registry: registry, repo: repo, logger: logger}
}

// FindByLabel returns the runners carrying label, in API order.
//
// A failed listing is logged and reported as "not found" (nil): the
// lookup only answers "does it exist yet", and callers treat that as
// retryable.  When several runners share the label the first one is
// what callers act on; a warning is logged since that usually means a
// stale runner was never cleaned up.
func (f *Finder) FindByLabel(ctx context.Context, label string) []runner.Runner {
	all, err := f.registry.ListRunners(ctx, f.repo)
	if err != nil {
		f.logger.Error("listing runners failed",
			slog.String("label", label),
			slog.String("error", err.Error()),
		)
		return nil
	}

	var found []runner.Runner
	for _, r := range all {
		if r.HasLabel(label) {
			found = append(found, r)
		}
	}

	if len(found) > 1 {
		names := make([]string, len(found))
		for i, r := range found {
			names[i] = r.Name
		}
		f.logger.Warn("multiple runners share a label, using the first",
			slog.String("label", label),
			slog.Int("count", len(found)),
			slog.Any("runners", names),
		)
	}
	return found
}
