package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/metric"

	"github.com/terrpan/runnerctl/internal/runner"
)

// ErrTimeout matches any *TimeoutError via errors.Is.
var ErrTimeout = errors.New("runner registration timed out")

// TimeoutError is returned when the runner did not come online before
// the deadline.
type TimeoutError struct {
	Label   string
	Elapsed time.Duration
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("a timeout of %s is exceeded (%s elapsed): runner with label %q did not register",
		e.Timeout, e.Elapsed, e.Label)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// IsTimeout reports whether err is a readiness timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

type waitState string

const (
	stateQuiet     waitState = "quiet"
	statePolling   waitState = "polling"
	stateConfirmed waitState = "confirmed"
	stateTimedOut  waitState = "timed_out"
	stateCancelled waitState = "cancelled"
)

// Waiter polls until a runner with a given label reports online.
//
//	quiet --(QuietPeriod)--> polling --(first match online)--> confirmed
//	                            |
//	                            +--(elapsed > Timeout at tick start)--> timed_out
//
// The deadline is checked at the start of every tick, so the real
// deadline is the first tick boundary after the nominal one.
type Waiter struct {
	finder *Finder
	cfg    WaitConfig
	clock  clockwork.Clock
	logger *slog.Logger

	ticks metric.Int64Counter
}

// NewWaiter creates a Waiter.  Zero cfg fields fall back to
// DefaultWaitConfig.
func NewWaiter(finder *Finder, cfg WaitConfig, clock clockwork.Clock, logger *slog.Logger) *Waiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Waiter{
		finder: finder,
		cfg:    cfg.withDefaults(),
		clock:  clock,
		logger: logger,
	}
}

// Wait blocks until the first runner carrying label is online.  It
// returns that runner, a *TimeoutError, or the context error.
func (w *Waiter) Wait(ctx context.Context, label string) (*runner.Runner, error) {
	w.logger.Info("waiting for runner to register",
		slog.String("state", string(stateQuiet)),
		slog.String("label", label),
		slog.Duration("quietPeriod", w.cfg.QuietPeriod),
	)
	if err := w.sleep(ctx, w.cfg.QuietPeriod); err != nil {
		return nil, w.cancelled(label, err)
	}

	w.logger.Info("polling for runner",
		slog.String("state", string(statePolling)),
		slog.String("label", label),
		slog.Duration("pollInterval", w.cfg.PollInterval),
		slog.Duration("timeout", w.cfg.Timeout),
	)

	start := w.clock.Now()
	for tick := 1; ; tick++ {
		elapsed := w.clock.Since(start)
		if elapsed > w.cfg.Timeout {
			w.logger.Error("runner registration timed out",
				slog.String("state", string(stateTimedOut)),
				slog.String("label", label),
				slog.Duration("elapsed", elapsed),
				slog.Duration("timeout", w.cfg.Timeout),
			)
			return nil, &TimeoutError{Label: label, Elapsed: elapsed, Timeout: w.cfg.Timeout}
		}

		if w.ticks != nil {
			w.ticks.Add(ctx, 1)
		}
		w.logger.Info("checking runner registration",
			slog.String("label", label),
			slog.Int("tick", tick),
			slog.Duration("elapsed", elapsed),
		)

		runners := w.finder.FindByLabel(ctx, label)
		if len(runners) > 0 && runners[0].Online() {
			r := runners[0]
			w.logger.Info("runner is registered and ready",
				slog.String("state", string(stateConfirmed)),
				slog.String("label", label),
				slog.String("runner", r.Name),
				slog.Int64("runnerID", r.ID),
				slog.Duration("elapsed", elapsed),
			)
			return &r, nil
		}

		if len(runners) == 0 {
			w.logger.Debug("runner not found yet", slog.String("label", label))
		} else {
			w.logger.Debug("runner not online yet",
				slog.String("label", label),
				slog.String("runner", runners[0].Name),
				slog.String("status", string(runners[0].Status)),
			)
		}

		if err := w.sleep(ctx, w.cfg.PollInterval); err != nil {
			return nil, w.cancelled(label, err)
		}
	}
}

func (w *Waiter) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.clock.After(d):
		return nil
	}
}

func (w *Waiter) cancelled(label string, err error) error {
	w.logger.Warn("wait for runner cancelled",
		slog.String("state", string(stateCancelled)),
		slog.String("label", label),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("waiting for runner %q: %w", label, err)
}
