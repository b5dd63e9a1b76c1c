// Package lifecycle drives a single ephemeral runner through its
// registration lifecycle: minting a registration token, waiting for the
// runner to come online, and removing it once the work is done.
//
// The runner is identified only by a unique label.  Every component is
// configured explicitly at construction time and keeps no state between
// calls.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/terrpan/runnerctl/internal/runner"
)

// Config holds everything a Manager needs.
type Config struct {
	Repository runner.Repository
	// Label is the runner label RemoveRunners operates on.
	Label    string
	Registry runner.Registry
	Wait     WaitConfig
	// Clock defaults to the real clock.  Tests inject a fake one.
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Manager is the surface the CLI drives.
type Manager struct {
	repo     runner.Repository
	label    string
	registry runner.Registry
	clock    clockwork.Clock
	logger   *slog.Logger

	finder *Finder
	waiter *Waiter
	decom  *Decommissioner

	// OpenTelemetry instrumentation
	tracer trace.Tracer
	meter  metric.Meter

	// Metrics
	tokensCreated metric.Int64Counter
	waitDuration  metric.Float64Histogram
}

// New creates a Manager.  Zero WaitConfig fields fall back to
// DefaultWaitConfig.
func New(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	cfg.Wait = cfg.Wait.withDefaults()

	m := &Manager{
		repo:     cfg.Repository,
		label:    cfg.Label,
		registry: cfg.Registry,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		tracer:   otel.Tracer("runnerctl/lifecycle"),
		meter:    otel.Meter("runnerctl/lifecycle"),
	}

	// Initialize metrics (errors are logged but not fatal)
	var err error
	m.tokensCreated, err = m.meter.Int64Counter(
		"runnerctl.tokens.created",
		metric.WithDescription("Total number of registration tokens minted"),
		metric.WithUnit("1"),
	)
	if err != nil {
		cfg.Logger.Warn("failed to create tokensCreated counter", slog.String("error", err.Error()))
	}

	pollTicks, err := m.meter.Int64Counter(
		"runnerctl.poll.ticks",
		metric.WithDescription("Total number of readiness checks"),
		metric.WithUnit("1"),
	)
	if err != nil {
		cfg.Logger.Warn("failed to create pollTicks counter", slog.String("error", err.Error()))
	}

	runnersRemoved, err := m.meter.Int64Counter(
		"runnerctl.runners.removed",
		metric.WithDescription("Total number of runners removed"),
		metric.WithUnit("1"),
	)
	if err != nil {
		cfg.Logger.Warn("failed to create runnersRemoved counter", slog.String("error", err.Error()))
	}

	m.waitDuration, err = m.meter.Float64Histogram(
		"runnerctl.wait.duration",
		metric.WithDescription("Time until the runner came online or the wait gave up (seconds)"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(10, 15, 30, 60, 120, 180, 300, 600),
	)
	if err != nil {
		cfg.Logger.Warn("failed to create waitDuration histogram", slog.String("error", err.Error()))
	}

	m.finder = NewFinder(cfg.Registry, cfg.Repository, cfg.Logger.WithGroup("lookup"))
	m.waiter = NewWaiter(m.finder, cfg.Wait, cfg.Clock, cfg.Logger.WithGroup("wait"))
	m.waiter.ticks = pollTicks
	m.decom = NewDecommissioner(m.finder, cfg.Registry, cfg.Repository, cfg.Logger.WithGroup("remove"))
	m.decom.removed = runnersRemoved

	return m
}

// GetRegistrationToken mints a registration token for the configured
// repository.  Failure is fatal for the caller.
func (m *Manager) GetRegistrationToken(ctx context.Context) (*runner.RegistrationToken, error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.GetRegistrationToken")
	defer span.End()

	span.SetAttributes(attribute.String("github.repository", m.repo.String()))

	tok, err := m.registry.CreateRegistrationToken(ctx, m.repo)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "registration token")
		return nil, fmt.Errorf("registration token: %w", err)
	}

	if m.tokensCreated != nil {
		m.tokensCreated.Add(ctx, 1)
	}
	return tok, nil
}

// RemoveRunners removes every runner carrying the configured label.
func (m *Manager) RemoveRunners(ctx context.Context) error {
	ctx, span := m.tracer.Start(ctx, "lifecycle.RemoveRunners")
	defer span.End()

	span.SetAttributes(attribute.String("runner.label", m.label))

	if err := m.decom.RemoveByLabel(ctx, m.label); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "remove runners")
		return err
	}
	return nil
}

// WaitForRunnerRegistered blocks until the runner carrying label reports
// online, the wait times out, or ctx is done.
func (m *Manager) WaitForRunnerRegistered(ctx context.Context, label string) (*runner.Runner, error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.WaitForRunnerRegistered")
	defer span.End()

	span.SetAttributes(attribute.String("runner.label", label))

	start := m.clock.Now()
	r, err := m.waiter.Wait(ctx, label)

	result := "online"
	if err != nil {
		result = "failed"
		if IsTimeout(err) {
			result = "timeout"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	} else {
		span.SetAttributes(
			attribute.Int64("runner.id", r.ID),
			attribute.String("runner.name", r.Name),
		)
	}

	if m.waitDuration != nil {
		m.waitDuration.Record(ctx, m.clock.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("result", result)))
	}
	return r, err
}

// WaitConfig tunes the readiness wait.
type WaitConfig struct {
	// QuietPeriod is slept once before the first check.
	QuietPeriod time.Duration
	// PollInterval separates consecutive checks.
	PollInterval time.Duration
	// Timeout is measured from the first check, not from the start of
	// the quiet period.
	Timeout time.Duration
}

// DefaultWaitConfig returns a 10s quiet period, 5s poll interval and a
// 5 minute timeout.
func DefaultWaitConfig() WaitConfig {
	return WaitConfig{
		QuietPeriod:  10 * time.Second,
		PollInterval: 5 * time.Second,
		Timeout:      5 * time.Minute,
	}
}

func (c WaitConfig) withDefaults() WaitConfig {
	def := DefaultWaitConfig()
	if c.QuietPeriod == 0 {
		c.QuietPeriod = def.QuietPeriod
	}
	if c.PollInterval == 0 {
		c.PollInterval = def.PollInterval
	}
	if c.Timeout == 0 {
		c.Timeout = def.Timeout
	}
	return c
}
