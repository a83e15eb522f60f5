package services

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sourceMonitor/internal/core/domain"
)

// CycleObserver is told about every finished cycle.
type CycleObserver interface {
	ObserveCycle(report *domain.RunReport) error
}

// MonitorOptions wires a Monitor.
type MonitorOptions struct {
	Runner   *Runner
	Alerts   *AlertEngine
	Store    domain.Store
	Targets  []domain.CheckTarget
	Observer CycleObserver
	Now      func() time.Time
	Logger   *slog.Logger
}

// Monitor runs one complete cycle: checks, history, alerts, digest.
type Monitor struct {
	runner   *Runner
	alerts   *AlertEngine
	store    domain.Store
	observer CycleObserver
	now      func() time.Time
	log      *slog.Logger

	targets atomic.Pointer[[]domain.CheckTarget]
}

func NewMonitor(opts MonitorOptions) *Monitor {
	m := &Monitor{
		runner:   opts.Runner,
		alerts:   opts.Alerts,
		store:    opts.Store,
		observer: opts.Observer,
		now:      opts.Now,
		log:      opts.Logger,
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	m.SetTargets(opts.Targets)
	return m
}

// SetTargets replaces the target list. A cycle already running keeps the
// list it started with.
func (m *Monitor) SetTargets(targets []domain.CheckTarget) {
	cp := make([]domain.CheckTarget, len(targets))
	copy(cp, targets)
	m.targets.Store(&cp)
}

// Targets returns the current target list.
func (m *Monitor) Targets() []domain.CheckTarget {
	return *m.targets.Load()
}

// Cycle executes checks for every target, records the outcomes, creates
// alerts and sends the digest. Only a context cancelled before the cycle
// starts is reported as an error; every other failure is logged and
// reflected in the report.
func (m *Monitor) Cycle(ctx context.Context, deep bool) (*domain.RunReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	targets := m.Targets()
	report := &domain.RunReport{
		RunID:     uuid.NewString(),
		DeepDiff:  deep,
		StartedAt: m.now(),
		Counts:    make(map[domain.Status]int),
	}
	log := m.log.With("run_id", report.RunID)
	log.Info("monitoring cycle started", "targets", len(targets), "deep_diff", deep)

	outcomes := m.runner.RunAll(ctx, targets, deep)
	for i := range outcomes {
		o := &outcomes[i]
		report.Counts[o.Status]++
		if o.Status == domain.StatusError {
			report.Errored = append(report.Errored, *o)
		}
		if err := m.store.SaveCheckResult(ctx, o); err != nil {
			log.Error("failed to save check result", "source", o.SourceID, "url", o.URL, "check", o.Kind, "err", err)
		}
	}
	report.Outcomes = outcomes
	report.TotalChecks = len(outcomes)

	report.Alerts = m.alerts.Evaluate(ctx, outcomes)
	report.Notified = m.alerts.Notify(ctx, report.Alerts)
	report.FinishedAt = m.now()

	if m.observer != nil {
		if err := m.observer.ObserveCycle(report); err != nil {
			log.Warn("failed to record cycle metrics", "err", err)
		}
	}

	log.Info("monitoring cycle finished",
		"checks", report.TotalChecks,
		"ok", report.Counts[domain.StatusOK],
		"warnings", report.Counts[domain.StatusWarning],
		"errors", report.Counts[domain.StatusError],
		"new_alerts", len(report.Alerts),
		"notified", report.Notified,
		"duration", report.Duration())
	return report, nil
}
