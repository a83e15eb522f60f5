package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sourceMonitor/internal/core/domain"
	"sourceMonitor/internal/infrastructure/email"
)

// DefaultDedupWindow is how long an unresolved alert absorbs repeats of the
// same finding.
const DefaultDedupWindow = 24 * time.Hour

// AlertEngineOptions configures an AlertEngine. Notifier may be nil, in
// which case alerts are persisted but never delivered.
type AlertEngineOptions struct {
	Store    domain.Store
	Notifier domain.Notifier
	Window   time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
}

// AlertEngine turns check outcomes into deduplicated alerts and delivers
// them as one digest.
type AlertEngine struct {
	store    domain.Store
	notifier domain.Notifier
	window   time.Duration
	now      func() time.Time
	log      *slog.Logger
}

func NewAlertEngine(opts AlertEngineOptions) *AlertEngine {
	e := &AlertEngine{
		store:    opts.Store,
		notifier: opts.Notifier,
		window:   opts.Window,
		now:      opts.Now,
		log:      opts.Logger,
	}
	if e.window <= 0 {
		e.window = DefaultDedupWindow
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	return e
}

// Evaluate persists an alert for every warning or error outcome that has no
// unresolved duplicate inside the window and returns only the new ones.
func (e *AlertEngine) Evaluate(ctx context.Context, outcomes []domain.CheckOutcome) []domain.Alert {
	var created []domain.Alert
	for _, o := range outcomes {
		severity, alertable := domain.SeverityFor(o.Status)
		if !alertable {
			continue
		}
		candidate := &domain.Alert{
			SourceID:  o.SourceID,
			URL:       o.URL,
			Kind:      o.Kind,
			Severity:  severity,
			Message:   fmt.Sprintf("%s - %s: %s", o.SourceID, o.Kind, o.Detail),
			CreatedAt: e.now(),
		}
		saved, err := e.store.SaveAlertIfNotDuplicate(ctx, candidate, e.window)
		if err != nil {
			e.log.Error("failed to save alert", "source", o.SourceID, "check", o.Kind, "err", err)
			continue
		}
		if saved == nil {
			e.log.Debug("duplicate alert suppressed", "key", candidate.Key().String())
			continue
		}
		e.log.Info("alert created", "alert_id", saved.ID, "severity", saved.Severity, "source", saved.SourceID, "check", saved.Kind)
		created = append(created, *saved)
	}
	e.log.Info("outcomes evaluated", "outcomes", len(outcomes), "new_alerts", len(created))
	return created
}

// Notify sends alerts as one digest and marks them notified on success.
// Delivery failures are logged and reported as false; the alerts stay
// pending for a later resend.
func (e *AlertEngine) Notify(ctx context.Context, alerts []domain.Alert) bool {
	if len(alerts) == 0 {
		return true
	}
	if e.notifier == nil {
		e.log.Warn("no notifier configured, alerts left pending", "alerts", len(alerts))
		return false
	}

	subject, body := email.RenderDigest(alerts, e.now())
	if err := e.notifier.Send(ctx, subject, body); err != nil {
		if errors.Is(err, domain.ErrNotConfigured) {
			e.log.Warn("notifier not configured, alerts left pending", "alerts", len(alerts))
		} else {
			e.log.Error("failed to send digest", "alerts", len(alerts), "err", err)
		}
		return false
	}

	for _, a := range alerts {
		if err := e.store.MarkNotified(ctx, a.ID); err != nil {
			e.log.Error("failed to mark alert notified", "alert_id", a.ID, "err", err)
		}
	}
	e.log.Info("digest sent", "alerts", len(alerts), "subject", subject)
	return true
}

// ResendPending delivers every active alert that was never notified. It
// returns how many alerts were pending and whether the delivery succeeded.
func (e *AlertEngine) ResendPending(ctx context.Context) (int, bool) {
	active, err := e.store.GetActiveAlerts(ctx)
	if err != nil {
		e.log.Error("failed to load active alerts", "err", err)
		return 0, false
	}
	var pending []domain.Alert
	for _, a := range active {
		if !a.Notified {
			pending = append(pending, a)
		}
	}
	return len(pending), e.Notify(ctx, pending)
}
