// Package domain defines the monitor types and the contracts its adapters implement.
package domain

import (
	"fmt"
	"time"
)

// CheckKind names one of the fixed source-quality checks.
type CheckKind string

const (
	CheckLink         CheckKind = "link"
	CheckContent      CheckKind = "content"
	CheckPaywall      CheckKind = "paywall"
	CheckAvailability CheckKind = "availability"
	CheckStructure    CheckKind = "structure"
	CheckStaleness    CheckKind = "staleness"
)

// CheckKinds lists every kind in reporting order.
var CheckKinds = []CheckKind{
	CheckLink,
	CheckContent,
	CheckPaywall,
	CheckAvailability,
	CheckStructure,
	CheckStaleness,
}

// Status is the verdict of a single check.
type Status string

const (
	StatusOK      Status = "ok"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Severity classifies an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SeverityFor maps an outcome status to an alert severity.
// ok is not alertable and reports false.
func SeverityFor(s Status) (Severity, bool) {
	switch s {
	case StatusError:
		return SeverityCritical, true
	case StatusWarning:
		return SeverityWarning, true
	default:
		return "", false
	}
}

// CheckTarget is one monitored page. Targets are built once from the
// configuration and never modified afterwards.
type CheckTarget struct {
	SourceID        string   `json:"source_id"`
	SourceName      string   `json:"source_name"`
	URL             string   `json:"url"`
	ExpectedMarkers []string `json:"expected_markers"`
	StalenessDays   int      `json:"staleness_days"`
	PaywallMarkers  []string `json:"paywall_markers,omitempty"`
}

// CheckOutcome is the result of running one check kind against one target.
type CheckOutcome struct {
	ID        int64     `json:"id,omitempty"`
	SourceID  string    `json:"source_id"`
	URL       string    `json:"url"`
	Kind      CheckKind `json:"check_type"`
	Status    Status    `json:"status"`
	Detail    string    `json:"detail"`
	CheckedAt time.Time `json:"checked_at"`
}

// ContentSnapshot is one row of the append-only content history of a URL.
type ContentSnapshot struct {
	ID      int64     `json:"id,omitempty"`
	URL     string    `json:"url"`
	Hash    string    `json:"content_hash"`
	Text    string    `json:"content_text,omitempty"`
	TakenAt time.Time `json:"snapshot_at"`
}

// AlertKey identifies the deduplication bucket of an alert.
type AlertKey struct {
	SourceID string
	URL      string
	Kind     CheckKind
}

func (k AlertKey) String() string {
	return fmt.Sprintf("%s|%s|%s", k.SourceID, k.URL, k.Kind)
}

// Alert is a notifiable finding. Alerts are never deleted; ResolvedAt is set
// by an operator and Notified by the notification step.
type Alert struct {
	ID         int64      `json:"id"`
	SourceID   string     `json:"source_id"`
	URL        string     `json:"url"`
	Kind       CheckKind  `json:"check_type"`
	Severity   Severity   `json:"severity"`
	Message    string     `json:"message"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	Notified   bool       `json:"notified"`
}

// Key returns the deduplication key of the alert.
func (a Alert) Key() AlertKey {
	return AlertKey{SourceID: a.SourceID, URL: a.URL, Kind: a.Kind}
}

// Active reports whether the alert is unresolved.
func (a Alert) Active() bool { return a.ResolvedAt == nil }

// AlertSummary aggregates alert counts for dashboards and the CLI.
type AlertSummary struct {
	TotalActive      int `json:"total_active"`
	WarningCount     int `json:"warning_count"`
	CriticalCount    int `json:"critical_count"`
	Unnotified       int `json:"unnotified"`
	ResolvedThisWeek int `json:"resolved_this_week"`
}

// HistoryQuery filters check history. An empty SourceID matches every source.
type HistoryQuery struct {
	SourceID string
	Limit    int
}

// RunReport summarizes one cycle.
type RunReport struct {
	RunID       string         `json:"run_id"`
	DeepDiff    bool           `json:"deep_diff"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	TotalChecks int            `json:"total_checks"`
	Counts      map[Status]int `json:"counts"`
	Errored     []CheckOutcome `json:"errored,omitempty"`
	Outcomes    []CheckOutcome `json:"-"`
	Alerts      []Alert        `json:"alerts"`
	Notified    bool           `json:"notified"`
}

// Duration is the wall time the cycle took.
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// SchedulerState is the lifecycle state of the background scheduler.
type SchedulerState string

const (
	SchedulerStopped SchedulerState = "stopped"
	SchedulerRunning SchedulerState = "running"
)

// SchedulerStatus is a point-in-time view of the scheduler.
type SchedulerStatus struct {
	State     SchedulerState `json:"state"`
	Running   bool           `json:"running"`
	InFlight  bool           `json:"in_flight"`
	Interval  time.Duration  `json:"interval"`
	LastRunAt *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt *time.Time     `json:"next_run_at,omitempty"`
	LastError string         `json:"last_error,omitempty"`
}
