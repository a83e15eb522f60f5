package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrBusy is returned when a cycle is requested while another is in flight.
	ErrBusy = errors.New("a monitoring cycle is already running")
	// ErrNotConfigured is returned by optional collaborators that were not set up.
	ErrNotConfigured = errors.New("not configured")
	// ErrLookupUnavailable is returned when the secondary lookup cannot answer.
	ErrLookupUnavailable = errors.New("secondary lookup unavailable")
	// ErrInvalidInterval is returned when the scheduler is started with a non-positive interval.
	ErrInvalidInterval = errors.New("interval must be positive")
)

// Store persists check history, content snapshots and alerts.
// Every method is atomic on its own; callers never span a transaction
// across calls.
type Store interface {
	SaveCheckResult(ctx context.Context, outcome *CheckOutcome) error
	GetHistory(ctx context.Context, q HistoryQuery) ([]CheckOutcome, error)
	GetLatestCheckBySource(ctx context.Context) (map[string]CheckOutcome, error)

	SaveSnapshot(ctx context.Context, snap *ContentSnapshot) error
	// GetLatestSnapshot returns ErrNotFound when the URL has no history.
	GetLatestSnapshot(ctx context.Context, url string) (*ContentSnapshot, error)
	GetSnapshotHistory(ctx context.Context, url string, limit int) ([]ContentSnapshot, error)

	// SaveAlertIfNotDuplicate inserts alert unless an unresolved alert with
	// the same key was created within window before alert.CreatedAt. It
	// returns nil, nil when the alert was suppressed.
	SaveAlertIfNotDuplicate(ctx context.Context, alert *Alert, window time.Duration) (*Alert, error)
	MarkNotified(ctx context.Context, alertID int64) error
	ResolveAlert(ctx context.Context, alertID int64, at time.Time) error
	GetActiveAlerts(ctx context.Context) ([]Alert, error)
	GetRecentAlerts(ctx context.Context, limit int) ([]Alert, error)
	GetAlertSummary(ctx context.Context, now time.Time) (AlertSummary, error)

	Close() error
}

// Notifier delivers a rendered digest. Implementations must use an
// encrypted connection when they cross the network.
type Notifier interface {
	Send(ctx context.Context, subject, body string) error
}

// LookupResult is what the secondary lookup knows about a URL.
type LookupResult struct {
	Indexed      bool
	LastModified *time.Time
	Title        string
}

// Lookup is the optional secondary signal used to corroborate staleness and
// link checks. Any error means the signal is skipped.
type Lookup interface {
	Lookup(ctx context.Context, query string) (*LookupResult, error)
}
