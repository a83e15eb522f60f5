package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"sourceMonitor/internal/core/domain"
	"sourceMonitor/internal/infrastructure/persistence"
	"sourceMonitor/internal/infrastructure/scraper"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// clock is a settable time source.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock { return &clock{t: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func htmlPage(title, body string) string {
	return fmt.Sprintf(`<!DOCTYPE html><html><head><title>%s</title></head><body>%s</body></html>`, title, body)
}

func newTestFetcher() *scraper.Fetcher {
	return scraper.NewFetcher(scraper.FetcherOptions{Backoff: time.Millisecond, MaxAttempts: 2})
}

func newTestRunner(store domain.Store, lookup domain.Lookup, now func() time.Time) *Runner {
	return NewRunner(RunnerOptions{
		Fetcher:        newTestFetcher(),
		Store:          store,
		Lookup:         lookup,
		MaxConcurrency: 4,
		Timeout:        2 * time.Second,
		Now:            now,
		Logger:         discardLogger(),
	})
}

func target(id, url string, markers ...string) domain.CheckTarget {
	if len(markers) == 0 {
		markers = []string{"main"}
	}
	return domain.CheckTarget{
		SourceID:        id,
		SourceName:      id,
		URL:             url,
		ExpectedMarkers: markers,
		StalenessDays:   30,
	}
}

func byKind(outcomes []domain.CheckOutcome) map[domain.CheckKind]domain.CheckOutcome {
	m := make(map[domain.CheckKind]domain.CheckOutcome)
	for _, o := range outcomes {
		m[o.Kind] = o
	}
	return m
}

// fakeNotifier records digests and fails while err is set.
type fakeNotifier struct {
	mu       sync.Mutex
	err      error
	subjects []string
	bodies   []string
}

func (f *fakeNotifier) Send(ctx context.Context, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, body)
	return nil
}

func (f *fakeNotifier) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeNotifier) sent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subjects)
}

// fakeLookup answers every query with res or err.
type fakeLookup struct {
	res   *domain.LookupResult
	err   error
	calls int
	mu    sync.Mutex
}

func (f *fakeLookup) Lookup(ctx context.Context, query string) (*domain.LookupResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

var errUnavailable = fmt.Errorf("serp: %w", domain.ErrLookupUnavailable)

// failingStore fails selected writes and delegates everything else.
type failingStore struct {
	*persistence.JSONStore
	failChecks bool
}

func (s *failingStore) SaveCheckResult(ctx context.Context, o *domain.CheckOutcome) error {
	if s.failChecks {
		return errors.New("disk full")
	}
	return s.JSONStore.SaveCheckResult(ctx, o)
}
