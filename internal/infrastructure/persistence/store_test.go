package persistence

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sourceMonitor/internal/core/domain"
)

var t0 = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type storeFactory func(t *testing.T) domain.Store

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) domain.Store { return NewMemoryStore() },
		"json": func(t *testing.T) domain.Store {
			s, err := OpenJSON(filepath.Join(t.TempDir(), "store.json"))
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) domain.Store {
			s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "monitor.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, s domain.Store)) {
	for name, newStore := range factories() {
		t.Run(name, func(t *testing.T) { fn(t, newStore(t)) })
	}
}

func newAlert(source string, kind domain.CheckKind, at time.Time) *domain.Alert {
	return &domain.Alert{
		SourceID:  source,
		URL:       "https://example.com/" + source,
		Kind:      kind,
		Severity:  domain.SeverityCritical,
		Message:   source + " - " + string(kind) + ": broken",
		CreatedAt: at,
	}
}

func TestSnapshotsLatestAndHistory(t *testing.T) {
	forEachStore(t, func(t *testing.T, s domain.Store) {
		ctx := context.Background()
		url := "https://example.com/docs"

		_, err := s.GetLatestSnapshot(ctx, url)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		for i, h := range []string{"h1", "h2", "h3"} {
			snap := &domain.ContentSnapshot{URL: url, Hash: h, Text: "text " + h, TakenAt: t0.Add(time.Duration(i) * time.Minute)}
			require.NoError(t, s.SaveSnapshot(ctx, snap))
			assert.NotZero(t, snap.ID)
		}
		require.NoError(t, s.SaveSnapshot(ctx, &domain.ContentSnapshot{URL: "https://other", Hash: "x", TakenAt: t0.Add(time.Hour)}))

		latest, err := s.GetLatestSnapshot(ctx, url)
		require.NoError(t, err)
		assert.Equal(t, "h3", latest.Hash)
		assert.Equal(t, "text h3", latest.Text)
		assert.True(t, latest.TakenAt.Equal(t0.Add(2*time.Minute)))

		hist, err := s.GetSnapshotHistory(ctx, url, 2)
		require.NoError(t, err)
		require.Len(t, hist, 2)
		assert.Equal(t, "h3", hist[0].Hash)
		assert.Equal(t, "h2", hist[1].Hash)
	})
}

func TestCheckHistory(t *testing.T) {
	forEachStore(t, func(t *testing.T, s domain.Store) {
		ctx := context.Background()
		for i, src := range []string{"python", "mdn", "python"} {
			require.NoError(t, s.SaveCheckResult(ctx, &domain.CheckOutcome{
				SourceID:  src,
				URL:       "https://example.com/" + src,
				Kind:      domain.CheckLink,
				Status:    domain.StatusOK,
				Detail:    "Link is accessible",
				CheckedAt: t0.Add(time.Duration(i) * time.Second),
			}))
		}

		all, err := s.GetHistory(ctx, domain.HistoryQuery{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.True(t, all[0].CheckedAt.After(all[1].CheckedAt))

		py, err := s.GetHistory(ctx, domain.HistoryQuery{SourceID: "python", Limit: 1})
		require.NoError(t, err)
		require.Len(t, py, 1)
		assert.Equal(t, domain.CheckLink, py[0].Kind)
		assert.True(t, py[0].CheckedAt.Equal(t0.Add(2*time.Second)))

		latest, err := s.GetLatestCheckBySource(ctx)
		require.NoError(t, err)
		assert.Len(t, latest, 2)
		assert.True(t, latest["python"].CheckedAt.Equal(t0.Add(2*time.Second)))
	})
}

func TestAlertDeduplicationWindow(t *testing.T) {
	forEachStore(t, func(t *testing.T, s domain.Store) {
		ctx := context.Background()
		window := 24 * time.Hour

		first, err := s.SaveAlertIfNotDuplicate(ctx, newAlert("python", domain.CheckLink, t0), window)
		require.NoError(t, err)
		require.NotNil(t, first)
		assert.NotZero(t, first.ID)

		dup, err := s.SaveAlertIfNotDuplicate(ctx, newAlert("python", domain.CheckLink, t0.Add(23*time.Hour)), window)
		require.NoError(t, err)
		assert.Nil(t, dup)

		// a different check kind is a different key
		other, err := s.SaveAlertIfNotDuplicate(ctx, newAlert("python", domain.CheckPaywall, t0.Add(time.Hour)), window)
		require.NoError(t, err)
		assert.NotNil(t, other)

		late, err := s.SaveAlertIfNotDuplicate(ctx, newAlert("python", domain.CheckLink, t0.Add(25*time.Hour)), window)
		require.NoError(t, err)
		assert.NotNil(t, late)

		active, err := s.GetActiveAlerts(ctx)
		require.NoError(t, err)
		assert.Len(t, active, 3)

		// the suppressed duplicate left the first row untouched
		recent, err := s.GetRecentAlerts(ctx, 0)
		require.NoError(t, err)
		require.Len(t, recent, 3)
		assert.Equal(t, first.ID, recent[2].ID)
		assert.True(t, recent[2].CreatedAt.Equal(t0))
	})
}

func TestAlertAfterResolutionIsNew(t *testing.T) {
	forEachStore(t, func(t *testing.T, s domain.Store) {
		ctx := context.Background()
		a, err := s.SaveAlertIfNotDuplicate(ctx, newAlert("mdn", domain.CheckAvailability, t0), 24*time.Hour)
		require.NoError(t, err)
		require.NotNil(t, a)

		require.NoError(t, s.ResolveAlert(ctx, a.ID, t0.Add(time.Hour)))
		// resolving twice is a no-op
		require.NoError(t, s.ResolveAlert(ctx, a.ID, t0.Add(2*time.Hour)))

		b, err := s.SaveAlertIfNotDuplicate(ctx, newAlert("mdn", domain.CheckAvailability, t0.Add(2*time.Hour)), 24*time.Hour)
		require.NoError(t, err)
		require.NotNil(t, b)
		assert.NotEqual(t, a.ID, b.ID)

		recent, err := s.GetRecentAlerts(ctx, 10)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		require.NotNil(t, recent[1].ResolvedAt)
		assert.True(t, recent[1].ResolvedAt.Equal(t0.Add(time.Hour)))
	})
}

func TestMarkNotifiedAndSummary(t *testing.T) {
	forEachStore(t, func(t *testing.T, s domain.Store) {
		ctx := context.Background()
		crit, err := s.SaveAlertIfNotDuplicate(ctx, newAlert("python", domain.CheckLink, t0), 24*time.Hour)
		require.NoError(t, err)
		warn := newAlert("mdn", domain.CheckContent, t0)
		warn.Severity = domain.SeverityWarning
		w, err := s.SaveAlertIfNotDuplicate(ctx, warn, 24*time.Hour)
		require.NoError(t, err)
		resolved, err := s.SaveAlertIfNotDuplicate(ctx, newAlert("aws", domain.CheckLink, t0), 24*time.Hour)
		require.NoError(t, err)

		require.NoError(t, s.MarkNotified(ctx, crit.ID))
		require.NoError(t, s.MarkNotified(ctx, crit.ID))
		require.NoError(t, s.ResolveAlert(ctx, resolved.ID, t0.Add(time.Hour)))

		assert.ErrorIs(t, s.MarkNotified(ctx, 9999), domain.ErrNotFound)
		assert.ErrorIs(t, s.ResolveAlert(ctx, 9999, t0), domain.ErrNotFound)

		sum, err := s.GetAlertSummary(ctx, t0.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, domain.AlertSummary{
			TotalActive:      2,
			WarningCount:     1,
			CriticalCount:    1,
			Unnotified:       1,
			ResolvedThisWeek: 1,
		}, sum)

		sum, err = s.GetAlertSummary(ctx, t0.Add(8*24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 0, sum.ResolvedThisWeek)

		active, err := s.GetActiveAlerts(ctx)
		require.NoError(t, err)
		byID := map[int64]domain.Alert{}
		for _, a := range active {
			byID[a.ID] = a
		}
		assert.True(t, byID[crit.ID].Notified)
		assert.False(t, byID[w.ID].Notified)
	})
}

func TestJSONStoreReloadsFromDisk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "store.json")

	s, err := OpenJSON(path)
	require.NoError(t, err)
	require.NoError(t, s.SaveSnapshot(ctx, &domain.ContentSnapshot{URL: "u", Hash: "h", TakenAt: t0}))
	a, err := s.SaveAlertIfNotDuplicate(ctx, newAlert("python", domain.CheckLink, t0), 24*time.Hour)
	require.NoError(t, err)

	reopened, err := OpenJSON(path)
	require.NoError(t, err)
	snap, err := reopened.GetLatestSnapshot(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "h", snap.Hash)

	// ids keep increasing across reloads
	b, err := reopened.SaveAlertIfNotDuplicate(ctx, newAlert("mdn", domain.CheckLink, t0), 24*time.Hour)
	require.NoError(t, err)
	assert.Greater(t, b.ID, a.ID)
}

func TestJSONStoreKeepsTextOfRecentSnapshots(t *testing.T) {
	ctx := context.Background()
	s, err := OpenJSON(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)

	total := SnapshotTextKept + 3
	for i := 0; i < total; i++ {
		require.NoError(t, s.SaveSnapshot(ctx, &domain.ContentSnapshot{
			URL: "u", Hash: fmt.Sprintf("h%d", i), Text: fmt.Sprintf("text %d", i), TakenAt: t0.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, s.SaveSnapshot(ctx, &domain.ContentSnapshot{URL: "other", Hash: "o", Text: "other text", TakenAt: t0}))

	hist, err := s.GetSnapshotHistory(ctx, "u", 0)
	require.NoError(t, err)
	require.Len(t, hist, total)
	for i, snap := range hist {
		if i < SnapshotTextKept {
			assert.Equal(t, fmt.Sprintf("text %d", total-1-i), snap.Text)
		} else {
			assert.Empty(t, snap.Text)
			assert.Equal(t, fmt.Sprintf("h%d", total-1-i), snap.Hash)
		}
	}

	other, err := s.GetLatestSnapshot(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, "other text", other.Text)
}
