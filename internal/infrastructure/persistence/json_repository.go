package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"sourceMonitor/internal/core/domain"
)

// jsonData is the on-disk layout of a JSONStore.
type jsonData struct {
	NextID    int64                    `json:"next_id"`
	Checks    []domain.CheckOutcome    `json:"check_history"`
	Snapshots []domain.ContentSnapshot `json:"content_snapshots"`
	Alerts    []domain.Alert           `json:"alerts"`
}

// SnapshotTextKept is how many of the newest snapshots per URL keep their
// full text in a JSONStore. Older ones keep only hash and timestamp.
const SnapshotTextKept = 5

// JSONStore keeps everything in memory and, when it has a path, rewrites a
// JSON file after every write. An empty path gives a purely in-memory store.
//
// Every write re-encodes the whole file, so its cost grows with the number
// of stored rows. Snapshot text beyond SnapshotTextKept per URL is dropped
// to bound the largest part of it; long-running deployments should use the
// sqlite backend.
type JSONStore struct {
	mu   sync.Mutex
	path string
	data jsonData
}

var _ domain.Store = (*JSONStore)(nil)

// NewMemoryStore returns a JSONStore without a backing file.
func NewMemoryStore() *JSONStore {
	return &JSONStore{data: jsonData{NextID: 1}}
}

// OpenJSON loads path if it exists; a missing file starts an empty store.
func OpenJSON(path string) (*JSONStore, error) {
	s := &JSONStore{path: path, data: jsonData{NextID: 1}}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if s.data.NextID < 1 {
		s.data.NextID = 1
	}
	return s, nil
}

// persist must be called with mu held.
func (s *JSONStore) persist() error {
	if s.path == "" {
		return nil
	}
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

func (s *JSONStore) nextID() int64 {
	id := s.data.NextID
	s.data.NextID++
	return id
}

func (s *JSONStore) SaveCheckResult(ctx context.Context, outcome *domain.CheckOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := *outcome
	row.ID = s.nextID()
	s.data.Checks = append(s.data.Checks, row)
	if err := s.persist(); err != nil {
		s.data.Checks = s.data.Checks[:len(s.data.Checks)-1]
		return err
	}
	outcome.ID = row.ID
	return nil
}

func (s *JSONStore) GetHistory(ctx context.Context, q domain.HistoryQuery) ([]domain.CheckOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.CheckOutcome
	for i := len(s.data.Checks) - 1; i >= 0; i-- {
		c := s.data.Checks[i]
		if q.SourceID != "" && c.SourceID != q.SourceID {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CheckedAt.After(out[j].CheckedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *JSONStore) GetLatestCheckBySource(ctx context.Context) (map[string]domain.CheckOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := make(map[string]domain.CheckOutcome)
	for _, c := range s.data.Checks {
		if cur, ok := latest[c.SourceID]; !ok || !c.CheckedAt.Before(cur.CheckedAt) {
			latest[c.SourceID] = c
		}
	}
	return latest, nil
}

func (s *JSONStore) SaveSnapshot(ctx context.Context, snap *domain.ContentSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := *snap
	row.ID = s.nextID()
	s.data.Snapshots = append(s.data.Snapshots, row)
	trimmed := s.trimSnapshotText(row.URL)
	if err := s.persist(); err != nil {
		for i, text := range trimmed {
			s.data.Snapshots[i].Text = text
		}
		s.data.Snapshots = s.data.Snapshots[:len(s.data.Snapshots)-1]
		return err
	}
	snap.ID = row.ID
	return nil
}

// trimSnapshotText clears the text of url's snapshots older than the newest
// SnapshotTextKept and returns what it cleared by index.
func (s *JSONStore) trimSnapshotText(url string) map[int]string {
	trimmed := map[int]string{}
	seen := 0
	for i := len(s.data.Snapshots) - 1; i >= 0; i-- {
		snap := &s.data.Snapshots[i]
		if snap.URL != url {
			continue
		}
		seen++
		if seen > SnapshotTextKept && snap.Text != "" {
			trimmed[i] = snap.Text
			snap.Text = ""
		}
	}
	return trimmed
}

func (s *JSONStore) GetLatestSnapshot(ctx context.Context, url string) (*domain.ContentSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *domain.ContentSnapshot
	for i := range s.data.Snapshots {
		snap := s.data.Snapshots[i]
		if snap.URL != url {
			continue
		}
		if latest == nil || !snap.TakenAt.Before(latest.TakenAt) {
			latest = &snap
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest, nil
}

func (s *JSONStore) GetSnapshotHistory(ctx context.Context, url string, limit int) ([]domain.ContentSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ContentSnapshot
	for i := len(s.data.Snapshots) - 1; i >= 0; i-- {
		if s.data.Snapshots[i].URL == url {
			out = append(out, s.data.Snapshots[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TakenAt.After(out[j].TakenAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *JSONStore) SaveAlertIfNotDuplicate(ctx context.Context, alert *domain.Alert, window time.Duration) (*domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := alert.CreatedAt.Add(-window)
	key := alert.Key()
	for _, a := range s.data.Alerts {
		if a.Key() == key && a.Active() && !a.CreatedAt.Before(cutoff) {
			return nil, nil
		}
	}

	row := *alert
	row.ID = s.nextID()
	s.data.Alerts = append(s.data.Alerts, row)
	if err := s.persist(); err != nil {
		s.data.Alerts = s.data.Alerts[:len(s.data.Alerts)-1]
		return nil, err
	}
	return &row, nil
}

func (s *JSONStore) alert(id int64) (*domain.Alert, error) {
	for i := range s.data.Alerts {
		if s.data.Alerts[i].ID == id {
			return &s.data.Alerts[i], nil
		}
	}
	return nil, fmt.Errorf("alert %d: %w", id, domain.ErrNotFound)
}

func (s *JSONStore) MarkNotified(ctx context.Context, alertID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.alert(alertID)
	if err != nil {
		return err
	}
	if a.Notified {
		return nil
	}
	a.Notified = true
	if err := s.persist(); err != nil {
		a.Notified = false
		return err
	}
	return nil
}

func (s *JSONStore) ResolveAlert(ctx context.Context, alertID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.alert(alertID)
	if err != nil {
		return err
	}
	if !a.Active() {
		return nil
	}
	resolved := at.UTC()
	a.ResolvedAt = &resolved
	if err := s.persist(); err != nil {
		a.ResolvedAt = nil
		return err
	}
	return nil
}

func (s *JSONStore) GetActiveAlerts(ctx context.Context) ([]domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Alert
	for i := len(s.data.Alerts) - 1; i >= 0; i-- {
		if s.data.Alerts[i].Active() {
			out = append(out, s.data.Alerts[i])
		}
	}
	sortAlerts(out)
	return out, nil
}

func (s *JSONStore) GetRecentAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Alert, 0, len(s.data.Alerts))
	for i := len(s.data.Alerts) - 1; i >= 0; i-- {
		out = append(out, s.data.Alerts[i])
	}
	sortAlerts(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *JSONStore) GetAlertSummary(ctx context.Context, now time.Time) (domain.AlertSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return summarize(s.data.Alerts, now), nil
}

func (s *JSONStore) Close() error { return nil }

// sortAlerts orders newest first.
func sortAlerts(alerts []domain.Alert) {
	sort.SliceStable(alerts, func(i, j int) bool { return alerts[i].CreatedAt.After(alerts[j].CreatedAt) })
}

// summarize counts alerts the way GetAlertSummary reports them.
func summarize(alerts []domain.Alert, now time.Time) domain.AlertSummary {
	var sum domain.AlertSummary
	weekAgo := now.Add(-7 * 24 * time.Hour)
	for _, a := range alerts {
		if !a.Active() {
			if !a.ResolvedAt.Before(weekAgo) {
				sum.ResolvedThisWeek++
			}
			continue
		}
		sum.TotalActive++
		switch a.Severity {
		case domain.SeverityCritical:
			sum.CriticalCount++
		case domain.SeverityWarning:
			sum.WarningCount++
		}
		if !a.Notified {
			sum.Unnotified++
		}
	}
	return sum
}
