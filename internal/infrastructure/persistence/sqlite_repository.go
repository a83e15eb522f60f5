// Package persistence stores check history, snapshots and alerts.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sourceMonitor/internal/core/domain"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

// SQLiteStore implements domain.Store on a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ domain.Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && path != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	store := &SQLiteStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS check_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	source_key  TEXT NOT NULL,
	url         TEXT NOT NULL,
	check_type  TEXT NOT NULL,
	status      TEXT NOT NULL,
	detail      TEXT NOT NULL,
	checked_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_check_history_source_checked_at ON check_history (source_key, checked_at DESC);
CREATE INDEX IF NOT EXISTS idx_check_history_checked_at ON check_history (checked_at DESC);

CREATE TABLE IF NOT EXISTS content_snapshots (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	url          TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	content_text TEXT,
	snapshot_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_content_snapshots_url_snapshot_at ON content_snapshots (url, snapshot_at DESC);

CREATE TABLE IF NOT EXISTS alerts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	source_key  TEXT NOT NULL,
	url         TEXT NOT NULL,
	check_type  TEXT NOT NULL,
	severity    TEXT NOT NULL,
	message     TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	resolved_at TEXT,
	notified    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_alerts_key_created_at ON alerts (source_key, url, check_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_alerts_resolved_at ON alerts (resolved_at);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) SaveCheckResult(ctx context.Context, outcome *domain.CheckOutcome) error {
	query := `INSERT INTO check_history (source_key, url, check_type, status, detail, checked_at) VALUES (?, ?, ?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query, outcome.SourceID, outcome.URL, string(outcome.Kind), string(outcome.Status), outcome.Detail, formatTime(outcome.CheckedAt))
	if err != nil {
		return fmt.Errorf("failed to save check result: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		outcome.ID = id
	}
	return nil
}

const checkColumns = `id, source_key, url, check_type, status, detail, checked_at`

func scanCheck(rows *sql.Rows) (domain.CheckOutcome, error) {
	var c domain.CheckOutcome
	var kind, status, checkedAt string
	if err := rows.Scan(&c.ID, &c.SourceID, &c.URL, &kind, &status, &c.Detail, &checkedAt); err != nil {
		return c, fmt.Errorf("failed to scan check row: %w", err)
	}
	c.Kind = domain.CheckKind(kind)
	c.Status = domain.Status(status)
	c.CheckedAt = parseTime(checkedAt)
	return c, nil
}

func (s *SQLiteStore) GetHistory(ctx context.Context, q domain.HistoryQuery) ([]domain.CheckOutcome, error) {
	var args []interface{}
	qb := strings.Builder{}
	qb.WriteString("SELECT " + checkColumns + " FROM check_history WHERE 1=1")
	if q.SourceID != "" {
		args = append(args, q.SourceID)
		qb.WriteString(" AND source_key = ?")
	}
	qb.WriteString(" ORDER BY checked_at DESC, id DESC")
	if q.Limit > 0 {
		args = append(args, q.Limit)
		qb.WriteString(" LIMIT ?")
	}

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()
	var out []domain.CheckOutcome
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetLatestCheckBySource(ctx context.Context) (map[string]domain.CheckOutcome, error) {
	query := `SELECT ` + checkColumns + ` FROM check_history h
WHERE h.id = (
	SELECT id FROM check_history i WHERE i.source_key = h.source_key
	ORDER BY checked_at DESC, id DESC LIMIT 1
)`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest checks: %w", err)
	}
	defer rows.Close()
	out := make(map[string]domain.CheckOutcome)
	for rows.Next() {
		c, err := scanCheck(rows)
		if err != nil {
			return nil, err
		}
		out[c.SourceID] = c
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *domain.ContentSnapshot) error {
	var text sql.NullString
	if snap.Text != "" {
		text = sql.NullString{String: snap.Text, Valid: true}
	}
	query := `INSERT INTO content_snapshots (url, content_hash, content_text, snapshot_at) VALUES (?, ?, ?, ?)`
	res, err := s.db.ExecContext(ctx, query, snap.URL, snap.Hash, text, formatTime(snap.TakenAt))
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		snap.ID = id
	}
	return nil
}

const snapshotColumns = `id, url, content_hash, content_text, snapshot_at`

func scanSnapshot(scan func(dest ...interface{}) error) (domain.ContentSnapshot, error) {
	var snap domain.ContentSnapshot
	var text sql.NullString
	var takenAt string
	if err := scan(&snap.ID, &snap.URL, &snap.Hash, &text, &takenAt); err != nil {
		return snap, err
	}
	snap.Text = text.String
	snap.TakenAt = parseTime(takenAt)
	return snap, nil
}

func (s *SQLiteStore) GetLatestSnapshot(ctx context.Context, url string) (*domain.ContentSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM content_snapshots WHERE url = ? ORDER BY snapshot_at DESC, id DESC LIMIT 1`
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, query, url).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return &snap, nil
}

func (s *SQLiteStore) GetSnapshotHistory(ctx context.Context, url string, limit int) ([]domain.ContentSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM content_snapshots WHERE url = ? ORDER BY snapshot_at DESC, id DESC`
	args := []interface{}{url}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()
	var out []domain.ContentSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// SaveAlertIfNotDuplicate runs the duplicate lookup and the insert in one
// transaction.
func (s *SQLiteStore) SaveAlertIfNotDuplicate(ctx context.Context, alert *domain.Alert, window time.Duration) (*domain.Alert, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer tx.Rollback()

	cutoff := formatTime(alert.CreatedAt.Add(-window))
	var existing int64
	dupQuery := `SELECT id FROM alerts
WHERE source_key = ? AND url = ? AND check_type = ? AND resolved_at IS NULL AND created_at >= ?
LIMIT 1`
	err = tx.QueryRowContext(ctx, dupQuery, alert.SourceID, alert.URL, string(alert.Kind), cutoff).Scan(&existing)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to check duplicate alert: %w", err)
	}

	insert := `INSERT INTO alerts (source_key, url, check_type, severity, message, created_at, notified) VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, insert, alert.SourceID, alert.URL, string(alert.Kind), string(alert.Severity), alert.Message, formatTime(alert.CreatedAt), alert.Notified)
	if err != nil {
		return nil, fmt.Errorf("failed to insert alert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read alert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	saved := *alert
	saved.ID = id
	saved.CreatedAt = alert.CreatedAt.UTC()
	saved.ResolvedAt = nil
	return &saved, nil
}

func (s *SQLiteStore) execAlert(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	// zero rows: either missing or already in the requested state
	var id int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM alerts WHERE id = ?`, args[len(args)-1]).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func (s *SQLiteStore) MarkNotified(ctx context.Context, alertID int64) error {
	if err := s.execAlert(ctx, `UPDATE alerts SET notified = 1 WHERE notified = 0 AND id = ?`, alertID); err != nil {
		return fmt.Errorf("failed to mark alert %d notified: %w", alertID, err)
	}
	return nil
}

func (s *SQLiteStore) ResolveAlert(ctx context.Context, alertID int64, at time.Time) error {
	if err := s.execAlert(ctx, `UPDATE alerts SET resolved_at = ? WHERE resolved_at IS NULL AND id = ?`, formatTime(at), alertID); err != nil {
		return fmt.Errorf("failed to resolve alert %d: %w", alertID, err)
	}
	return nil
}

const alertColumns = `id, source_key, url, check_type, severity, message, created_at, resolved_at, notified`

func (s *SQLiteStore) queryAlerts(ctx context.Context, query string, args ...interface{}) ([]domain.Alert, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()
	var out []domain.Alert
	for rows.Next() {
		var a domain.Alert
		var kind, severity, createdAt string
		var resolvedAt sql.NullString
		if err := rows.Scan(&a.ID, &a.SourceID, &a.URL, &kind, &severity, &a.Message, &createdAt, &resolvedAt, &a.Notified); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		a.Kind = domain.CheckKind(kind)
		a.Severity = domain.Severity(severity)
		a.CreatedAt = parseTime(createdAt)
		if resolvedAt.Valid {
			t := parseTime(resolvedAt.String)
			a.ResolvedAt = &t
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetActiveAlerts(ctx context.Context) ([]domain.Alert, error) {
	return s.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts WHERE resolved_at IS NULL ORDER BY created_at DESC, id DESC`)
}

func (s *SQLiteStore) GetRecentAlerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		return s.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts ORDER BY created_at DESC, id DESC`)
	}
	return s.queryAlerts(ctx, `SELECT `+alertColumns+` FROM alerts ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
}

func (s *SQLiteStore) GetAlertSummary(ctx context.Context, now time.Time) (domain.AlertSummary, error) {
	var sum domain.AlertSummary
	query := `SELECT
	COALESCE(SUM(CASE WHEN resolved_at IS NULL THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN resolved_at IS NULL AND severity = 'warning' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN resolved_at IS NULL AND severity = 'critical' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN resolved_at IS NULL AND notified = 0 THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN resolved_at IS NOT NULL AND resolved_at >= ? THEN 1 ELSE 0 END), 0)
FROM alerts`
	err := s.db.QueryRowContext(ctx, query, formatTime(now.Add(-7*24*time.Hour))).Scan(
		&sum.TotalActive, &sum.WarningCount, &sum.CriticalCount, &sum.Unnotified, &sum.ResolvedThisWeek)
	if err != nil {
		return sum, fmt.Errorf("failed to summarize alerts: %w", err)
	}
	return sum, nil
}
