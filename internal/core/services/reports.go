package services

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sourceMonitor/internal/core/domain"
	"sourceMonitor/internal/pkg/utils"
)

// ReportArchive writes HTML change reports for deep diffs.
type ReportArchive struct {
	dir string
	now func() time.Time
}

// NewReportArchive creates dir if needed.
func NewReportArchive(dir string) (*ReportArchive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create report directory %q: %w", dir, err)
	}
	return &ReportArchive{dir: dir, now: time.Now}, nil
}

// Save renders the diff between oldText and newText and returns the path of
// the written report.
func (a *ReportArchive) Save(target domain.CheckTarget, oldText, newText string) (string, error) {
	name := target.SourceName
	if name == "" {
		name = target.SourceID
	}
	page := utils.DiffReportPage(utils.DiffHTML(oldText, newText), name, target.URL)

	stamp := a.now().Format("2006-01-02_15-04-05")
	urlHash := utils.ShortHash(utils.HashHex([]byte(target.URL)), 8)
	file := fmt.Sprintf("%s_%s_%s_diff.html", stamp, utils.SanitizeFileName(target.SourceID), urlHash)
	path := filepath.Join(a.dir, file)
	if err := os.WriteFile(path, []byte(page), 0o644); err != nil {
		return "", fmt.Errorf("write diff report %q: %w", path, err)
	}
	return path, nil
}
