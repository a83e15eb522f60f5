package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"sourceMonitor/internal/core/domain"
	"sourceMonitor/internal/pkg/utils"
)

// SummaryBudget is the number of characters of unified diff kept in a
// deep diff summary.
const SummaryBudget = 500

// ComputeHash hashes text after folding case and collapsing whitespace, so
// reformatting alone never counts as a content change.
func ComputeHash(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	return utils.HashHex([]byte(normalized))
}

// LightResult is the outcome of a hash-only comparison.
type LightResult struct {
	Changed      bool
	Baseline     bool
	PreviousHash string
	CurrentHash  string
}

// DeepResult is the outcome of a line-based comparison.
type DeepResult struct {
	Changed      bool
	Baseline     bool
	PctChanged   float64
	Summary      string
	AddedLines   int
	RemovedLines int
	PreviousHash string
	CurrentHash  string
	PreviousText string
}

// Differ compares page text against the latest stored snapshot. It never
// writes snapshots itself.
type Differ struct {
	store domain.Store
}

func NewDiffer(store domain.Store) *Differ {
	return &Differ{store: store}
}

// Latest returns the most recent snapshot of url, or nil when there is none.
func (d *Differ) Latest(ctx context.Context, url string) (*domain.ContentSnapshot, error) {
	snap, err := d.store.GetLatestSnapshot(ctx, url)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest snapshot for %s: %w", url, err)
	}
	return snap, nil
}

// LightCheck compares text with the latest snapshot of url.
func (d *Differ) LightCheck(ctx context.Context, url, text string) (LightResult, error) {
	prev, err := d.Latest(ctx, url)
	if err != nil {
		return LightResult{}, err
	}
	return LightCompare(prev, text), nil
}

// DeepDiff compares text line by line with the latest snapshot of url.
func (d *Differ) DeepDiff(ctx context.Context, url, text string) (DeepResult, error) {
	prev, err := d.Latest(ctx, url)
	if err != nil {
		return DeepResult{}, err
	}
	return DeepCompare(prev, text), nil
}

// LightCompare compares text with prev. A nil prev establishes the baseline
// and reports no change.
func LightCompare(prev *domain.ContentSnapshot, text string) LightResult {
	res := LightResult{CurrentHash: ComputeHash(text)}
	if prev == nil {
		res.Baseline = true
		return res
	}
	res.PreviousHash = prev.Hash
	res.Changed = prev.Hash != res.CurrentHash
	return res
}

// DeepCompare computes the similarity of text and prev.Text.
// PctChanged is 1 - ratio and always lies in [0, 1]. A prev without stored
// text counts every current line as added.
func DeepCompare(prev *domain.ContentSnapshot, text string) DeepResult {
	res := DeepResult{CurrentHash: ComputeHash(text)}
	if prev == nil {
		res.Baseline = true
		res.Summary = "first snapshot"
		return res
	}
	res.PreviousHash = prev.Hash
	res.PreviousText = prev.Text
	if prev.Hash == res.CurrentHash {
		res.Summary = "no changes"
		return res
	}

	a := splitLines(prev.Text)
	b := splitLines(text)

	res.Changed = true
	res.PctChanged = clamp01(1 - difflib.NewMatcher(a, b).Ratio())

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: "previous",
		ToFile:   "current",
		Context:  1,
	})
	if err != nil {
		res.Summary = fmt.Sprintf("diff unavailable: %v", err)
		return res
	}
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			res.AddedLines++
		case strings.HasPrefix(line, "-"):
			res.RemovedLines++
		}
	}
	res.Summary = utils.Truncate(strings.TrimRight(diff, "\n"), SummaryBudget)
	return res
}

// splitLines returns newline-terminated lines as the unified diff writer
// expects them.
func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	for i := range lines {
		lines[i] += "\n"
	}
	return lines
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
