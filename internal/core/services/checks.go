package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"sourceMonitor/internal/core/domain"
	"sourceMonitor/internal/infrastructure/scraper"
	"sourceMonitor/internal/pkg/utils"
)

const (
	defaultStalenessDays = 365
	maxLinkRedirects     = 2
	paywallLengthDrop    = 0.5
	paywallMarkersShown  = 3
)

// PageFetcher is the part of scraper.Fetcher the checks rely on.
type PageFetcher interface {
	Fetch(ctx context.Context, req scraper.FetchRequest) (*scraper.FetchResult, error)
}

// verdict is what a check decides; the runner turns it into an outcome.
type verdict struct {
	status domain.Status
	detail string
}

func pass(format string, args ...interface{}) verdict {
	return verdict{domain.StatusOK, fmt.Sprintf(format, args...)}
}

func warn(format string, args ...interface{}) verdict {
	return verdict{domain.StatusWarning, fmt.Sprintf(format, args...)}
}

func fail(format string, args ...interface{}) verdict {
	return verdict{domain.StatusError, fmt.Sprintf(format, args...)}
}

// Check is one source-quality check kind.
type Check interface {
	Kind() domain.CheckKind
	Evaluate(ctx context.Context, run *targetRun) verdict
}

// DefaultChecks is the fixed check table, in reporting order.
var DefaultChecks = []Check{
	linkCheck{},
	contentCheck{},
	paywallCheck{},
	availabilityCheck{},
	structureCheck{},
	stalenessCheck{},
}

// pageFetch is the shared GET of a target within one cycle.
type pageFetch struct {
	res      *scraper.FetchResult
	err      error
	page     *scraper.Page
	text     string
	parseErr error
}

func (p *pageFetch) success() bool {
	return p.err == nil && p.res.StatusCode >= 200 && p.res.StatusCode < 300
}

// targetRun holds the per-target state of one cycle. The page is fetched at
// most once and the baseline snapshot is read once, before the content
// check appends the new one, so every check sees the same baseline.
type targetRun struct {
	target  domain.CheckTarget
	deep    bool
	timeout time.Duration
	now     func() time.Time
	log     *slog.Logger

	fetcher PageFetcher
	differ  *Differ
	store   domain.Store
	lookup  domain.Lookup
	reports *ReportArchive

	pageOnce sync.Once
	page     pageFetch

	baseOnce sync.Once
	baseline *domain.ContentSnapshot
	baseErr  error
}

func (r *targetRun) get(ctx context.Context) *pageFetch {
	r.pageOnce.Do(func() {
		r.page.res, r.page.err = r.fetcher.Fetch(ctx, scraper.FetchRequest{
			URL:     r.target.URL,
			Method:  http.MethodGet,
			Timeout: r.timeout,
		})
		if r.page.err != nil {
			return
		}
		r.page.page, r.page.parseErr = scraper.ParsePage(r.page.res.Body)
		if r.page.parseErr == nil {
			r.page.text = r.page.page.Text()
		}
	})
	return &r.page
}

func (r *targetRun) head(ctx context.Context) (*scraper.FetchResult, error) {
	return r.fetcher.Fetch(ctx, scraper.FetchRequest{
		URL:     r.target.URL,
		Method:  http.MethodHead,
		Timeout: r.timeout,
	})
}

func (r *targetRun) base(ctx context.Context) (*domain.ContentSnapshot, error) {
	r.baseOnce.Do(func() {
		r.baseline, r.baseErr = r.differ.Latest(ctx, r.target.URL)
	})
	return r.baseline, r.baseErr
}

func isTimeout(err error) bool {
	var fe *scraper.FetchError
	return errors.As(err, &fe) && fe.Timeout()
}

func sameURL(a, b string) bool {
	return strings.TrimRight(a, "/") == strings.TrimRight(b, "/")
}

type linkCheck struct{}

func (linkCheck) Kind() domain.CheckKind { return domain.CheckLink }

func (linkCheck) Evaluate(ctx context.Context, run *targetRun) verdict {
	res, err := run.head(ctx)
	if err == nil && (res.StatusCode == http.StatusMethodNotAllowed || res.StatusCode == http.StatusNotImplemented) {
		// some servers refuse HEAD; the shared GET answers the same question
		p := run.get(ctx)
		res, err = p.res, p.err
	}
	if err != nil {
		if isTimeout(err) {
			return fail("Request timed out")
		}
		return fail("Check failed: %v", err)
	}

	switch {
	case res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusGone:
		return fail("Link broken: HTTP %d%s", res.StatusCode, indexNote(ctx, run))
	case res.Redirects > maxLinkRedirects:
		return warn("Excessive redirects: %d hops", res.Redirects)
	case !sameURL(res.FinalURL, run.target.URL):
		return warn("URL moved to: %s", res.FinalURL)
	default:
		return pass("Link is accessible")
	}
}

// indexNote asks the secondary lookup whether a broken page is still indexed.
func indexNote(ctx context.Context, run *targetRun) string {
	if run.lookup == nil {
		return ""
	}
	res, err := run.lookup.Lookup(ctx, run.target.URL)
	if err != nil {
		run.log.Debug("index lookup skipped", "err", err)
		return ""
	}
	if res.Indexed {
		return " (still listed in search results)"
	}
	return " (no longer listed in search results)"
}

type contentCheck struct{}

func (contentCheck) Kind() domain.CheckKind { return domain.CheckContent }

func (contentCheck) Evaluate(ctx context.Context, run *targetRun) verdict {
	p := run.get(ctx)
	switch {
	case p.err != nil:
		return fail("Failed to fetch content: %v", p.err)
	case !p.success():
		return fail("Failed to fetch content: HTTP %d", p.res.StatusCode)
	case p.parseErr != nil:
		return fail("Failed to parse content: %v", p.parseErr)
	}

	prev, err := run.base(ctx)
	if err != nil {
		return fail("Check failed: %v", err)
	}

	var v verdict
	var hash string
	if run.deep {
		d := DeepCompare(prev, p.text)
		hash = d.CurrentHash
		v = deepVerdict(d)
		if d.Changed && run.reports != nil {
			if path, err := run.reports.Save(run.target, d.PreviousText, p.text); err != nil {
				run.log.Warn("failed to archive diff report", "err", err)
			} else {
				v.detail += "\nReport: " + path
			}
		}
	} else {
		l := LightCompare(prev, p.text)
		hash = l.CurrentHash
		v = lightVerdict(l)
	}

	snap := &domain.ContentSnapshot{
		URL:     run.target.URL,
		Hash:    hash,
		Text:    p.text,
		TakenAt: run.now(),
	}
	if err := run.store.SaveSnapshot(ctx, snap); err != nil {
		run.log.Error("failed to save snapshot", "err", err)
	}
	return v
}

func lightVerdict(l LightResult) verdict {
	switch {
	case l.Baseline:
		return pass("Baseline snapshot established")
	case l.Changed:
		return warn("Content changed (previous: %s..., current: %s...)",
			utils.ShortHash(l.PreviousHash, 8), utils.ShortHash(l.CurrentHash, 8))
	default:
		return pass("Content unchanged")
	}
}

func deepVerdict(d DeepResult) verdict {
	switch {
	case d.Baseline:
		return pass("Baseline snapshot established")
	case !d.Changed:
		return pass("Content unchanged")
	}
	return warn("Content changed: %.1f%% of lines differ (+%d/-%d)\n%s",
		d.PctChanged*100, d.AddedLines, d.RemovedLines, d.Summary)
}

type paywallCheck struct{}

func (paywallCheck) Kind() domain.CheckKind { return domain.CheckPaywall }

func (paywallCheck) Evaluate(ctx context.Context, run *targetRun) verdict {
	p := run.get(ctx)
	if p.err != nil {
		return fail("Failed to fetch page: %v", p.err)
	}
	if code := p.res.StatusCode; code == http.StatusUnauthorized || code == http.StatusForbidden {
		return fail("Access denied: HTTP %d", code)
	}
	if p.parseErr != nil {
		return fail("Failed to parse page: %v", p.parseErr)
	}

	if found := p.page.PaywallMarkers(run.target.PaywallMarkers); len(found) > 0 {
		if len(found) > paywallMarkersShown {
			found = found[:paywallMarkersShown]
		}
		return warn("Possible paywall detected: %s", strings.Join(found, ", "))
	}

	prev, err := run.base(ctx)
	if err != nil {
		return fail("Check failed: %v", err)
	}
	if prev != nil && prev.Text != "" {
		before, after := len(prev.Text), len(p.text)
		if float64(after) < float64(before)*paywallLengthDrop {
			return warn("Content length reduced by %.0f%%", float64(before-after)/float64(before)*100)
		}
	}
	return pass("No paywall detected")
}

type availabilityCheck struct{}

func (availabilityCheck) Kind() domain.CheckKind { return domain.CheckAvailability }

func (availabilityCheck) Evaluate(ctx context.Context, run *targetRun) verdict {
	p := run.get(ctx)
	if p.err != nil {
		if isTimeout(p.err) {
			return fail("Request timed out - page may be offline")
		}
		return fail("Page is offline or unreachable: %v", p.err)
	}
	code := p.res.StatusCode
	switch {
	case code >= 500:
		return fail("Server error: HTTP %d", code)
	case code >= 200 && code < 300:
		return pass("Page is available (HTTP %d in %s)", code, p.res.Elapsed.Round(time.Millisecond))
	default:
		return warn("Unexpected status: HTTP %d", code)
	}
}

type structureCheck struct{}

func (structureCheck) Kind() domain.CheckKind { return domain.CheckStructure }

func (structureCheck) Evaluate(ctx context.Context, run *targetRun) verdict {
	p := run.get(ctx)
	if !p.success() || p.parseErr != nil {
		return fail("Failed to fetch page for structure check%s", fetchReason(p))
	}
	markers := run.target.ExpectedMarkers
	if len(markers) == 0 {
		return pass("No expected markers configured")
	}
	missing := p.page.MissingMarkers(markers)
	switch {
	case len(missing) == 0:
		return pass("All %d expected markers found", len(markers))
	case len(missing) == len(markers):
		return warn("All expected markers missing: %s", strings.Join(missing, ", "))
	default:
		return pass("%d of %d expected markers found; missing: %s",
			len(markers)-len(missing), len(markers), strings.Join(missing, ", "))
	}
}

func fetchReason(p *pageFetch) string {
	switch {
	case p.err != nil:
		return fmt.Sprintf(": %v", p.err)
	case !p.success():
		return fmt.Sprintf(": HTTP %d", p.res.StatusCode)
	case p.parseErr != nil:
		return fmt.Sprintf(": %v", p.parseErr)
	}
	return ""
}

type stalenessCheck struct{}

func (stalenessCheck) Kind() domain.CheckKind { return domain.CheckStaleness }

func (stalenessCheck) Evaluate(ctx context.Context, run *targetRun) verdict {
	p := run.get(ctx)
	if !p.success() || p.parseErr != nil {
		return fail("Failed to fetch page for staleness check%s", fetchReason(p))
	}

	modified, source, found := lastModified(ctx, run, p)
	if !found {
		return pass("No staleness indicators found (unable to determine age)")
	}

	threshold := run.target.StalenessDays
	if threshold <= 0 {
		threshold = defaultStalenessDays
	}
	days := int(run.now().Sub(modified).Hours() / 24)
	if days > threshold {
		return warn("Content not updated in %d days (threshold: %d, from %s)", days, threshold, source)
	}
	return pass("Content updated %d days ago (from %s)", days, source)
}

// lastModified tries the Last-Modified header, then page metadata, then the
// secondary lookup.
func lastModified(ctx context.Context, run *targetRun, p *pageFetch) (time.Time, string, bool) {
	if h := p.res.Header.Get("Last-Modified"); h != "" {
		if t, err := http.ParseTime(h); err == nil {
			return t, "Last-Modified header", true
		}
	}
	if t, ok := p.page.Modified(); ok {
		return t, "page metadata", true
	}
	if run.lookup == nil {
		return time.Time{}, "", false
	}
	res, err := run.lookup.Lookup(ctx, run.target.URL)
	if err != nil {
		run.log.Debug("date lookup skipped", "err", err)
		return time.Time{}, "", false
	}
	if res.LastModified == nil {
		return time.Time{}, "", false
	}
	return *res.LastModified, "search index", true
}
