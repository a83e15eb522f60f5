package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"sourceMonitor/internal/core/domain"
	"sourceMonitor/internal/infrastructure/scraper"
)

const DefaultMaxConcurrency = 8

// RunnerOptions configures a Runner. Fetcher and Store are required.
type RunnerOptions struct {
	Fetcher        PageFetcher
	Store          domain.Store
	Lookup         domain.Lookup
	Reports        *ReportArchive
	MaxConcurrency int
	Timeout        time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

// Runner executes every check against every target.
type Runner struct {
	fetcher     PageFetcher
	store       domain.Store
	differ      *Differ
	lookup      domain.Lookup
	reports     *ReportArchive
	concurrency int
	timeout     time.Duration
	now         func() time.Time
	log         *slog.Logger
	checks      []Check
}

func NewRunner(opts RunnerOptions) *Runner {
	r := &Runner{
		fetcher:     opts.Fetcher,
		store:       opts.Store,
		differ:      NewDiffer(opts.Store),
		lookup:      opts.Lookup,
		reports:     opts.Reports,
		concurrency: opts.MaxConcurrency,
		timeout:     opts.Timeout,
		now:         opts.Now,
		log:         opts.Logger,
		checks:      DefaultChecks,
	}
	if r.concurrency <= 0 {
		r.concurrency = DefaultMaxConcurrency
	}
	if r.timeout <= 0 {
		r.timeout = scraper.DefaultTimeout
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	if r.log == nil {
		r.log = slog.Default()
	}
	return r
}

// RunAll returns exactly one outcome per target and check kind, ordered by
// target and then by check table order. A failing or panicking check only
// affects its own outcome.
func (r *Runner) RunAll(ctx context.Context, targets []domain.CheckTarget, deep bool) []domain.CheckOutcome {
	outcomes := make([]domain.CheckOutcome, len(targets)*len(r.checks))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for ti, target := range targets {
		run := &targetRun{
			target:  target,
			deep:    deep,
			timeout: r.timeout,
			now:     r.now,
			log:     r.log.With("source", target.SourceID, "url", target.URL),
			fetcher: r.fetcher,
			differ:  r.differ,
			store:   r.store,
			lookup:  r.lookup,
			reports: r.reports,
		}
		for ci, check := range r.checks {
			slot := &outcomes[ti*len(r.checks)+ci]
			check := check
			g.Go(func() error {
				*slot = r.evaluate(ctx, run, check)
				return nil
			})
		}
	}
	_ = g.Wait()

	r.log.Info("checks complete", "targets", len(targets), "outcomes", len(outcomes))
	return outcomes
}

func (r *Runner) evaluate(ctx context.Context, run *targetRun, check Check) (out domain.CheckOutcome) {
	out = domain.CheckOutcome{
		SourceID: run.target.SourceID,
		URL:      run.target.URL,
		Kind:     check.Kind(),
	}
	defer func() {
		if p := recover(); p != nil {
			run.log.Error("check panicked", "check", check.Kind(), "panic", p)
			out.Status = domain.StatusError
			out.Detail = fmt.Sprintf("Check failed: panic: %v", p)
		}
		out.CheckedAt = r.now()
	}()

	v := check.Evaluate(ctx, run)
	out.Status = v.status
	out.Detail = v.detail
	run.log.Debug("check finished", "check", out.Kind, "status", out.Status)
	return out
}
