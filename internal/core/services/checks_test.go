package services

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sourceMonitor/internal/core/domain"
	"sourceMonitor/internal/infrastructure/persistence"
	"sourceMonitor/internal/infrastructure/scraper"
)

// site serves a page whose body and headers can change between runs.
type site struct {
	mu      sync.Mutex
	body    string
	status  int
	header  http.Header
	gets    atomic.Int32
	heads   atomic.Int32
	refHEAD bool
}

func newSite(body string) *site {
	return &site{body: body, status: http.StatusOK, header: http.Header{}}
}

func (s *site) set(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.body = body
}

func (s *site) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	body, status, refuse := s.body, s.status, s.refHEAD
	for k, v := range s.header {
		w.Header()[k] = v
	}
	s.mu.Unlock()

	if r.Method == http.MethodHead {
		s.heads.Add(1)
		if refuse {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
	} else {
		s.gets.Add(1)
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if r.Method != http.MethodHead {
		w.Write([]byte(body))
	}
}

func serve(t *testing.T, h http.Handler) *httptest.Server {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

const healthyBody = `<main><h1>Tutorial</h1><p>Learn the basics of the language.</p></main>`

func TestRunAllHealthyPage(t *testing.T) {
	s := newSite(htmlPage("Docs", healthyBody))
	s.header.Set("Last-Modified", testNow.Add(-48*time.Hour).Format(http.TimeFormat))
	srv := serve(t, s)

	store := persistence.NewMemoryStore()
	r := newTestRunner(store, nil, func() time.Time { return testNow })
	outcomes := r.RunAll(context.Background(), []domain.CheckTarget{target("python", srv.URL+"/docs")}, false)

	require.Len(t, outcomes, len(domain.CheckKinds))
	for i, kind := range domain.CheckKinds {
		o := outcomes[i]
		assert.Equal(t, kind, o.Kind)
		assert.Equal(t, domain.StatusOK, o.Status, "%s: %s", o.Kind, o.Detail)
		assert.Equal(t, "python", o.SourceID)
		assert.Equal(t, testNow, o.CheckedAt)
	}
	got := byKind(outcomes)
	assert.Equal(t, "Baseline snapshot established", got[domain.CheckContent].Detail)
	assert.Equal(t, "Content updated 2 days ago (from Last-Modified header)", got[domain.CheckStaleness].Detail)

	// one shared GET per target and one HEAD for the link check
	assert.Equal(t, int32(1), s.gets.Load())
	assert.Equal(t, int32(1), s.heads.Load())

	snap, err := store.GetLatestSnapshot(context.Background(), srv.URL+"/docs")
	require.NoError(t, err)
	assert.Contains(t, snap.Text, "Learn the basics")
}

func TestContentChangeStoresNewSnapshot(t *testing.T) {
	s := newSite(htmlPage("Docs", healthyBody))
	srv := serve(t, s)
	url := srv.URL + "/docs"
	ctx := context.Background()

	store := persistence.NewMemoryStore()
	r := newTestRunner(store, nil, func() time.Time { return testNow })
	tg := []domain.CheckTarget{target("python", url)}

	r.RunAll(ctx, tg, false)
	h1, err := store.GetLatestSnapshot(ctx, url)
	require.NoError(t, err)

	changed := htmlPage("Docs", `<main><h1>Tutorial</h1><p>Learn the basics of the language, version 2.</p></main>`)
	s.set(changed)
	out := byKind(r.RunAll(ctx, tg, false))

	content := out[domain.CheckContent]
	assert.Equal(t, domain.StatusWarning, content.Status)
	assert.Contains(t, content.Detail, "Content changed (previous: "+h1.Hash[:8])

	page, err := scraper.ParsePage([]byte(changed))
	require.NoError(t, err)
	h2, err := store.GetLatestSnapshot(ctx, url)
	require.NoError(t, err)
	assert.Equal(t, ComputeHash(page.Text()), h2.Hash)
	assert.NotEqual(t, h1.Hash, h2.Hash)

	// an unchanged third run still appends a snapshot
	out = byKind(r.RunAll(ctx, tg, false))
	assert.Equal(t, domain.StatusOK, out[domain.CheckContent].Status)
	hist, err := store.GetSnapshotHistory(ctx, url, 0)
	require.NoError(t, err)
	assert.Len(t, hist, 3)
}

func TestDeepDiffArchivesReport(t *testing.T) {
	s := newSite(htmlPage("Docs", "<main><p>one</p><p>two</p><p>three</p></main>"))
	srv := serve(t, s)
	ctx := context.Background()
	dir := t.TempDir()

	reports, err := NewReportArchive(dir)
	require.NoError(t, err)
	r := NewRunner(RunnerOptions{
		Fetcher: newTestFetcher(),
		Store:   persistence.NewMemoryStore(),
		Reports: reports,
		Now:     func() time.Time { return testNow },
		Logger:  discardLogger(),
	})
	tg := []domain.CheckTarget{target("python", srv.URL+"/docs")}

	first := byKind(r.RunAll(ctx, tg, true))
	assert.Equal(t, "Baseline snapshot established", first[domain.CheckContent].Detail)

	s.set(htmlPage("Docs", "<main><p>one</p><p>2</p><p>three</p><p>four</p></main>"))
	content := byKind(r.RunAll(ctx, tg, true))[domain.CheckContent]
	assert.Equal(t, domain.StatusWarning, content.Status)
	assert.Contains(t, content.Detail, "of lines differ (+2/-1)")
	assert.Contains(t, content.Detail, "+four")
	assert.Contains(t, content.Detail, "Report: ")

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.True(t, strings.HasSuffix(files[0].Name(), "_diff.html"))
	assert.Contains(t, files[0].Name(), "_python_")
}

func TestBrokenLink(t *testing.T) {
	s := newSite("not found")
	s.status = http.StatusNotFound
	srv := serve(t, s)

	lookup := &fakeLookup{res: &domain.LookupResult{Indexed: true}}
	r := newTestRunner(persistence.NewMemoryStore(), lookup, func() time.Time { return testNow })
	outcomes := r.RunAll(context.Background(), []domain.CheckTarget{target("python", srv.URL+"/gone")}, false)
	require.Len(t, outcomes, 6)

	got := byKind(outcomes)
	assert.Equal(t, domain.StatusError, got[domain.CheckLink].Status)
	assert.Contains(t, got[domain.CheckLink].Detail, "404")
	assert.Contains(t, got[domain.CheckLink].Detail, "still listed in search results")
	assert.Equal(t, domain.StatusWarning, got[domain.CheckAvailability].Status)
	assert.Equal(t, domain.StatusError, got[domain.CheckContent].Status)
	assert.Equal(t, domain.StatusError, got[domain.CheckStructure].Status)
	assert.Equal(t, domain.StatusError, got[domain.CheckStaleness].Status)
}

func TestUnreachableTargetStillYieldsEveryOutcome(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	url := "http://" + ln.Addr().String() + "/docs"
	ln.Close()

	r := newTestRunner(persistence.NewMemoryStore(), nil, func() time.Time { return testNow })
	outcomes := r.RunAll(context.Background(), []domain.CheckTarget{target("python", url)}, false)

	require.Len(t, outcomes, 6)
	for _, o := range outcomes {
		assert.Equal(t, domain.StatusError, o.Status, o.Kind)
		assert.NotEmpty(t, o.Detail)
	}
	assert.Contains(t, byKind(outcomes)[domain.CheckAvailability].Detail, "offline or unreachable")
}

func TestTimeoutIsAnError(t *testing.T) {
	release := make(chan struct{})
	srv := serve(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer close(release)

	r := NewRunner(RunnerOptions{
		Fetcher: scraper.NewFetcher(scraper.FetcherOptions{Backoff: time.Millisecond, MaxAttempts: 1}),
		Store:   persistence.NewMemoryStore(),
		Timeout: 50 * time.Millisecond,
		Logger:  discardLogger(),
	})
	got := byKind(r.RunAll(context.Background(), []domain.CheckTarget{target("slow", srv.URL)}, false))
	assert.Equal(t, domain.StatusError, got[domain.CheckAvailability].Status)
	assert.Equal(t, "Request timed out - page may be offline", got[domain.CheckAvailability].Detail)
	assert.Equal(t, "Request timed out", got[domain.CheckLink].Detail)
}

func TestLinkRedirects(t *testing.T) {
	mux := http.NewServeMux()
	page := newSite(htmlPage("Docs", healthyBody))
	mux.Handle("/final", page)
	mux.Handle("/new", page)
	mux.HandleFunc("/r1", func(w http.ResponseWriter, r *http.Request) { http.Redirect(w, r, "/r2", http.StatusMovedPermanently) })
	mux.HandleFunc("/r2", func(w http.ResponseWriter, r *http.Request) { http.Redirect(w, r, "/r3", http.StatusMovedPermanently) })
	mux.HandleFunc("/r3", func(w http.ResponseWriter, r *http.Request) { http.Redirect(w, r, "/final", http.StatusMovedPermanently) })
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) { http.Redirect(w, r, "/new", http.StatusFound) })
	srv := serve(t, mux)

	r := newTestRunner(persistence.NewMemoryStore(), nil, func() time.Time { return testNow })
	outcomes := r.RunAll(context.Background(), []domain.CheckTarget{
		target("chain", srv.URL+"/r1"),
		target("moved", srv.URL+"/old"),
	}, false)
	require.Len(t, outcomes, 12)

	chain := outcomes[0]
	assert.Equal(t, domain.StatusWarning, chain.Status)
	assert.Equal(t, "Excessive redirects: 3 hops", chain.Detail)

	moved := outcomes[6]
	assert.Equal(t, domain.StatusWarning, moved.Status)
	assert.Equal(t, "URL moved to: "+srv.URL+"/new", moved.Detail)
}

func TestLinkFallsBackToGetWhenHeadRefused(t *testing.T) {
	s := newSite(htmlPage("Docs", healthyBody))
	s.refHEAD = true
	srv := serve(t, s)

	r := newTestRunner(persistence.NewMemoryStore(), nil, func() time.Time { return testNow })
	got := byKind(r.RunAll(context.Background(), []domain.CheckTarget{target("python", srv.URL)}, false))
	assert.Equal(t, domain.StatusOK, got[domain.CheckLink].Status, got[domain.CheckLink].Detail)
	assert.Equal(t, int32(1), s.gets.Load())
}

func TestPaywall(t *testing.T) {
	ctx := context.Background()

	t.Run("access denied", func(t *testing.T) {
		s := newSite("forbidden")
		s.status = http.StatusForbidden
		srv := serve(t, s)
		r := newTestRunner(persistence.NewMemoryStore(), nil, func() time.Time { return testNow })
		got := byKind(r.RunAll(ctx, []domain.CheckTarget{target("x", srv.URL)}, false))
		assert.Equal(t, domain.StatusError, got[domain.CheckPaywall].Status)
		assert.Equal(t, "Access denied: HTTP 403", got[domain.CheckPaywall].Detail)
	})

	t.Run("markers", func(t *testing.T) {
		srv := serve(t, newSite(htmlPage("Docs", `<main><div class="paywall members-only">Subscribe to read</div></main>`)))
		r := newTestRunner(persistence.NewMemoryStore(), nil, func() time.Time { return testNow })
		got := byKind(r.RunAll(ctx, []domain.CheckTarget{target("x", srv.URL)}, false))
		assert.Equal(t, domain.StatusWarning, got[domain.CheckPaywall].Status)
		assert.Equal(t, "Possible paywall detected: paywall, subscribe, members-only", got[domain.CheckPaywall].Detail)
	})

	t.Run("custom markers", func(t *testing.T) {
		srv := serve(t, newSite(htmlPage("Docs", `<main><div class="paywall">x</div></main>`)))
		r := newTestRunner(persistence.NewMemoryStore(), nil, func() time.Time { return testNow })
		tg := target("x", srv.URL)
		tg.PaywallMarkers = []string{"gated-article"}
		got := byKind(r.RunAll(ctx, []domain.CheckTarget{tg}, false))
		assert.Equal(t, domain.StatusOK, got[domain.CheckPaywall].Status)
	})

	t.Run("length drop", func(t *testing.T) {
		long := "<main>" + strings.Repeat("<p>A long paragraph of documentation text.</p>", 20) + "</main>"
		s := newSite(htmlPage("Docs", long))
		srv := serve(t, s)
		r := newTestRunner(persistence.NewMemoryStore(), nil, func() time.Time { return testNow })
		tg := []domain.CheckTarget{target("x", srv.URL)}

		first := byKind(r.RunAll(ctx, tg, false))
		assert.Equal(t, domain.StatusOK, first[domain.CheckPaywall].Status)

		s.set(htmlPage("Docs", "<main><p>Please log in.</p></main>"))
		second := byKind(r.RunAll(ctx, tg, false))
		assert.Equal(t, domain.StatusWarning, second[domain.CheckPaywall].Status)
		assert.Contains(t, second[domain.CheckPaywall].Detail, "Content length reduced by")
	})
}

func TestStructure(t *testing.T) {
	srv := serve(t, newSite(htmlPage("Docs", healthyBody)))
	r := newTestRunner(persistence.NewMemoryStore(), nil, func() time.Time { return testNow })

	outcomes := r.RunAll(context.Background(), []domain.CheckTarget{
		target("partial", srv.URL+"/a", "main", "article.content"),
		target("none", srv.URL+"/b", "article", "#sidebar"),
	}, false)

	partial := byKind(outcomes[:6])[domain.CheckStructure]
	assert.Equal(t, domain.StatusOK, partial.Status)
	assert.Equal(t, "1 of 2 expected markers found; missing: article.content", partial.Detail)

	none := byKind(outcomes[6:])[domain.CheckStructure]
	assert.Equal(t, domain.StatusWarning, none.Status)
	assert.Equal(t, "All expected markers missing: article, #sidebar", none.Detail)
}

func TestStaleness(t *testing.T) {
	ctx := context.Background()
	now := func() time.Time { return testNow }

	t.Run("old header", func(t *testing.T) {
		s := newSite(htmlPage("Docs", healthyBody))
		s.header.Set("Last-Modified", testNow.Add(-100*24*time.Hour).Format(http.TimeFormat))
		srv := serve(t, s)
		got := byKind(newTestRunner(persistence.NewMemoryStore(), nil, now).RunAll(ctx, []domain.CheckTarget{target("x", srv.URL)}, false))
		assert.Equal(t, domain.StatusWarning, got[domain.CheckStaleness].Status)
		assert.Equal(t, "Content not updated in 100 days (threshold: 30, from Last-Modified header)", got[domain.CheckStaleness].Detail)
	})

	t.Run("meta tag", func(t *testing.T) {
		meta := `<meta property="article:modified_time" content="` + testNow.Add(-10*24*time.Hour).Format(time.RFC3339) + `">`
		srv := serve(t, newSite(`<html><head>`+meta+`</head><body>`+healthyBody+`</body></html>`))
		got := byKind(newTestRunner(persistence.NewMemoryStore(), nil, now).RunAll(ctx, []domain.CheckTarget{target("x", srv.URL)}, false))
		assert.Equal(t, domain.StatusOK, got[domain.CheckStaleness].Status)
		assert.Equal(t, "Content updated 10 days ago (from page metadata)", got[domain.CheckStaleness].Detail)
	})

	t.Run("lookup fallback", func(t *testing.T) {
		srv := serve(t, newSite(htmlPage("Docs", healthyBody)))
		old := testNow.Add(-400 * 24 * time.Hour)
		lookup := &fakeLookup{res: &domain.LookupResult{Indexed: true, LastModified: &old}}
		got := byKind(newTestRunner(persistence.NewMemoryStore(), lookup, now).RunAll(ctx, []domain.CheckTarget{target("x", srv.URL)}, false))
		assert.Equal(t, domain.StatusWarning, got[domain.CheckStaleness].Status)
		assert.Contains(t, got[domain.CheckStaleness].Detail, "from search index")
	})

	t.Run("lookup unavailable", func(t *testing.T) {
		srv := serve(t, newSite(htmlPage("Docs", healthyBody)))
		lookup := &fakeLookup{err: errUnavailable}
		got := byKind(newTestRunner(persistence.NewMemoryStore(), lookup, now).RunAll(ctx, []domain.CheckTarget{target("x", srv.URL)}, false))
		assert.Equal(t, domain.StatusOK, got[domain.CheckStaleness].Status)
		assert.Equal(t, "No staleness indicators found (unable to determine age)", got[domain.CheckStaleness].Detail)
		assert.Equal(t, 1, lookup.calls)
	})
}

type panicCheck struct{}

func (panicCheck) Kind() domain.CheckKind { return domain.CheckStructure }

func (panicCheck) Evaluate(ctx context.Context, run *targetRun) verdict { panic("selector exploded") }

func TestPanickingCheckBecomesErrorOutcome(t *testing.T) {
	srv := serve(t, newSite(htmlPage("Docs", healthyBody)))
	r := newTestRunner(persistence.NewMemoryStore(), nil, func() time.Time { return testNow })
	r.checks = []Check{availabilityCheck{}, panicCheck{}}

	outcomes := r.RunAll(context.Background(), []domain.CheckTarget{target("a", srv.URL), target("b", srv.URL+"/b")}, false)
	require.Len(t, outcomes, 4)
	assert.Equal(t, domain.StatusOK, outcomes[0].Status)
	assert.Equal(t, domain.StatusError, outcomes[1].Status)
	assert.Equal(t, "Check failed: panic: selector exploded", outcomes[1].Detail)
	assert.Equal(t, testNow, outcomes[1].CheckedAt)
	assert.Equal(t, domain.StatusOK, outcomes[2].Status)
}
