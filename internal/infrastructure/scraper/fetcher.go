// Package scraper fetches pages over HTTP and extracts what the checks need from them.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultLookupTimeout = 30 * time.Second
	DefaultMaxAttempts   = 3
	DefaultBackoff       = time.Second
	DefaultMaxBodyBytes  = 5 << 20
	DefaultUserAgent     = "Mozilla/5.0 (compatible; SourceMonitor/1.0; +https://example.invalid/source-monitor)"
	maxRedirects         = 10
)

// FetchErrorKind classifies a failed fetch.
type FetchErrorKind string

const (
	KindTimeout           FetchErrorKind = "timeout"
	KindDNS               FetchErrorKind = "dns"
	KindConnectionRefused FetchErrorKind = "connection_refused"
	KindNetwork           FetchErrorKind = "network"
	KindInvalidRequest    FetchErrorKind = "invalid_request"
	KindBody              FetchErrorKind = "body"
	KindCanceled          FetchErrorKind = "canceled"
)

// FetchError is returned when no HTTP response could be obtained.
// HTTP error statuses are not FetchErrors; they come back in FetchResult.
type FetchError struct {
	Kind     FetchErrorKind
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %s after %d attempt(s): %v", e.URL, e.Kind, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Temporary reports whether retrying could help.
func (e *FetchError) Temporary() bool {
	switch e.Kind {
	case KindTimeout, KindDNS, KindConnectionRefused, KindNetwork:
		return true
	default:
		return false
	}
}

// Timeout reports whether the fetch failed on its deadline.
func (e *FetchError) Timeout() bool { return e.Kind == KindTimeout }

// FetchRequest describes a single fetch. Zero Timeout means DefaultTimeout.
type FetchRequest struct {
	URL     string
	Method  string
	Timeout time.Duration
}

// FetchResult is the normalized outcome of a request that got a response.
type FetchResult struct {
	URL        string
	FinalURL   string
	StatusCode int
	Redirects  int
	Header     http.Header
	Body       []byte
	Elapsed    time.Duration
	Attempts   int
}

// Fetcher issues bounded HTTP requests with retry on transport failures.
type Fetcher struct {
	transport    http.RoundTripper
	limiter      *HostLimiter
	userAgent    string
	maxAttempts  int
	backoff      time.Duration
	maxBodyBytes int64
	sleep        func(ctx context.Context, d time.Duration) error
}

// FetcherOptions configures a Fetcher. Zero values pick the defaults.
type FetcherOptions struct {
	Transport    http.RoundTripper
	Limiter      *HostLimiter
	UserAgent    string
	MaxAttempts  int
	Backoff      time.Duration
	MaxBodyBytes int64
}

// NewFetcher creates a Fetcher.
func NewFetcher(opts FetcherOptions) *Fetcher {
	f := &Fetcher{
		transport:    opts.Transport,
		limiter:      opts.Limiter,
		userAgent:    opts.UserAgent,
		maxAttempts:  opts.MaxAttempts,
		backoff:      opts.Backoff,
		maxBodyBytes: opts.MaxBodyBytes,
		sleep:        sleepCtx,
	}
	if f.transport == nil {
		f.transport = http.DefaultTransport
	}
	if f.userAgent == "" {
		f.userAgent = DefaultUserAgent
	}
	if f.maxAttempts <= 0 {
		f.maxAttempts = DefaultMaxAttempts
	}
	if f.backoff <= 0 {
		f.backoff = DefaultBackoff
	}
	if f.maxBodyBytes <= 0 {
		f.maxBodyBytes = DefaultMaxBodyBytes
	}
	return f
}

// Fetch performs req. Transport failures are retried with exponential
// backoff (backoff, 2*backoff, ...); any HTTP response, whatever its
// status, ends the loop.
func (f *Fetcher) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.Timeout <= 0 {
		req.Timeout = DefaultTimeout
	}
	u, err := url.Parse(req.URL)
	if err != nil || !u.IsAbs() {
		return nil, &FetchError{Kind: KindInvalidRequest, URL: req.URL, Err: fmt.Errorf("invalid url %q", req.URL)}
	}

	backoff := f.backoff
	var lastErr *FetchError
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		res, ferr := f.attempt(ctx, u, req)
		if ferr == nil {
			res.Attempts = attempt
			return res, nil
		}
		ferr.Attempts = attempt
		lastErr = ferr
		if !ferr.Temporary() || attempt == f.maxAttempts || ctx.Err() != nil {
			break
		}
		slog.Debug("fetch failed, retrying",
			"url", req.URL, "attempt", attempt, "backoff", backoff, "err", ferr.Err)
		if err := f.sleep(ctx, backoff); err != nil {
			break
		}
		backoff *= 2
	}
	return nil, lastErr
}

func (f *Fetcher) attempt(ctx context.Context, u *url.URL, req FetchRequest) (*FetchResult, *FetchError) {
	if f.limiter != nil {
		release, err := f.limiter.Acquire(ctx, u.Hostname())
		if err != nil {
			return nil, classify(req.URL, err)
		}
		defer release()
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), nil)
	if err != nil {
		return nil, &FetchError{Kind: KindInvalidRequest, URL: req.URL, Err: err}
	}
	httpReq.Header.Set("User-Agent", f.userAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	redirects := 0
	client := &http.Client{
		Transport: f.transport,
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			if len(via) > maxRedirects {
				return http.ErrUseLastResponse
			}
			redirects = len(via)
			return nil
		},
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, classify(req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes))
	if err != nil {
		fe := classify(req.URL, err)
		if fe.Kind == KindNetwork {
			fe.Kind = KindBody
		}
		return nil, fe
	}

	return &FetchResult{
		URL:        req.URL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Redirects:  redirects,
		Header:     resp.Header,
		Body:       body,
		Elapsed:    time.Since(start),
	}, nil
}

// classify maps a transport error onto a FetchErrorKind.
func classify(rawURL string, err error) *FetchError {
	fe := &FetchError{Kind: KindNetwork, URL: rawURL, Err: err}

	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		fe.Kind = KindTimeout
	case errors.As(err, &dnsErr):
		fe.Kind = KindDNS
		if dnsErr.IsTimeout {
			fe.Kind = KindTimeout
		}
	case errors.Is(err, syscall.ECONNREFUSED):
		fe.Kind = KindConnectionRefused
	case errors.As(err, &netErr) && netErr.Timeout():
		fe.Kind = KindTimeout
	case errors.Is(err, context.Canceled):
		fe.Kind = KindCanceled
	}
	return fe
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
