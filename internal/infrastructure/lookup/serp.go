// Package lookup implements the optional secondary signal used by the link
// and staleness checks: a SERP API query that tells whether a URL is still
// indexed and, when the engine reports one, when it last changed.
package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"sourceMonitor/internal/core/domain"
	"sourceMonitor/internal/infrastructure/scraper"
)

const (
	DefaultEndpoint = "https://api.brightdata.com/serp/req"
	DefaultEngine   = "google"
	DefaultCountry  = "us"

	maxResponseBytes = 4 << 20
)

// Config configures the SERP client. An empty APIKey disables it.
type Config struct {
	Endpoint string
	APIKey   string
	Engine   string
	Country  string
	Timeout  time.Duration
	Client   *http.Client
}

// SERPClient queries a SERP API over HTTPS.
type SERPClient struct {
	cfg    Config
	client *http.Client
}

// New returns a client, or nil when no API key is configured so callers can
// leave the lookup out entirely.
func New(cfg Config) *SERPClient {
	if cfg.APIKey == "" {
		return nil
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Engine == "" {
		cfg.Engine = DefaultEngine
	}
	if cfg.Country == "" {
		cfg.Country = DefaultCountry
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = scraper.DefaultLookupTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &SERPClient{cfg: cfg, client: client}
}

type serpRequest struct {
	Query        string `json:"query"`
	SearchEngine string `json:"search_engine"`
	Country      string `json:"country"`
}

// Lookup searches for query, normally the monitored URL itself, and reports
// whether that URL appears among the organic results. Every failure wraps
// domain.ErrLookupUnavailable.
func (c *SERPClient) Lookup(ctx context.Context, query string) (*domain.LookupResult, error) {
	payload, err := json.Marshal(serpRequest{Query: query, SearchEngine: c.cfg.Engine, Country: c.cfg.Country})
	if err != nil {
		return nil, unavailable(err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, unavailable(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, unavailable(fmt.Errorf("status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, unavailable(err)
	}
	if !gjson.ValidBytes(body) {
		return nil, unavailable(fmt.Errorf("invalid JSON response"))
	}
	return parseResults(body, query), nil
}

// parseResults scans organic results for an entry whose link matches query.
func parseResults(body []byte, query string) *domain.LookupResult {
	res := &domain.LookupResult{}
	want := normalizeURL(query)

	gjson.GetBytes(body, "organic").ForEach(func(_, item gjson.Result) bool {
		if want == "" || normalizeURL(item.Get("link").String()) != want {
			return true
		}
		res.Indexed = true
		res.Title = item.Get("title").String()
		for _, field := range []string{"date", "last_modified"} {
			if t, ok := scraper.ParseDate(item.Get(field).String()); ok {
				res.LastModified = &t
				break
			}
		}
		return false
	})
	return res
}

// normalizeURL drops the scheme, a leading www., the fragment and trailing
// slashes so search results match the configured URL. Queries that are not
// absolute URLs normalize to "".
func normalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	path := strings.TrimRight(u.EscapedPath(), "/")
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return host + path
}

func unavailable(err error) error {
	return fmt.Errorf("serp: %w: %v", domain.ErrLookupUnavailable, err)
}
