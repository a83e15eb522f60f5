package scraper

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// DefaultPaywallMarkers are looked up in the lower-cased page markup.
var DefaultPaywallMarkers = []string{
	"paywall",
	"subscribe",
	"subscription",
	"premium",
	"login-required",
	"access-denied",
	"members-only",
	"paid-content",
}

// modifiedMetaSelectors are tried in order when looking for a page's
// last-modified date.
var modifiedMetaSelectors = []string{
	`meta[property='article:modified_time']`,
	`meta[property='og:updated_time']`,
	`meta[name='last-modified']`,
	`meta[name='dcterms.modified']`,
	`meta[http-equiv='last-modified']`,
}

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123,
	time.RFC1123Z,
	time.RFC850,
	time.ANSIC,
	"January 2, 2006",
	"2 January 2006",
}

// Page is a parsed HTML document.
type Page struct {
	doc *goquery.Document
	raw []byte
}

// ParsePage parses body as HTML.
func ParsePage(body []byte) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &Page{doc: doc, raw: body}, nil
}

// Text returns the visible text: script and style content is dropped and
// every non-empty text node becomes its own trimmed line.
func (p *Page) Text() string {
	doc := goquery.CloneDocument(p.doc)
	doc.Find("script, style, noscript, template").Remove()

	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				lines = append(lines, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Selection.Nodes {
		walk(n)
	}
	return strings.Join(lines, "\n")
}

// MissingMarkers returns the selectors that match nothing on the page.
func (p *Page) MissingMarkers(selectors []string) []string {
	var missing []string
	for _, sel := range selectors {
		if p.doc.Find(sel).Length() == 0 {
			missing = append(missing, sel)
		}
	}
	return missing
}

// PaywallMarkers returns the markers present in the lower-cased markup.
func (p *Page) PaywallMarkers(markers []string) []string {
	if len(markers) == 0 {
		markers = DefaultPaywallMarkers
	}
	lower := strings.ToLower(string(p.raw))
	var found []string
	for _, m := range markers {
		if strings.Contains(lower, strings.ToLower(m)) {
			found = append(found, m)
		}
	}
	return found
}

// Modified returns the last-modified date declared in the page metadata,
// falling back to the first <time datetime> element.
func (p *Page) Modified() (time.Time, bool) {
	for _, sel := range modifiedMetaSelectors {
		content, ok := p.doc.Find(sel).First().Attr("content")
		if !ok {
			continue
		}
		if t, ok := ParseDate(content); ok {
			return t, true
		}
	}
	if dt, ok := p.doc.Find("time[datetime]").First().Attr("datetime"); ok {
		return ParseDate(dt)
	}
	return time.Time{}, false
}

// ParseDate accepts the date formats commonly found in meta tags, HTTP
// headers and search results.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
