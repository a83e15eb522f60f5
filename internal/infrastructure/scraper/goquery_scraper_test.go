package scraper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<!DOCTYPE html>
<html><head>
<title>Docs</title>
<meta property="article:modified_time" content="2024-03-05T10:00:00Z">
<style>body { color: red }</style>
<script>var subscribe = true;</script>
</head>
<body>
  <main>
    <h1>Getting started</h1>
    <p>Install the   package.</p>
    <noscript>enable javascript</noscript>
  </main>
</body></html>`

func TestPageTextDropsScriptsAndStyles(t *testing.T) {
	p, err := ParsePage([]byte(samplePage))
	require.NoError(t, err)

	text := p.Text()
	assert.Equal(t, "Docs\nGetting started\nInstall the   package.", text)
	assert.NotContains(t, text, "color")
	assert.NotContains(t, text, "javascript")

	// Text must not mutate the parsed document.
	assert.Empty(t, p.MissingMarkers([]string{"script"}))
}

func TestPageMissingMarkers(t *testing.T) {
	p, err := ParsePage([]byte(samplePage))
	require.NoError(t, err)

	assert.Empty(t, p.MissingMarkers([]string{"main", "h1"}))
	assert.Equal(t, []string{"article", ".content"}, p.MissingMarkers([]string{"main", "article", ".content"}))
}

func TestPagePaywallMarkersScansMarkup(t *testing.T) {
	p, err := ParsePage([]byte(samplePage))
	require.NoError(t, err)

	assert.Equal(t, []string{"subscribe"}, p.PaywallMarkers(nil))
	assert.Equal(t, []string{"Getting"}, p.PaywallMarkers([]string{"Getting", "members-only"}))
}

func TestPageModified(t *testing.T) {
	p, err := ParsePage([]byte(samplePage))
	require.NoError(t, err)

	got, ok := p.Modified()
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC), got)

	p, err = ParsePage([]byte(`<html><body><time datetime="2023-01-02">Jan 2</time></body></html>`))
	require.NoError(t, err)
	got, ok = p.Modified()
	require.True(t, ok)
	assert.Equal(t, time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC), got)

	p, err = ParsePage([]byte(`<html><body>nothing</body></html>`))
	require.NoError(t, err)
	_, ok = p.Modified()
	assert.False(t, ok)
}

func TestParseDate(t *testing.T) {
	cases := map[string]time.Time{
		"2024-01-02T03:04:05Z":          time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		"2024-01-02":                    time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		"Tue, 02 Jan 2024 03:04:05 GMT": time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		"January 2, 2024":               time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
	}
	for in, want := range cases {
		got, ok := ParseDate(in)
		require.True(t, ok, in)
		assert.True(t, want.Equal(got), in)
	}

	_, ok := ParseDate("yesterday")
	assert.False(t, ok)
}
