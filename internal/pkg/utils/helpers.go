package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/yosssi/gohtml"
)

var fileNameReplacer = strings.NewReplacer("/", "_", "\\", "_", " ", "_", ":", "_", "*", "_", "?", "_", "\"", "'", "<", "_", ">", "_", "|", "_")

// SanitizeFileName replaces characters that are not safe in file names.
func SanitizeFileName(name string) string {
	return fileNameReplacer.Replace(name)
}

// HashHex returns the hex encoded SHA-256 digest of data.
func HashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Truncate keeps the first limit characters of s and appends "..." when
// something was cut.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + "..."
		}
		n++
	}
	return s
}

// ShortHash returns the first n characters of a hash for log and alert text.
func ShortHash(h string, n int) string {
	if len(h) <= n {
		return h
	}
	return h[:n]
}

// DiffHTML compares two texts line by line and returns the differences as
// HTML with <ins>/<del> markup.
func DiffHTML(oldText, newText string) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(oldText, newText)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lines)
	return dmp.DiffPrettyHtml(diffs)
}

// DiffReportPage wraps a rendered diff into a standalone HTML page.
func DiffReportPage(diffHTML, sourceName, url string) string {
	title := fmt.Sprintf("Change report for %s", html.EscapeString(sourceName))
	page := fmt.Sprintf(`<!DOCTYPE html><html lang="en"><head><meta charset="UTF-8">
<title>%s</title>
<style>
body { font-family: sans-serif; line-height: 1.6; color: #333; }
.container { max-width: 90%%; margin: 20px auto; padding: 20px; border: 1px solid #ddd; border-radius: 5px; }
h1 { color: #555; }
del { background-color: #fdd; text-decoration: none; padding: 2px 0; }
ins { background-color: #dfd; text-decoration: none; padding: 2px 0; }
</style></head><body><div class="container">
<h1>%s</h1><p><a href="%s">%s</a></p><hr>
<div>%s</div></div></body></html>`, title, title, html.EscapeString(url), html.EscapeString(url), diffHTML)
	return gohtml.Format(page)
}
