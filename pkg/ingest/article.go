package ingest

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ArticleID derives the stable article identity from its source and
// URL. The same story fetched twice always gets the same id.
func ArticleID(source, url string) string {
	sum := md5.Sum([]byte(url))
	return source + "_" + hex.EncodeToString(sum[:])[:16]
}

// Checksum fingerprints the article body for change detection.
func Checksum(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}

var tickerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\$([A-Z]{1,5})\b`),
	regexp.MustCompile(`\(([A-Z]{1,5}):\s`),
	regexp.MustCompile(`\b([A-Z]{2,5})\s+STOCK`),
}

// ExtractTickers pulls stock symbols out of free text, matching the
// $TSLA, (TSLA: and "TSLA stock" notations. The result is sorted for
// determinism.
func ExtractTickers(text string) []string {
	upper := strings.ToUpper(text)
	seen := map[string]struct{}{}
	for _, pattern := range tickerPatterns {
		for _, match := range pattern.FindAllStringSubmatch(upper, -1) {
			seen[match[1]] = struct{}{}
		}
	}
	tickers := make([]string, 0, len(seen))
	for t := range seen {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	return tickers
}

// ParsePublishedAt normalizes the timestamp formats the news sources
// emit. Unparseable or empty values fall back to now, so an article
// never carries a zero publication time.
func ParsePublishedAt(value string, now time.Time) time.Time {
	if value == "" {
		return now
	}
	layouts := []string{
		time.RFC3339,
		"20060102T150405", // Alpha Vantage
		time.RFC1123Z,     // RSS
		time.RFC1123,
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC()
		}
	}
	return now
}
