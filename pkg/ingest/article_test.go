package ingest

import (
	"reflect"
	"testing"
	"time"
)

func TestArticleID_StableAndPrefixed(t *testing.T) {
	a := ArticleID("newsapi", "https://example.com/story-1")
	b := ArticleID("newsapi", "https://example.com/story-1")
	if a != b {
		t.Fatalf("same url produced different ids: %s vs %s", a, b)
	}
	if len(a) != len("newsapi_")+16 {
		t.Fatalf("unexpected id shape: %s", a)
	}
	if a[:8] != "newsapi_" {
		t.Fatalf("missing source prefix: %s", a)
	}

	other := ArticleID("yahoo_rss", "https://example.com/story-1")
	if other == a {
		t.Fatal("different sources must produce different ids")
	}
}

func TestExtractTickers(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "dollar notation",
			text: "Investors piled into $TSLA after the report",
			want: []string{"TSLA"},
		},
		{
			name: "exchange notation",
			text: "Apple (AAPL: up 3%) beat estimates",
			want: []string{"AAPL"},
		},
		{
			name: "stock suffix",
			text: "MSFT stock rallied on cloud growth",
			want: []string{"MSFT"},
		},
		{
			name: "mixed and deduplicated",
			text: "$AAPL gained while AAPL stock was upgraded; $NVDA too",
			want: []string{"AAPL", "NVDA"},
		},
		{
			name: "no tickers",
			text: "Markets were quiet on Monday",
			want: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractTickers(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ExtractTickers(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestParsePublishedAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		value string
		want  time.Time
	}{
		{
			name:  "rfc3339",
			value: "2026-02-10T08:30:00Z",
			want:  time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC),
		},
		{
			name:  "alpha vantage compact",
			value: "20260210T083000",
			want:  time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC),
		},
		{
			name:  "rss pubdate",
			value: "Tue, 10 Feb 2026 08:30:00 +0000",
			want:  time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC),
		},
		{
			name:  "empty falls back to now",
			value: "",
			want:  now,
		},
		{
			name:  "garbage falls back to now",
			value: "yesterday-ish",
			want:  now,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePublishedAt(tt.value, now)
			if !got.Equal(tt.want) {
				t.Fatalf("ParsePublishedAt(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
