package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewsAPIClient_FetchParsesArticles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "financial OR earnings OR stock" {
			t.Errorf("unexpected query %q", got)
		}
		if r.URL.Query().Get("apiKey") != "test-key" {
			t.Error("api key not forwarded")
		}
		w.Write([]byte(`{
			"status": "ok",
			"articles": [
				{
					"source": {"name": "Reuters"},
					"title": "Apple (AAPL: up) beats estimates",
					"content": "Apple reported record revenue. $AAPL rose.",
					"url": "https://reuters.com/apple-beats",
					"publishedAt": "2026-02-10T08:30:00Z"
				}
			]
		}`))
	}))
	defer srv.Close()

	client := NewNewsAPIClient(NewsAPIClientParams{APIKey: "test-key", BaseURL: srv.URL})
	articles, err := client.Fetch(context.Background(), nil)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(articles) != 1 {
		t.Fatalf("expected 1 article, got %d", len(articles))
	}

	got := articles[0]
	if got.ID != ArticleID("newsapi", "https://reuters.com/apple-beats") {
		t.Fatalf("unexpected id %s", got.ID)
	}
	if got.Source != "newsapi" || got.Language != "en" {
		t.Fatalf("unexpected article: %+v", got)
	}
	if !got.PublishedAt.Equal(time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected published_at %v", got.PublishedAt)
	}
	if len(got.Tickers) != 1 || got.Tickers[0] != "AAPL" {
		t.Fatalf("unexpected tickers %v", got.Tickers)
	}
	if got.Checksum == "" {
		t.Fatal("missing checksum")
	}
}

func TestNewsAPIClient_FetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"status":"error","message":"rate limited"}`))
	}))
	defer srv.Close()

	client := NewNewsAPIClient(NewsAPIClientParams{APIKey: "k", BaseURL: srv.URL})
	if _, err := client.Fetch(context.Background(), nil); err == nil {
		t.Fatal("expected error for 429 response")
	}
}

func TestAlphaVantageClient_FetchParsesFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("function") != "NEWS_SENTIMENT" {
			t.Errorf("unexpected function %q", r.URL.Query().Get("function"))
		}
		w.Write([]byte(`{
			"feed": [
				{
					"title": "Microsoft cloud growth",
					"url": "https://example.com/msft",
					"time_published": "20260210T083000",
					"summary": "Azure revenue grew.",
					"ticker_sentiment": [{"ticker": "MSFT"}]
				}
			]
		}`))
	}))
	defer srv.Close()

	client := NewAlphaVantageClient(AlphaVantageClientParams{
		APIKey:          "k",
		BaseURL:         srv.URL,
		RequestInterval: time.Millisecond,
	})
	articles, err := client.Fetch(context.Background(), []string{"MSFT"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(articles) != 1 {
		t.Fatalf("expected 1 article, got %d", len(articles))
	}
	got := articles[0]
	if got.Source != "alphavantage" {
		t.Fatalf("unexpected source %s", got.Source)
	}
	if len(got.Tickers) != 1 || got.Tickers[0] != "MSFT" {
		t.Fatalf("unexpected tickers %v", got.Tickers)
	}
	if !got.PublishedAt.Equal(time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected published_at %v", got.PublishedAt)
	}
}

func TestAlphaVantageClient_ThrottleNoteIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Note": "Thank you for using Alpha Vantage! Our standard API rate limit is 25 requests per day."}`))
	}))
	defer srv.Close()

	client := NewAlphaVantageClient(AlphaVantageClientParams{
		APIKey:          "k",
		BaseURL:         srv.URL,
		RequestInterval: time.Millisecond,
	})
	if _, err := client.Fetch(context.Background(), []string{"AAPL"}); err == nil {
		t.Fatal("expected error when throttled")
	}
}

func TestYahooRSSClient_FetchParsesFeedAndCapsEntries(t *testing.T) {
	feed := `<?xml version="1.0"?><rss version="2.0"><channel>`
	for i := 0; i < 12; i++ {
		feed += `<item><title>Headline</title><link>https://finance.yahoo.com/news/` +
			string(rune('a'+i)) + `</link><description>Body text</description>` +
			`<pubDate>Tue, 10 Feb 2026 08:30:00 +0000</pubDate></item>`
	}
	feed += `</channel></rss>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("s") != "TSLA" {
			t.Errorf("unexpected ticker %q", r.URL.Query().Get("s"))
		}
		w.Write([]byte(feed))
	}))
	defer srv.Close()

	client := NewYahooRSSClient(YahooRSSClientParams{BaseURL: srv.URL})
	articles, err := client.Fetch(context.Background(), []string{"TSLA"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(articles) != 10 {
		t.Fatalf("expected cap at 10 entries, got %d", len(articles))
	}
	got := articles[0]
	if got.Source != "yahoo_rss" {
		t.Fatalf("unexpected source %s", got.Source)
	}
	if len(got.Tickers) != 1 || got.Tickers[0] != "TSLA" {
		t.Fatalf("unexpected tickers %v", got.Tickers)
	}
}
