package ingest

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/common"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/logger"
)

const (
	yahooRSSBaseURL    = "https://feeds.finance.yahoo.com/rss/2.0/headline"
	yahooRSSMaxEntries = 10
)

// YahooRSSClient fetches the per-ticker Yahoo Finance headline feed.
// No API key needed.
type YahooRSSClient struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

type YahooRSSClientParams struct {
	BaseURL string
	HTTP    *http.Client
}

func NewYahooRSSClient(params YahooRSSClientParams) *YahooRSSClient {
	baseURL := params.BaseURL
	if baseURL == "" {
		baseURL = yahooRSSBaseURL
	}
	client := params.HTTP
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &YahooRSSClient{
		baseURL: baseURL,
		http:    client,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		now:     time.Now,
	}
}

func (c *YahooRSSClient) Name() string { return "yahoo_rss" }

type rssFeed struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

// Fetch retrieves up to ten headlines per ticker. A failing feed is
// logged and skipped; the call fails only when every feed fails.
func (c *YahooRSSClient) Fetch(ctx context.Context, tickers []string) ([]common.Article, error) {
	var articles []common.Article
	var lastErr error
	succeeded := 0

	for _, ticker := range tickers {
		batch, err := c.fetchFeed(ctx, ticker)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("[Ingestion] Yahoo RSS feed failed", "ticker", ticker, "err", err)
			lastErr = err
			continue
		}
		articles = append(articles, batch...)
		succeeded++
	}

	if succeeded == 0 && lastErr != nil {
		return nil, lastErr
	}
	return articles, nil
}

func (c *YahooRSSClient) fetchFeed(ctx context.Context, ticker string) ([]common.Article, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	feedURL := fmt.Sprintf("%s?s=%s&region=US&lang=en", c.baseURL, ticker)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo rss request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("yahoo rss response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("yahoo rss status %d", resp.StatusCode)
	}

	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("yahoo rss decode: %w", err)
	}

	now := c.now().UTC()
	items := feed.Channel.Items
	if len(items) > yahooRSSMaxEntries {
		items = items[:yahooRSSMaxEntries]
	}

	articles := make([]common.Article, 0, len(items))
	for _, item := range items {
		articles = append(articles, common.Article{
			ID:          ArticleID(c.Name(), item.Link),
			Source:      c.Name(),
			URL:         item.Link,
			Title:       item.Title,
			Body:        item.Description,
			PublishedAt: ParsePublishedAt(item.PubDate, now),
			RetrievedAt: now,
			Tickers:     []string{ticker},
			Language:    "en",
			Checksum:    Checksum(item.Description),
		})
	}
	return articles, nil
}
