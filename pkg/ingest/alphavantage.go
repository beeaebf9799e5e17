package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/common"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/logger"
)

const (
	alphaVantageBaseURL = "https://www.alphavantage.co"
	alphaVantageLimit   = 50
)

// AlphaVantageClient fetches NEWS_SENTIMENT items per ticker. The free
// tier allows 5 requests per minute, so the limiter spaces calls 12s
// apart.
type AlphaVantageClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

type AlphaVantageClientParams struct {
	APIKey string

	BaseURL string
	HTTP    *http.Client

	// RequestInterval overrides the 12s spacing, for tests.
	RequestInterval time.Duration
}

func NewAlphaVantageClient(params AlphaVantageClientParams) *AlphaVantageClient {
	baseURL := params.BaseURL
	if baseURL == "" {
		baseURL = alphaVantageBaseURL
	}
	client := params.HTTP
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	interval := params.RequestInterval
	if interval <= 0 {
		interval = 12 * time.Second
	}
	return &AlphaVantageClient{
		apiKey:  params.APIKey,
		baseURL: baseURL,
		http:    client,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		now:     time.Now,
	}
}

func (c *AlphaVantageClient) Name() string { return "alphavantage" }

type alphaVantageResponse struct {
	Feed []struct {
		Title           string `json:"title"`
		URL             string `json:"url"`
		TimePublished   string `json:"time_published"`
		Summary         string `json:"summary"`
		TickerSentiment []struct {
			Ticker string `json:"ticker"`
		} `json:"ticker_sentiment"`
	} `json:"feed"`
	Note         string `json:"Note"`
	ErrorMessage string `json:"Error Message"`
}

// Fetch retrieves news sentiment items for every ticker on the
// watchlist. A failing ticker is logged and skipped; the call fails
// only when no ticker succeeds.
func (c *AlphaVantageClient) Fetch(ctx context.Context, tickers []string) ([]common.Article, error) {
	var articles []common.Article
	var lastErr error
	succeeded := 0

	for _, ticker := range tickers {
		batch, err := c.fetchTicker(ctx, ticker)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn("[Ingestion] Alpha Vantage ticker failed", "ticker", ticker, "err", err)
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

func (c *AlphaVantageClient) fetchTicker(ctx context.Context, ticker string) ([]common.Article, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("function", "NEWS_SENTIMENT")
	query.Set("tickers", ticker)
	query.Set("limit", fmt.Sprint(alphaVantageLimit))
	query.Set("apikey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/query?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("alphavantage request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("alphavantage response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alphavantage status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed alphaVantageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("alphavantage decode: %w", err)
	}
	if parsed.ErrorMessage != "" {
		return nil, fmt.Errorf("alphavantage: %s", parsed.ErrorMessage)
	}
	if parsed.Note != "" {
		return nil, fmt.Errorf("alphavantage throttled: %s", truncate(parsed.Note, 200))
	}

	now := c.now().UTC()
	articles := make([]common.Article, 0, len(parsed.Feed))
	for _, item := range parsed.Feed {
		tickers := make([]string, 0, len(item.TickerSentiment))
		for _, s := range item.TickerSentiment {
			if s.Ticker != "" {
				tickers = append(tickers, s.Ticker)
			}
		}
		articles = append(articles, common.Article{
			ID:          ArticleID(c.Name(), item.URL),
			Source:      c.Name(),
			URL:         item.URL,
			Title:       item.Title,
			Body:        item.Summary,
			PublishedAt: ParsePublishedAt(item.TimePublished, now),
			RetrievedAt: now,
			Tickers:     tickers,
			Language:    "en",
			Checksum:    Checksum(item.Summary),
		})
	}
	return articles, nil
}
