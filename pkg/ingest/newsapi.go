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
)

const (
	newsAPIBaseURL = "https://newsapi.org/v2"
	newsAPIQuery   = "financial OR earnings OR stock"
	newsAPIDomains = "reuters.com,bloomberg.com,wsj.com,ft.com,marketwatch.com"
	newsAPIPage    = 100
)

// NewsAPIClient fetches the /v2/everything feed filtered to financial
// publishers.
type NewsAPIClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

type NewsAPIClientParams struct {
	APIKey string

	// BaseURL overrides the production endpoint, for tests.
	BaseURL string
	HTTP    *http.Client
}

func NewNewsAPIClient(params NewsAPIClientParams) *NewsAPIClient {
	baseURL := params.BaseURL
	if baseURL == "" {
		baseURL = newsAPIBaseURL
	}
	client := params.HTTP
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &NewsAPIClient{
		apiKey:  params.APIKey,
		baseURL: baseURL,
		http:    client,
		limiter: rate.NewLimiter(rate.Every(time.Second), 1),
		now:     time.Now,
	}
}

func (c *NewsAPIClient) Name() string { return "newsapi" }

type newsAPIResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Articles []struct {
		Source struct {
			Name string `json:"name"`
		} `json:"source"`
		Author      string `json:"author"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Content     string `json:"content"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
	} `json:"articles"`
}

// Fetch retrieves one page of recent financial news.
func (c *NewsAPIClient) Fetch(ctx context.Context, _ []string) ([]common.Article, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("q", newsAPIQuery)
	query.Set("pageSize", fmt.Sprint(newsAPIPage))
	query.Set("sortBy", "publishedAt")
	query.Set("language", "en")
	query.Set("domains", newsAPIDomains)
	query.Set("apiKey", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/everything?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("newsapi request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("newsapi response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("newsapi status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed newsAPIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("newsapi decode: %w", err)
	}
	if parsed.Status != "ok" {
		return nil, fmt.Errorf("newsapi status %q: %s", parsed.Status, parsed.Message)
	}

	now := c.now().UTC()
	articles := make([]common.Article, 0, len(parsed.Articles))
	for _, raw := range parsed.Articles {
		content := raw.Content
		if content == "" {
			content = raw.Description
		}
		articles = append(articles, common.Article{
			ID:          ArticleID(c.Name(), raw.URL),
			Source:      c.Name(),
			URL:         raw.URL,
			Title:       raw.Title,
			Body:        content,
			PublishedAt: ParsePublishedAt(raw.PublishedAt, now),
			RetrievedAt: now,
			Tickers:     ExtractTickers(content + " " + raw.Title),
			Language:    "en",
			Checksum:    Checksum(content),
		})
	}
	return articles, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
