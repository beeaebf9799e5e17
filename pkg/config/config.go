package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/internal/util"
)

// Settings is the process-level configuration shared by the server and
// the worker, read from the environment once at startup.
type Settings struct {
	DatabaseURL string
	BaseDataDir string

	AIAdapter string
	OpenAIKey string
	ChatURL   string
	ChatModel string

	NewsAPIKey      string
	AlphaVantageKey string

	Workers             int
	ChunkTokens         int
	ResolutionThreshold float64
	RetryMaxTries       int
	RetryBaseDelay      time.Duration

	MasterAPIKey string
	Debug        bool
}

// FromEnv reads settings from the environment, applying defaults for
// the tunables.
func FromEnv() Settings {
	return Settings{
		DatabaseURL: util.GetEnv("DATABASE_URL"),
		BaseDataDir: util.GetEnvString("BASE_DATA_DIR", "data"),

		AIAdapter: util.GetEnvString("AI_ADAPTER", "openai"),
		OpenAIKey: util.GetEnv("OPENAI_API_KEY"),
		ChatURL:   util.GetEnv("AI_CHAT_URL"),
		ChatModel: util.GetEnvString("AI_CHAT_MODEL", "gpt-4o-mini"),

		NewsAPIKey:      util.GetEnv("NEWSAPI_KEY"),
		AlphaVantageKey: util.GetEnv("ALPHA_VANTAGE_KEY"),

		Workers:             util.GetEnvInt("PIPELINE_WORKERS", 4),
		ChunkTokens:         util.GetEnvInt("CHUNK_TOKENS", 250),
		ResolutionThreshold: util.GetEnvFloat("RESOLUTION_THRESHOLD", 0.85),
		RetryMaxTries:       util.GetEnvInt("STAGE_MAX_TRIES", 3),
		RetryBaseDelay:      time.Duration(util.GetEnvInt("STAGE_RETRY_BASE_MS", 1000)) * time.Millisecond,

		MasterAPIKey: util.GetEnv("MASTER_API_KEY"),
		Debug:        util.GetEnvBool("DEBUG", false),
	}
}

// Validate reports every missing or out-of-range value at once so a
// misconfigured deployment fails with a single readable error.
func (s Settings) Validate() error {
	var errs []error

	if s.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if s.BaseDataDir == "" {
		errs = append(errs, errors.New("BASE_DATA_DIR is required"))
	}

	switch s.AIAdapter {
	case "openai":
		if s.OpenAIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai adapter"))
		}
	case "ollama":
		if s.ChatURL == "" {
			errs = append(errs, errors.New("AI_CHAT_URL is required for the ollama adapter"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown AI_ADAPTER %q", s.AIAdapter))
	}

	if s.Workers < 1 {
		errs = append(errs, fmt.Errorf("PIPELINE_WORKERS must be >= 1, got %d", s.Workers))
	}
	if s.ChunkTokens < 50 {
		errs = append(errs, fmt.Errorf("CHUNK_TOKENS must be >= 50, got %d", s.ChunkTokens))
	}
	if s.ResolutionThreshold <= 0 || s.ResolutionThreshold > 1 {
		errs = append(errs, fmt.Errorf("RESOLUTION_THRESHOLD must be in (0, 1], got %v", s.ResolutionThreshold))
	}

	return errors.Join(errs...)
}

// Known ingestion source names.
const (
	SourceNewsAPI      = "newsapi"
	SourceAlphaVantage = "alphavantage"
	SourceYahooRSS     = "yahoo_rss"
)

// DefaultTickers seeds the per-ticker sources when a run does not name
// its own watchlist.
var DefaultTickers = []string{"AAPL", "MSFT", "GOOGL", "TSLA", "AMZN"}

// RunOptions is the per-run configuration carried in the run message
// and stored with the run row.
type RunOptions struct {
	SampleSize  int      `json:"sample_size" validate:"omitempty,min=1"`
	Sources     []string `json:"sources,omitempty"`
	Tickers     []string `json:"tickers,omitempty"`
	ForceStages []string `json:"force_stages,omitempty"`
	ReuseRaw    bool     `json:"reuse_raw"`
}

// Normalize fills defaults for omitted fields.
func (o *RunOptions) Normalize() {
	if len(o.Sources) == 0 {
		o.Sources = []string{SourceNewsAPI, SourceAlphaVantage, SourceYahooRSS}
	}
	if len(o.Tickers) == 0 {
		o.Tickers = append([]string(nil), DefaultTickers...)
	}
}

// Validate checks that every named source is known.
func (o RunOptions) Validate() error {
	var errs []error
	for _, src := range o.Sources {
		switch src {
		case SourceNewsAPI, SourceAlphaVantage, SourceYahooRSS:
		default:
			errs = append(errs, fmt.Errorf("unknown source %q", src))
		}
	}
	if o.SampleSize < 0 {
		errs = append(errs, fmt.Errorf("sample_size must be >= 0, got %d", o.SampleSize))
	}
	return errors.Join(errs...)
}
