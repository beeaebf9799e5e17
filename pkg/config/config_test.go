package config

import (
	"strings"
	"testing"
)

func TestSettingsValidate(t *testing.T) {
	valid := Settings{
		DatabaseURL:         "postgres://localhost/kg",
		BaseDataDir:         "data",
		AIAdapter:           "openai",
		OpenAIKey:           "sk-test",
		Workers:             4,
		ChunkTokens:         250,
		ResolutionThreshold: 0.85,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid settings rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Settings)
		want   string
	}{
		{
			name:   "missing database url",
			mutate: func(s *Settings) { s.DatabaseURL = "" },
			want:   "DATABASE_URL",
		},
		{
			name:   "openai adapter without key",
			mutate: func(s *Settings) { s.OpenAIKey = "" },
			want:   "OPENAI_API_KEY",
		},
		{
			name: "ollama adapter without chat url",
			mutate: func(s *Settings) {
				s.AIAdapter = "ollama"
				s.ChatURL = ""
			},
			want: "AI_CHAT_URL",
		},
		{
			name:   "unknown adapter",
			mutate: func(s *Settings) { s.AIAdapter = "bard" },
			want:   "unknown AI_ADAPTER",
		},
		{
			name:   "zero workers",
			mutate: func(s *Settings) { s.Workers = 0 },
			want:   "PIPELINE_WORKERS",
		},
		{
			name:   "threshold above one",
			mutate: func(s *Settings) { s.ResolutionThreshold = 1.5 },
			want:   "RESOLUTION_THRESHOLD",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := valid
			tc.mutate(&s)
			err := s.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestSettingsValidateReportsAllProblems(t *testing.T) {
	s := Settings{AIAdapter: "openai", ChunkTokens: 250, ResolutionThreshold: 0.85}
	err := s.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"DATABASE_URL", "BASE_DATA_DIR", "OPENAI_API_KEY", "PIPELINE_WORKERS"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestRunOptionsNormalizeFillsDefaults(t *testing.T) {
	var opts RunOptions
	opts.Normalize()

	if len(opts.Sources) != 3 {
		t.Fatalf("expected 3 default sources, got %v", opts.Sources)
	}
	if len(opts.Tickers) != len(DefaultTickers) {
		t.Fatalf("expected default tickers, got %v", opts.Tickers)
	}

	// Defaults must be copies, not aliases of the package-level slice.
	opts.Tickers[0] = "NVDA"
	if DefaultTickers[0] == "NVDA" {
		t.Fatal("normalize aliased DefaultTickers")
	}
}

func TestRunOptionsNormalizeKeepsExplicitValues(t *testing.T) {
	opts := RunOptions{Sources: []string{SourceYahooRSS}, Tickers: []string{"AAPL"}}
	opts.Normalize()

	if len(opts.Sources) != 1 || opts.Sources[0] != SourceYahooRSS {
		t.Fatalf("sources rewritten: %v", opts.Sources)
	}
	if len(opts.Tickers) != 1 || opts.Tickers[0] != "AAPL" {
		t.Fatalf("tickers rewritten: %v", opts.Tickers)
	}
}

func TestRunOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    RunOptions
		wantErr bool
	}{
		{name: "empty is valid", opts: RunOptions{}},
		{name: "known sources", opts: RunOptions{Sources: []string{SourceNewsAPI, SourceAlphaVantage}}},
		{name: "unknown source", opts: RunOptions{Sources: []string{"reuters"}}, wantErr: true},
		{name: "negative sample size", opts: RunOptions{SampleSize: -1}, wantErr: true},
		{name: "positive sample size", opts: RunOptions{SampleSize: 10}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.opts.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
