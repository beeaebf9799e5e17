package preprocess

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/common"
)

func TestSplitIntoSentences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "simple sentences",
			text: "Apple beat estimates. Shares rose sharply.",
			want: []string{"Apple beat estimates.", "Shares rose sharply."},
		},
		{
			name: "company suffix is not a boundary",
			text: "Apple Inc. acquired the startup. The deal closed Friday.",
			want: []string{"Apple Inc. acquired the startup.", "The deal closed Friday."},
		},
		{
			name: "numeric listing stays together",
			text: "Revenue grew 3.5 percent in Q2.",
			want: []string{"Revenue grew 3.5 percent in Q2."},
		},
		{
			name: "closing quote attaches to sentence",
			text: `The CEO said "growth is strong." Analysts agreed.`,
			want: []string{`The CEO said "growth is strong."`, "Analysts agreed."},
		},
		{
			name: "newlines separate sentences",
			text: "First headline\nSecond headline",
			want: []string{"First headline", "Second headline"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitIntoSentences(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("splitIntoSentences(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestCleanText_PlainText(t *testing.T) {
	got, err := CleanText("Markets  rallied today.\r\n\r\n\r\n\r\nVolume was   light.", "https://example.com/a")
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	want := "Markets rallied today.\n\nVolume was light."
	if got != want {
		t.Fatalf("CleanText = %q, want %q", got, want)
	}
}

func TestCleanText_StripsHTML(t *testing.T) {
	html := `<html><body><article><h1>Apple beats estimates</h1>
	<p>Apple reported record revenue on Thursday.</p>
	<p>Shares rose four percent after hours.</p></article></body></html>`

	got, err := CleanText(html, "https://example.com/apple")
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if strings.Contains(got, "<") {
		t.Fatalf("markup survived cleaning: %q", got)
	}
	if !strings.Contains(got, "Apple reported record revenue") {
		t.Fatalf("content lost in cleaning: %q", got)
	}
}

func TestChunkText_BudgetAndIDs(t *testing.T) {
	var sentences []string
	for i := 0; i < 40; i++ {
		sentences = append(sentences, "The quarterly report showed steady revenue growth across all segments.")
	}
	text := strings.Join(sentences, " ")

	chunks, err := ChunkText("newsapi_abc123", "Earnings roundup", text, DefaultEncoder, 100)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks under a 100 token budget, got %d", len(chunks))
	}

	for i, chunk := range chunks {
		if chunk.Seq != i {
			t.Fatalf("chunk %d has seq %d", i, chunk.Seq)
		}
		wantID := "newsapi_abc123#" + string(rune('0'+i))
		if i < 10 && chunk.ID != wantID {
			t.Fatalf("chunk %d has id %s, want %s", i, chunk.ID, wantID)
		}
		if chunk.ArticleID != "newsapi_abc123" {
			t.Fatalf("chunk %d has article id %s", i, chunk.ArticleID)
		}
		if chunk.Tokens > 100 {
			t.Fatalf("chunk %d exceeds budget: %d tokens", i, chunk.Tokens)
		}
	}

	if !strings.HasPrefix(chunks[0].Text, "Earnings roundup.") {
		t.Fatalf("title not prepended to first chunk: %q", chunks[0].Text[:40])
	}
}

func TestChunkText_EmptyTextNoChunks(t *testing.T) {
	chunks, err := ChunkText("id", "", "", DefaultEncoder, 100)
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks, got %d", len(chunks))
	}
}

func TestStage_RunDropsEmptyArticlesAndWritesArtifact(t *testing.T) {
	stage := NewStage(t.TempDir(), 250)
	articles := []common.Article{
		{
			ID:          "newsapi_1",
			Title:       "Apple beats estimates",
			Body:        "Apple reported record revenue. Shares rose.",
			URL:         "https://example.com/1",
			PublishedAt: time.Now(),
		},
		{
			ID:    "newsapi_2",
			Title: "Empty",
			Body:  "   ",
			URL:   "https://example.com/2",
		},
	}

	result, err := stage.Run(context.Background(), "run1", articles)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Dropped != 1 {
		t.Fatalf("expected 1 dropped article, got %d", result.Dropped)
	}
	if len(result.Chunks) == 0 {
		t.Fatal("expected chunks for the non-empty article")
	}

	loaded, err := LoadChunks(result.ArtifactPath)
	if err != nil {
		t.Fatalf("load artifact: %v", err)
	}
	if !reflect.DeepEqual(loaded, result.Chunks) {
		t.Fatalf("artifact round trip mismatch: %v vs %v", loaded, result.Chunks)
	}
}

func TestStage_RunHonorsCancellation(t *testing.T) {
	stage := NewStage(t.TempDir(), 250)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := stage.Run(ctx, "run1", []common.Article{{ID: "a", Body: "text", URL: "https://example.com"}})
	if err == nil {
		t.Fatal("expected context error")
	}
}
