package preprocess

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/common"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/logger"
)

// Stage cleans article bodies and splits them into token-bounded
// chunks for extraction.
type Stage struct {
	baseDir   string
	encoder   string
	maxTokens int
}

func NewStage(baseDir string, maxTokens int) *Stage {
	return &Stage{
		baseDir:   baseDir,
		encoder:   DefaultEncoder,
		maxTokens: maxTokens,
	}
}

// Result carries the chunks plus the bookkeeping the orchestrator
// reports in run counters.
type Result struct {
	Chunks       []common.TextChunk
	Dropped      int
	ArtifactPath string
}

// Run processes articles in order. Articles whose bodies clean down to
// nothing are dropped and counted, not fatal. Cancellation is honored
// between articles.
func (s *Stage) Run(ctx context.Context, runID string, articles []common.Article) (Result, error) {
	var result Result

	for _, article := range articles {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		text, err := CleanText(article.Body, article.URL)
		if err != nil {
			logger.Warn("[Preprocess] Dropping article, clean failed", "article", article.ID, "err", err)
			result.Dropped++
			continue
		}
		if text == "" {
			result.Dropped++
			continue
		}

		chunks, err := ChunkText(article.ID, article.Title, text, s.encoder, s.maxTokens)
		if err != nil {
			return result, err
		}
		result.Chunks = append(result.Chunks, chunks...)
	}

	path, err := s.writeChunks(runID, result.Chunks)
	if err != nil {
		return result, err
	}
	result.ArtifactPath = path

	logger.Info("[Preprocess] Stage complete",
		"articles", len(articles), "chunks", len(result.Chunks), "dropped", result.Dropped)
	return result, nil
}

func (s *Stage) writeChunks(runID string, chunks []common.TextChunk) (string, error) {
	dir := filepath.Join(s.baseDir, "processed")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create processed dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("chunks_%s.jsonl", runID))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create chunks file: %w", err)
	}

	enc := json.NewEncoder(f)
	for _, chunk := range chunks {
		if err := enc.Encode(chunk); err != nil {
			f.Close()
			return "", fmt.Errorf("encode chunk: %w", err)
		}
	}
	return path, f.Close()
}

// LoadChunks reads a chunks artifact back, for resumed runs that skip
// the preprocessing stage.
func LoadChunks(path string) ([]common.TextChunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open chunks file: %w", err)
	}
	defer f.Close()

	var chunks []common.TextChunk
	dec := json.NewDecoder(f)
	for dec.More() {
		var chunk common.TextChunk
		if err := dec.Decode(&chunk); err != nil {
			return nil, fmt.Errorf("decode chunk: %w", err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}
