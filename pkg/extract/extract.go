package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/internal/util"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/common"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/logger"
)

var (
	// ErrUnavailable marks transport failures, timeouts and 5xx
	// responses from the extraction backend. Retryable.
	ErrUnavailable = errors.New("extraction backend unavailable")

	// ErrMalformed marks responses that could not be parsed even
	// after repair. The chunk is quarantined, not retried.
	ErrMalformed = errors.New("extraction response malformed")
)

// Extraction is one chunk's worth of adapter output. Mention ids are
// assigned later by the stage, in chunk order.
type Extraction struct {
	Mentions  []common.CandidateMention
	Relations []common.CandidateRelation
}

// Adapter turns a text chunk into candidate mentions and relations.
type Adapter interface {
	Extract(ctx context.Context, chunk common.TextChunk) (Extraction, error)
}

// Stage fans chunks out to the extraction adapter with a bounded
// worker count and reassembles the results in chunk order.
type Stage struct {
	adapter Adapter
	baseDir string
	workers int
	limiter *rate.Limiter
	backoff util.Backoff
}

type StageParams struct {
	Adapter Adapter
	BaseDir string
	Workers int

	// Limiter caps adapter calls across all workers. Optional.
	Limiter *rate.Limiter
	Backoff util.Backoff
}

func NewStage(params StageParams) *Stage {
	workers := params.Workers
	if workers < 1 {
		workers = 1
	}
	backoff := params.Backoff
	if backoff.MaxTries == 0 {
		backoff = util.DefaultBackoff
	}
	return &Stage{
		adapter: params.Adapter,
		baseDir: params.BaseDir,
		workers: workers,
		limiter: params.Limiter,
		backoff: backoff,
	}
}

// Result carries the ordered mentions and relations plus quarantine
// bookkeeping.
type Result struct {
	Mentions       []common.CandidateMention
	Relations      []common.CandidateRelation
	Quarantined    int
	MentionsPath   string
	QuarantinePath string
}

type quarantineEntry struct {
	ChunkID string `json:"chunk_id"`
	Error   string `json:"error"`
}

// Progress is the running tally reported while a batch extracts.
// Quarantined chunks count as finished.
type Progress struct {
	Chunks      int
	Total       int
	Mentions    int
	Quarantined int
}

// Run extracts every chunk. Transient backend errors are retried with
// backoff; malformed responses quarantine the chunk and continue. Any
// other error fails the stage.
func (s *Stage) Run(ctx context.Context, runID string, chunks []common.TextChunk) (Result, error) {
	return s.RunWithProgress(ctx, runID, chunks, nil)
}

// RunWithProgress is Run with a per-chunk progress callback, invoked
// with running totals as workers finish. Optional.
func (s *Stage) RunWithProgress(ctx context.Context, runID string, chunks []common.TextChunk, report func(Progress)) (Result, error) {
	extractions := make([]Extraction, len(chunks))
	var mu sync.Mutex
	var quarantined []quarantineEntry
	progress := Progress{Total: len(chunks)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, chunk := range chunks {
		g.Go(func() error {
			if s.limiter != nil {
				if err := s.limiter.Wait(gctx); err != nil {
					return err
				}
			}

			extraction, err := util.RetryWithContext(gctx, s.backoff, func(err error) bool {
				return errors.Is(err, ErrUnavailable)
			}, func(ctx context.Context) (Extraction, error) {
				return s.adapter.Extract(ctx, chunk)
			})
			if err != nil {
				if errors.Is(err, ErrMalformed) {
					logger.Warn("[Extract] Quarantining chunk", "chunk", chunk.ID, "err", err)
					mu.Lock()
					quarantined = append(quarantined, quarantineEntry{ChunkID: chunk.ID, Error: err.Error()})
					progress.Chunks++
					progress.Quarantined = len(quarantined)
					if report != nil {
						report(progress)
					}
					mu.Unlock()
					return nil
				}
				return fmt.Errorf("extract chunk %s: %w", chunk.ID, err)
			}

			extractions[i] = extraction
			mu.Lock()
			progress.Chunks++
			progress.Mentions += len(extraction.Mentions)
			if report != nil {
				report(progress)
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	result := assemble(chunks, extractions)
	result.Quarantined = len(quarantined)

	mentionsPath, err := s.writeMentions(runID, result)
	if err != nil {
		return result, err
	}
	result.MentionsPath = mentionsPath

	if len(quarantined) > 0 {
		quarantinePath, err := s.writeQuarantine(runID, quarantined)
		if err != nil {
			return result, err
		}
		result.QuarantinePath = quarantinePath
	}

	logger.Info("[Extract] Stage complete",
		"chunks", len(chunks), "mentions", len(result.Mentions),
		"relations", len(result.Relations), "quarantined", result.Quarantined)
	return result, nil
}

// assemble flattens per-chunk extractions in chunk order and assigns
// zero-padded sequential mention ids, so identical input always yields
// identical ids regardless of worker scheduling.
func assemble(chunks []common.TextChunk, extractions []Extraction) Result {
	var result Result
	seq := 0
	for i, chunk := range chunks {
		for _, mention := range extractions[i].Mentions {
			mention.ID = fmt.Sprintf("m%06d", seq)
			seq++
			mention.ChunkID = chunk.ID
			mention.ArticleID = chunk.ArticleID
			mention.Type = common.NormalizeEntityType(mention.Type)
			result.Mentions = append(result.Mentions, mention)
		}
		for _, relation := range extractions[i].Relations {
			relation.ChunkID = chunk.ID
			relation.ArticleID = chunk.ArticleID
			if strings.TrimSpace(relation.Subject) == "" || strings.TrimSpace(relation.Object) == "" {
				continue
			}
			result.Relations = append(result.Relations, relation)
		}
	}
	return result
}

type mentionsArtifact struct {
	Mentions  []common.CandidateMention  `json:"mentions"`
	Relations []common.CandidateRelation `json:"relations"`
}

func (s *Stage) writeMentions(runID string, result Result) (string, error) {
	dir := filepath.Join(s.baseDir, "processed")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create processed dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("mentions_%s.json", runID))
	data, err := json.Marshal(mentionsArtifact{Mentions: result.Mentions, Relations: result.Relations})
	if err != nil {
		return "", fmt.Errorf("encode mentions: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write mentions: %w", err)
	}
	return path, nil
}

func (s *Stage) writeQuarantine(runID string, entries []quarantineEntry) (string, error) {
	path := filepath.Join(s.baseDir, "processed", fmt.Sprintf("quarantine_%s.jsonl", runID))
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create quarantine file: %w", err)
	}
	enc := json.NewEncoder(f)
	for _, entry := range entries {
		if err := enc.Encode(entry); err != nil {
			f.Close()
			return "", fmt.Errorf("encode quarantine entry: %w", err)
		}
	}
	return path, f.Close()
}

// LoadMentions reads a mentions artifact back, for resumed runs.
func LoadMentions(path string) ([]common.CandidateMention, []common.CandidateRelation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open mentions file: %w", err)
	}
	var artifact mentionsArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, nil, fmt.Errorf("decode mentions file: %w", err)
	}
	return artifact.Mentions, artifact.Relations, nil
}
