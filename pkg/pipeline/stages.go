package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/common"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/extract"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/ingest"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/leaselock"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/logger"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/preprocess"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/resolve"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/store"
)

// Stage names, in execution order.
const (
	StageIngestion     = "ingestion"
	StagePreprocessing = "preprocessing"
	StageExtraction    = "extraction"
	StageResolution    = "resolution"
	StageLoading       = "loading"
)

var StageOrder = []string{
	StageIngestion, StagePreprocessing, StageExtraction, StageResolution, StageLoading,
}

// KnownStage reports whether name is a pipeline stage.
func KnownStage(name string) bool {
	for _, stage := range StageOrder {
		if stage == name {
			return true
		}
	}
	return false
}

// Stage is one unit of the pipeline. Execute runs it and returns a
// reference to the artifact it produced; Resume repopulates the state
// from that artifact when a checkpoint says the work is already done.
type Stage interface {
	Name() string
	Execute(ctx context.Context, st *State) (artifactRef string, err error)
	Resume(ctx context.Context, st *State, artifactRef string) error
}

// StageDeps wires the concrete stage implementations together.
type StageDeps struct {
	Ingest     *ingest.Stage
	Preprocess *preprocess.Stage
	Extract    *extract.Stage

	Threshold float64
	BaseDir   string

	Store store.GraphStore
	// Locks serializes loading per graph. Optional; without it loads
	// rely on upsert idempotency alone.
	Locks   *leaselock.Client
	GraphID string
}

// NewStages builds the five pipeline stages in execution order.
func NewStages(deps StageDeps) []Stage {
	graphID := deps.GraphID
	if graphID == "" {
		graphID = "main"
	}
	return []Stage{
		&ingestionStage{stage: deps.Ingest},
		&preprocessingStage{stage: deps.Preprocess},
		&extractionStage{stage: deps.Extract},
		&resolutionStage{threshold: deps.Threshold, baseDir: deps.BaseDir},
		&loadingStage{store: deps.Store, locks: deps.Locks, graphID: graphID},
	}
}

// transient classifies err as retryable, except cancellations, which
// pass through so the retry loop can stop on them.
func transient(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &TransientExternalError{Err: err}
}

type ingestionStage struct {
	stage *ingest.Stage
}

func (s *ingestionStage) Name() string { return StageIngestion }

func (s *ingestionStage) Execute(ctx context.Context, st *State) (string, error) {
	articles, err := s.stage.Run(ctx, st.Options)
	if err != nil {
		// News APIs fail transiently far more often than terminally.
		return "", transient(err)
	}
	st.Articles = articles
	st.Counters[CounterArticles] = len(articles)
	return "raw", nil
}

func (s *ingestionStage) Resume(ctx context.Context, st *State, _ string) error {
	opts := st.Options
	opts.ReuseRaw = true
	articles, err := s.stage.Run(ctx, opts)
	if err != nil {
		return err
	}
	st.Articles = articles
	st.Counters[CounterArticles] = len(articles)
	return nil
}

type preprocessingStage struct {
	stage *preprocess.Stage
}

func (s *preprocessingStage) Name() string { return StagePreprocessing }

func (s *preprocessingStage) Execute(ctx context.Context, st *State) (string, error) {
	result, err := s.stage.Run(ctx, st.RunID, st.Articles)
	if err != nil {
		return "", err
	}
	st.Chunks = result.Chunks
	st.Counters[CounterChunks] = len(result.Chunks)
	st.Counters[CounterDropped] += result.Dropped
	return result.ArtifactPath, nil
}

func (s *preprocessingStage) Resume(_ context.Context, st *State, artifactRef string) error {
	chunks, err := preprocess.LoadChunks(artifactRef)
	if err != nil {
		return err
	}
	st.Chunks = chunks
	st.Counters[CounterChunks] = len(chunks)
	return nil
}

type extractionStage struct {
	stage *extract.Stage
}

func (s *extractionStage) Name() string { return StageExtraction }

func (s *extractionStage) Execute(ctx context.Context, st *State) (string, error) {
	// Extraction dominates run time, so its running tally is flushed
	// to the registry as workers finish chunks.
	result, err := s.stage.RunWithProgress(ctx, st.RunID, st.Chunks, func(p extract.Progress) {
		st.Counters[CounterExtracted] = p.Mentions
		st.Flush()
	})
	if err != nil {
		if errors.Is(err, extract.ErrUnavailable) {
			return "", transient(err)
		}
		return "", err
	}
	st.Mentions = result.Mentions
	st.Relations = result.Relations
	st.Counters[CounterExtracted] = len(result.Mentions)
	st.Counters[CounterDropped] += result.Quarantined
	return result.MentionsPath, nil
}

func (s *extractionStage) Resume(_ context.Context, st *State, artifactRef string) error {
	mentions, relations, err := extract.LoadMentions(artifactRef)
	if err != nil {
		return err
	}
	st.Mentions = mentions
	st.Relations = relations
	st.Counters[CounterExtracted] = len(mentions)
	return nil
}

type resolutionStage struct {
	threshold float64
	baseDir   string
}

func (s *resolutionStage) Name() string { return StageResolution }

func (s *resolutionStage) Execute(ctx context.Context, st *State) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	resolver := resolve.NewResolver(s.threshold)
	result := resolver.Resolve(st.Mentions, st.Relations)

	st.Graph = result.Graph
	st.Counters[CounterResolvedEntities] = len(result.Graph.Entities)
	st.Counters[CounterResolvedRelationships] = len(result.Graph.Relationships)
	st.Counters[CounterDropped] += result.DroppedMentions + result.DroppedRelations

	path, err := s.writeGraph(st.RunID, result.Graph)
	if err != nil {
		return "", err
	}
	return path, nil
}

func (s *resolutionStage) Resume(_ context.Context, st *State, artifactRef string) error {
	graph, err := LoadGraph(artifactRef)
	if err != nil {
		return err
	}
	st.Graph = graph
	st.Counters[CounterResolvedEntities] = len(graph.Entities)
	st.Counters[CounterResolvedRelationships] = len(graph.Relationships)
	return nil
}

func (s *resolutionStage) writeGraph(runID string, graph common.ResolvedGraph) (string, error) {
	dir := filepath.Join(s.baseDir, "processed")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("resolved_%s.json", runID))
	payload, err := json.Marshal(graph)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// LoadGraph reads a resolution artifact back.
func LoadGraph(path string) (common.ResolvedGraph, error) {
	var graph common.ResolvedGraph
	payload, err := os.ReadFile(path)
	if err != nil {
		return graph, err
	}
	if err := json.Unmarshal(payload, &graph); err != nil {
		return graph, fmt.Errorf("parse resolved graph %s: %w", path, err)
	}
	return graph, nil
}

type loadingStage struct {
	store   store.GraphStore
	locks   *leaselock.Client
	graphID string
}

func (s *loadingStage) Name() string { return StageLoading }

func (s *loadingStage) Execute(ctx context.Context, st *State) (string, error) {
	if err := s.store.EnsureConstraints(ctx); err != nil {
		return "", transient(fmt.Errorf("ensure constraints: %w", err))
	}

	load := func(ctx context.Context) error {
		report, err := s.store.UpsertGraph(ctx, st.Graph)
		st.Report = report
		st.Counters[CounterNodesWritten] = report.NodesWritten
		st.Counters[CounterEdgesWritten] = report.EdgesWritten
		st.Counters[CounterFailedWrites] = len(report.Failed)
		return err
	}

	var err error
	if s.locks != nil {
		err = s.locks.WithLease(ctx, leaselock.GraphKey(s.graphID), leaselock.Options{Wait: true}, load)
	} else {
		err = load(ctx)
	}
	if err != nil {
		return "", transient(err)
	}
	if st.Report.Partial() {
		logger.Warn("[Pipeline] Partial load", "run", st.RunID, "failed", len(st.Report.Failed))
	}
	return "", nil
}

func (s *loadingStage) Resume(_ context.Context, _ *State, _ string) error {
	// Loading leaves no artifact to reload; the graph is in the store.
	return nil
}
