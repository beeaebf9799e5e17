package pipeline

import (
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/common"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/config"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/store"
)

// Counter keys published in the run status document.
const (
	CounterArticles              = "articles"
	CounterChunks                = "chunks"
	CounterExtracted             = "extracted"
	CounterDropped               = "dropped"
	CounterResolvedEntities      = "resolvedEntities"
	CounterResolvedRelationships = "resolvedRelationships"
	CounterNodesWritten          = "nodesWritten"
	CounterEdgesWritten          = "edgesWritten"
	CounterFailedWrites          = "failedWrites"
)

// State is the data flowing between stages of one run. Each stage
// reads the fields of its predecessor and fills in its own; resumed
// stages repopulate them from their artifact instead.
type State struct {
	RunID    string
	Options  config.RunOptions
	Counters map[string]int

	// Flush persists the counters mid-stage, rate-limited by the
	// orchestrator. Long stages call it after updating Counters so
	// status reads see in-flight progress.
	Flush func()

	Articles  []common.Article
	Chunks    []common.TextChunk
	Mentions  []common.CandidateMention
	Relations []common.CandidateRelation
	Graph     common.ResolvedGraph
	Report    store.LoadReport
}

func newState(runID string, opts config.RunOptions) *State {
	return &State{RunID: runID, Options: opts, Counters: map[string]int{}, Flush: func() {}}
}
