// Package store defines the graph persistence contract the loading
// stage writes through. Implementations live in subpackages.
package store

import (
	"context"
	"fmt"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/common"
)

// FailedItem records one node or edge the store could not persist
// after its retries. Loading continues past it.
type FailedItem struct {
	Kind string `json:"kind"` // "node" or "edge"
	ID   string `json:"id"`
	Err  string `json:"err"`
}

// LoadReport summarizes one UpsertGraph call.
type LoadReport struct {
	NodesWritten int          `json:"nodesWritten"`
	EdgesWritten int          `json:"edgesWritten"`
	Failed       []FailedItem `json:"failed,omitempty"`
}

// Partial reports whether any item failed to load.
func (r LoadReport) Partial() bool {
	return len(r.Failed) > 0
}

func (r LoadReport) String() string {
	return fmt.Sprintf("nodes=%d edges=%d failed=%d", r.NodesWritten, r.EdgesWritten, len(r.Failed))
}

// GraphStore persists the resolved graph. All writes are idempotent
// upserts: replaying the same graph must not duplicate nodes, edges or
// provenance.
type GraphStore interface {
	// EnsureConstraints brings the schema and its uniqueness
	// constraints up to date. Safe to call on every run.
	EnsureConstraints(ctx context.Context) error

	// UpsertNode writes one canonical entity, merging provenance and
	// keeping the highest confidence seen.
	UpsertNode(ctx context.Context, node common.CanonicalEntity) error

	// UpsertEdge writes one canonical relationship keyed by
	// (subject, type, object), merging provenance.
	UpsertEdge(ctx context.Context, edge common.CanonicalRelationship) error

	// UpsertGraph loads a whole resolved graph, nodes before edges.
	// Individual failures are collected in the report rather than
	// aborting the batch.
	UpsertGraph(ctx context.Context, graph common.ResolvedGraph) (LoadReport, error)

	// Stats returns current node and edge counts.
	Stats(ctx context.Context) (nodes, edges int64, err error)
}
