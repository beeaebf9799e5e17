// Package pgx implements the graph store on Postgres through a pgx
// connection pool. Nodes and edges are single-statement upserts so
// replays and concurrent loaders converge on the same rows.
package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/internal/util"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/common"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/logger"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/store"
)

const (
	pgUniqueViolation   = "23505"
	pgSerializationFail = "40001"
	pgDeadlockDetected  = "40P01"
)

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgxv5.Row
}

// Store satisfies store.GraphStore on Postgres.
type Store struct {
	db            dbConn
	databaseURL   string
	migrationsURL string
	backoff       util.Backoff
}

type Params struct {
	Pool        *pgxpool.Pool
	DatabaseURL string
	// MigrationsURL is a golang-migrate source URL. Defaults to the
	// migrations directory next to the binary.
	MigrationsURL string
	Backoff       util.Backoff
}

func New(params Params) *Store {
	if params.MigrationsURL == "" {
		params.MigrationsURL = "file://migrations"
	}
	if params.Backoff.MaxTries == 0 {
		params.Backoff = util.DefaultBackoff
	}
	return &Store{
		db:            params.Pool,
		databaseURL:   params.DatabaseURL,
		migrationsURL: params.MigrationsURL,
		backoff:       params.Backoff,
	}
}

// EnsureConstraints applies pending migrations. A schema that is
// already current is not an error.
func (s *Store) EnsureConstraints(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := migrate.New(s.migrationsURL, s.databaseURL)
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Provenance merge keeps every record exactly once, so replaying a
// load leaves the row unchanged. Confidence and counts only grow.
const upsertNodeSQL = `
INSERT INTO nodes (id, name, entity_type, aliases, confidence, mention_count, provenance, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
ON CONFLICT (id) DO UPDATE
SET name          = EXCLUDED.name,
    entity_type   = EXCLUDED.entity_type,
    aliases       = EXCLUDED.aliases,
    confidence    = GREATEST(nodes.confidence, EXCLUDED.confidence),
    mention_count = GREATEST(nodes.mention_count, EXCLUDED.mention_count),
    provenance    = (
        SELECT COALESCE(jsonb_agg(DISTINCT p), '[]'::jsonb)
        FROM jsonb_array_elements(nodes.provenance || EXCLUDED.provenance) AS p
    ),
    updated_at    = now();
`

const upsertEdgeSQL = `
INSERT INTO edges (id, subject_id, object_id, edge_type, confidence, support, provenance, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
ON CONFLICT (subject_id, edge_type, object_id) DO UPDATE
SET confidence = CASE
        WHEN EXCLUDED.support >= edges.support THEN EXCLUDED.confidence
        ELSE edges.confidence
    END,
    support    = GREATEST(edges.support, EXCLUDED.support),
    provenance = (
        SELECT COALESCE(jsonb_agg(DISTINCT p), '[]'::jsonb)
        FROM jsonb_array_elements(edges.provenance || EXCLUDED.provenance) AS p
    ),
    updated_at = now();
`

func (s *Store) UpsertNode(ctx context.Context, node common.CanonicalEntity) error {
	aliases, err := json.Marshal(orEmpty(node.Aliases))
	if err != nil {
		return fmt.Errorf("marshal aliases: %w", err)
	}
	provenance, err := json.Marshal(orEmptyProvenance(node.Provenance))
	if err != nil {
		return fmt.Errorf("marshal provenance: %w", err)
	}
	return s.exec(ctx, upsertNodeSQL,
		node.ID, node.Name, node.Type, aliases, node.Confidence, node.Mentions, provenance)
}

func (s *Store) UpsertEdge(ctx context.Context, edge common.CanonicalRelationship) error {
	provenance, err := json.Marshal(orEmptyProvenance(edge.Provenance))
	if err != nil {
		return fmt.Errorf("marshal provenance: %w", err)
	}
	return s.exec(ctx, upsertEdgeSQL,
		edge.ID, edge.SubjectID, edge.ObjectID, edge.Type, edge.Confidence, edge.Support, provenance)
}

// UpsertGraph writes nodes first so edge foreign keys resolve, then
// edges. A failing item is reported and skipped; the batch keeps going.
func (s *Store) UpsertGraph(ctx context.Context, graph common.ResolvedGraph) (store.LoadReport, error) {
	var report store.LoadReport

	for _, node := range graph.Entities {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := s.UpsertNode(ctx, node); err != nil {
			logger.Warn("[Store] Node upsert failed", "id", node.ID, "name", node.Name, "err", err)
			report.Failed = append(report.Failed, store.FailedItem{Kind: "node", ID: node.ID, Err: err.Error()})
			continue
		}
		report.NodesWritten++
	}

	failedNodes := map[string]struct{}{}
	for _, item := range report.Failed {
		failedNodes[item.ID] = struct{}{}
	}

	for _, edge := range graph.Relationships {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		_, badSubject := failedNodes[edge.SubjectID]
		_, badObject := failedNodes[edge.ObjectID]
		if badSubject || badObject {
			report.Failed = append(report.Failed, store.FailedItem{
				Kind: "edge", ID: edge.ID, Err: "endpoint node failed to load",
			})
			continue
		}
		if err := s.UpsertEdge(ctx, edge); err != nil {
			logger.Warn("[Store] Edge upsert failed", "id", edge.ID, "type", edge.Type, "err", err)
			report.Failed = append(report.Failed, store.FailedItem{Kind: "edge", ID: edge.ID, Err: err.Error()})
			continue
		}
		report.EdgesWritten++
	}

	logger.Info("[Store] Graph loaded", "nodes", report.NodesWritten, "edges", report.EdgesWritten, "failed", len(report.Failed))
	return report, nil
}

func (s *Store) Stats(ctx context.Context) (int64, int64, error) {
	var nodes, edges int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM nodes`).Scan(&nodes); err != nil {
		return 0, 0, err
	}
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM edges`).Scan(&edges); err != nil {
		return 0, 0, err
	}
	return nodes, edges, nil
}

// exec runs one statement with bounded backoff on transient failures.
// A unique violation means another loader raced the same key into
// place, so a single immediate replay lands on the conflict path.
func (s *Store) exec(ctx context.Context, sql string, args ...any) error {
	err := util.RetryErrWithContext(ctx, s.backoff, isTransient, func(ctx context.Context) error {
		_, execErr := s.db.Exec(ctx, sql, args...)
		return execErr
	})
	if isUniqueViolation(err) {
		_, err = s.db.Exec(ctx, sql, args...)
	}
	return err
}

func isTransient(err error) bool {
	if pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFail, pgDeadlockDetected:
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func orEmpty(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

func orEmptyProvenance(list []common.ProvenanceRecord) []common.ProvenanceRecord {
	if list == nil {
		return []common.ProvenanceRecord{}
	}
	return list
}
