package pgx

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/internal/util"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/common"
)

type fakeRow struct {
	value int64
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 1 {
		if p, ok := dest[0].(*int64); ok {
			*p = r.value
		}
	}
	return nil
}

// fakeConn returns errs in order per statement key, then succeeds.
type fakeConn struct {
	errs  map[string][]error
	execs []string
	rows  []fakeRow
}

func statementKey(sql string, args []any) string {
	if len(args) > 0 {
		if id, ok := args[0].(string); ok {
			return id
		}
	}
	return sql
}

func (c *fakeConn) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	key := statementKey(sql, args)
	c.execs = append(c.execs, key)
	if queued := c.errs[key]; len(queued) > 0 {
		err := queued[0]
		c.errs[key] = queued[1:]
		return pgconn.CommandTag{}, err
	}
	return pgconn.CommandTag{}, nil
}

func (c *fakeConn) QueryRow(_ context.Context, _ string, _ ...any) pgxv5.Row {
	row := c.rows[0]
	if len(c.rows) > 1 {
		c.rows = c.rows[1:]
	}
	return row
}

func newTestStore(conn *fakeConn) *Store {
	return &Store{
		db:      conn,
		backoff: util.Backoff{MaxTries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
	}
}

func entity(id, name string) common.CanonicalEntity {
	return common.CanonicalEntity{ID: id, Name: name, Type: common.TypeCompany, Confidence: 0.9, Mentions: 1}
}

func TestUpsertGraphCountsNodesAndEdges(t *testing.T) {
	conn := &fakeConn{}
	s := newTestStore(conn)

	report, err := s.UpsertGraph(context.Background(), common.ResolvedGraph{
		Entities: []common.CanonicalEntity{entity("n1", "Apple Inc."), entity("n2", "Beats")},
		Relationships: []common.CanonicalRelationship{
			{ID: "e1", SubjectID: "n1", ObjectID: "n2", Type: "ACQUIRED", Confidence: 0.8, Support: 1},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.NodesWritten != 2 || report.EdgesWritten != 1 {
		t.Errorf("unexpected report: %s", report)
	}
	if report.Partial() {
		t.Errorf("expected clean load, got failures: %v", report.Failed)
	}
}

func TestUpsertGraphSkipsEdgesOfFailedNodes(t *testing.T) {
	permanent := &pgconn.PgError{Code: "42703"}
	conn := &fakeConn{errs: map[string][]error{"n2": {permanent}}}
	s := newTestStore(conn)

	report, err := s.UpsertGraph(context.Background(), common.ResolvedGraph{
		Entities: []common.CanonicalEntity{entity("n1", "Apple Inc."), entity("n2", "Beats")},
		Relationships: []common.CanonicalRelationship{
			{ID: "e1", SubjectID: "n1", ObjectID: "n2", Type: "ACQUIRED"},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.NodesWritten != 1 {
		t.Errorf("expected 1 node written, got %d", report.NodesWritten)
	}
	if report.EdgesWritten != 0 {
		t.Errorf("expected edge to be skipped, got %d written", report.EdgesWritten)
	}
	if len(report.Failed) != 2 {
		t.Fatalf("expected node and edge failures, got %v", report.Failed)
	}
	if report.Failed[1].Kind != "edge" || report.Failed[1].Err != "endpoint node failed to load" {
		t.Errorf("unexpected edge failure: %+v", report.Failed[1])
	}
}

func TestExecRetriesTransientErrors(t *testing.T) {
	transient := &pgconn.PgError{Code: pgSerializationFail}
	conn := &fakeConn{errs: map[string][]error{"n1": {transient, transient}}}
	s := newTestStore(conn)

	if err := s.UpsertNode(context.Background(), entity("n1", "Apple Inc.")); err != nil {
		t.Fatalf("expected retries to succeed, got %v", err)
	}
	if len(conn.execs) != 3 {
		t.Errorf("expected 3 attempts, got %d", len(conn.execs))
	}
}

func TestExecRetriesUniqueViolationOnce(t *testing.T) {
	conflict := &pgconn.PgError{Code: pgUniqueViolation}
	conn := &fakeConn{errs: map[string][]error{"n1": {conflict}}}
	s := newTestStore(conn)

	if err := s.UpsertNode(context.Background(), entity("n1", "Apple Inc.")); err != nil {
		t.Fatalf("expected conflict replay to succeed, got %v", err)
	}
	if len(conn.execs) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(conn.execs))
	}
}

func TestExecGivesUpOnPermanentError(t *testing.T) {
	permanent := &pgconn.PgError{Code: "42703"}
	conn := &fakeConn{errs: map[string][]error{"n1": {permanent, permanent, permanent}}}
	s := newTestStore(conn)

	err := s.UpsertNode(context.Background(), entity("n1", "Apple Inc."))
	if err == nil {
		t.Fatal("expected error")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected pg error, got %v", err)
	}
	if len(conn.execs) != 1 {
		t.Errorf("expected a single attempt, got %d", len(conn.execs))
	}
}

func TestStats(t *testing.T) {
	conn := &fakeConn{rows: []fakeRow{{value: 7}, {value: 3}}}
	s := newTestStore(conn)

	nodes, edges, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if nodes != 7 || edges != 3 {
		t.Errorf("expected 7 nodes and 3 edges, got %d and %d", nodes, edges)
	}
}
