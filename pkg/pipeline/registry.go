package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/config"
)

// Run statuses.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

var ErrRunNotFound = errors.New("run not found")

// Run is one pipeline run's registry row.
type Run struct {
	ID              string            `json:"id"`
	Options         config.RunOptions `json:"options"`
	Status          string            `json:"status"`
	Counters        map[string]int    `json:"counters"`
	LastError       string            `json:"lastError,omitempty"`
	CancelRequested bool              `json:"cancelRequested"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// Registry persists run rows. The orchestrator and the API both read
// through it; the cancel flag is how the two communicate.
type Registry interface {
	Create(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context) ([]Run, error)
	UpdateStatus(ctx context.Context, id, status, lastError string) error
	UpdateCounters(ctx context.Context, id string, counters map[string]int) error
	RequestCancel(ctx context.Context, id string) error
	CancelRequested(ctx context.Context, id string) (bool, error)
}

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRegistry keeps runs in the runs table.
type PostgresRegistry struct {
	db dbConn
}

func NewRegistry(db dbConn) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

const runColumns = `id, options, status, counters, COALESCE(last_error, ''), cancel_requested, created_at, updated_at`

func (r *PostgresRegistry) Create(ctx context.Context, run *Run) error {
	options, err := json.Marshal(run.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	counters, err := json.Marshal(orEmptyCounters(run.Counters))
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO runs (id, options, status, counters, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())`,
		run.ID, options, run.Status, counters)
	return err
}

func (r *PostgresRegistry) Get(ctx context.Context, id string) (*Run, error) {
	row := r.db.QueryRow(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (r *PostgresRegistry) List(ctx context.Context) ([]Run, error) {
	rows, err := r.db.Query(ctx, `SELECT `+runColumns+` FROM runs ORDER BY created_at DESC LIMIT 100`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (r *PostgresRegistry) UpdateStatus(ctx context.Context, id, status, lastError string) error {
	return r.update(ctx, `UPDATE runs SET status = $2, last_error = NULLIF($3, ''), updated_at = now() WHERE id = $1`,
		id, status, lastError)
}

func (r *PostgresRegistry) UpdateCounters(ctx context.Context, id string, counters map[string]int) error {
	payload, err := json.Marshal(orEmptyCounters(counters))
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	return r.update(ctx, `UPDATE runs SET counters = $2, updated_at = now() WHERE id = $1`, id, payload)
}

func (r *PostgresRegistry) RequestCancel(ctx context.Context, id string) error {
	return r.update(ctx, `UPDATE runs SET cancel_requested = true, updated_at = now() WHERE id = $1`, id)
}

func (r *PostgresRegistry) CancelRequested(ctx context.Context, id string) (bool, error) {
	var requested bool
	err := r.db.QueryRow(ctx, `SELECT cancel_requested FROM runs WHERE id = $1`, id).Scan(&requested)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrRunNotFound
	}
	return requested, err
}

func (r *PostgresRegistry) update(ctx context.Context, sql string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

func scanRun(row pgx.Row) (*Run, error) {
	var run Run
	var options, counters []byte
	err := row.Scan(&run.ID, &options, &run.Status, &counters,
		&run.LastError, &run.CancelRequested, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(options, &run.Options); err != nil {
		return nil, fmt.Errorf("unmarshal options: %w", err)
	}
	if err := json.Unmarshal(counters, &run.Counters); err != nil {
		return nil, fmt.Errorf("unmarshal counters: %w", err)
	}
	return &run, nil
}

func orEmptyCounters(counters map[string]int) map[string]int {
	if counters == nil {
		return map[string]int{}
	}
	return counters
}
