package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrNotFound signals that the requested run does not exist.
var ErrNotFound = errors.New("run not found")

// RunStatus mirrors the harvest_runs status column.
type RunStatus string

// Run statuses.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run is one harvest_runs row.
type Run struct {
	RunID        string     `json:"run_id"`
	Label        string     `json:"label"`
	Resumed      bool       `json:"resumed"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       RunStatus  `json:"status"`
	UnitsDone    *int       `json:"units_done,omitempty"`
	ErrorMessage *string    `json:"error,omitempty"`
}

type queryExecCloser interface {
	execCloser
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// RunStore tracks run lifecycle rows.
type RunStore struct {
	pool  queryExecCloser
	table string
}

// NewRunStore wraps an existing pool.
func NewRunStore(pool queryExecCloser, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, "harvest_runs")
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, table: name}, nil
}

// Start inserts (or re-marks, on resume) a running row for the run label.
func (s *RunStore) Start(ctx context.Context, runID, label string, resumed bool, at time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, label, resumed, started_at, status)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (run_id) DO UPDATE
SET status = EXCLUDED.status, resumed = EXCLUDED.resumed`, s.table)
	if _, err := s.pool.Exec(ctx, query, runID, label, resumed, at, RunRunning); err != nil {
		return fmt.Errorf("upsert run start: %w", err)
	}
	return nil
}

// Complete marks the run finished with a status, counts and an optional error.
func (s *RunStore) Complete(ctx context.Context, runID string, at time.Time, status RunStatus, units int, errMsg *string) error {
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, units_done = $3, error_message = $4
WHERE run_id = $5`, s.table)
	if _, err := s.pool.Exec(ctx, query, at, status, units, errMsg, runID); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// Get loads a single run or returns ErrNotFound.
func (s *RunStore) Get(ctx context.Context, runID string) (Run, error) {
	query := fmt.Sprintf(`
SELECT run_id, label, resumed, started_at, finished_at, status, units_done, error_message
FROM %s
WHERE run_id = $1`, s.table)
	var run Run
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.RunID,
		&run.Label,
		&run.Resumed,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.UnitsDone,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// List returns runs newest first, optionally filtered by status.
func (s *RunStore) List(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error) {
	query := fmt.Sprintf(`
SELECT run_id, label, resumed, started_at, finished_at, status, units_done, error_message
FROM %s
WHERE ($1::text IS NULL OR status = $1)
ORDER BY started_at DESC
LIMIT $2 OFFSET $3`, s.table)
	rows, err := s.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var run Run
		if err := rows.Scan(
			&run.RunID,
			&run.Label,
			&run.Resumed,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Status,
			&run.UnitsDone,
			&run.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}
