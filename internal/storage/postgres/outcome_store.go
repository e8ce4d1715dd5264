package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/uiblocks-harvester/internal/outcome"
)

// OutcomeStore inserts request outcomes; it satisfies outcome.Sink.
type OutcomeStore struct {
	pool  execCloser
	table string
}

// NewOutcomeStore wraps an existing pool (a *pgxpool.Pool or a pgxmock pool).
func NewOutcomeStore(pool execCloser, table string) (*OutcomeStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, "harvest_outcomes")
	if err != nil {
		return nil, err
	}
	return &OutcomeStore{pool: pool, table: name}, nil
}

// Close releases the underlying pool resources.
func (s *OutcomeStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Append implements outcome.Sink.
func (s *OutcomeStore) Append(ctx context.Context, rec outcome.Record) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("outcome store is not configured")
	}
	if rec.Address == "" {
		return fmt.Errorf("outcome address is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	unit,
	variant,
	address,
	status_code,
	bytes,
	duration_ms,
	sha256,
	attempt,
	error,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)`, s.table)

	args := []any{
		rec.RunID,
		rec.Unit,
		rec.Variant,
		rec.Address,
		rec.Status,
		rec.Bytes,
		rec.DurationMS,
		rec.SHA256,
		rec.Attempt,
		rec.Error,
		rec.At,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}
