package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/result-harvester/internal/store"
)

// RunStore implements the store.RunRepository interface using Postgres.
type RunStore struct {
	db Execer
}

// NewRunStore creates a RunStore over db.
func NewRunStore(db Execer) (*RunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{db: db}, nil
}

// UpsertRunStart inserts or updates a run's start time.
func (s *RunStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO harvest_runs (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status
		WHERE harvest_runs.status <> EXCLUDED.status;
	`
	if _, err := s.db.Exec(ctx, query, runID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run as finished with its final counters.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	counts store.RunCounts,
) error {
	query := `
		UPDATE harvest_runs
		SET finished_at = $1, status = $2, merged = $3, not_found = $4,
			rejected = $5, timed_out = $6, failed = $7
		WHERE id = $8;
	`
	_, err := s.db.Exec(ctx, query,
		finishedAt,
		status,
		counts.Merged,
		counts.NotFound,
		counts.Rejected,
		counts.TimedOut,
		counts.Failed,
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	return nil
}

// RecordOutcome stores the final state of one identifier.
func (s *RunStore) RecordOutcome(ctx context.Context, outcome store.IdentifierOutcome) error {
	query := `
		INSERT INTO harvest_outcomes (run_id, identifier, outcome, attempts, serial, finished_at, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7);
	`
	var serial *int
	if outcome.Serial > 0 {
		serial = &outcome.Serial
	}
	var note *string
	if outcome.Note != "" {
		note = &outcome.Note
	}
	_, err := s.db.Exec(ctx, query,
		outcome.RunID,
		outcome.Identifier,
		outcome.Outcome,
		outcome.Attempts,
		serial,
		outcome.FinishedAt,
		note,
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}
