// Package store declares interfaces for persisting batch run history.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// RunStatus mirrors the harvest_runs status column.
type RunStatus string

// Batch run statuses persisted in harvest_runs.status.
const (
	RunRunning  RunStatus = "running"
	RunFinished RunStatus = "finished"
	RunCanceled RunStatus = "canceled"
)

// RunCounts are the per-outcome identifier totals of a run.
type RunCounts struct {
	Merged   int64
	NotFound int64
	Rejected int64
	TimedOut int64
	Failed   int64
}

// IdentifierOutcome is the final state of one identifier within a run.
type IdentifierOutcome struct {
	RunID      uuid.UUID
	Identifier string
	// Outcome is a harvest failure label such as "merged" or "timed_out".
	Outcome  string
	Attempts int
	// Serial is the table row number; zero when nothing was merged.
	Serial     int
	FinishedAt time.Time
	Note       string
}

// RunRepository persists batch runs and their identifier outcomes.
type RunRepository interface {
	// UpsertRunStart inserts (or idempotently updates) the started_at timestamp.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// CompleteRun marks the run finished with its final counters.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, counts RunCounts) error
	// RecordOutcome stores the final state of one identifier.
	RecordOutcome(ctx context.Context, outcome IdentifierOutcome) error
}
