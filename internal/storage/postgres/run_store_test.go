package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/result-harvester/internal/store"
)

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStore(mock)
	require.NoError(t, err)

	runID := uuid.New()
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(time.Minute)
	counts := store.RunCounts{Merged: 3, NotFound: 1, Rejected: 1}

	mock.ExpectExec("INSERT INTO harvest_runs").
		WithArgs(runID, started, store.RunRunning).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO harvest_outcomes").
		WithArgs(runID, "0805CS241001", "merged", 1, pgxmock.AnyArg(), finished, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE harvest_runs").
		WithArgs(finished, store.RunFinished, int64(3), int64(1), int64(1), int64(0), int64(0), runID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	ctx := context.Background()
	require.NoError(t, runs.UpsertRunStart(ctx, runID, started))
	require.NoError(t, runs.RecordOutcome(ctx, store.IdentifierOutcome{
		RunID:      runID,
		Identifier: "0805CS241001",
		Outcome:    "merged",
		Attempts:   1,
		Serial:     4,
		FinishedAt: finished,
	}))
	require.NoError(t, runs.CompleteRun(ctx, runID, finished, store.RunFinished, counts))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runs, err := NewRunStore(mock)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO harvest_runs").WillReturnError(errors.New("down"))
	mock.ExpectExec("UPDATE harvest_runs").WillReturnError(errors.New("down"))
	mock.ExpectExec("INSERT INTO harvest_outcomes").WillReturnError(errors.New("down"))

	ctx := context.Background()
	require.ErrorContains(t, runs.UpsertRunStart(ctx, uuid.New(), time.Now()), "upsert run start")
	require.ErrorContains(t, runs.CompleteRun(ctx, uuid.New(), time.Now(), store.RunCanceled, store.RunCounts{}), "complete run")
	require.ErrorContains(t, runs.RecordOutcome(ctx, store.IdentifierOutcome{Note: "x"}), "record outcome")
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = NewRunStore(nil)
	require.Error(t, err)
}
