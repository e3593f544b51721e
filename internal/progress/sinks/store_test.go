package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/result-harvester/internal/harvest"
	"github.com/JakeFAU/result-harvester/internal/progress"
	"github.com/JakeFAU/result-harvester/internal/store"
)

// TestStoreSinkPersistsRun ensures outcomes are written and counters tallied per run.
func TestStoreSinkPersistsRun(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	runUUID := uuid.New()
	runID := progress.UUIDToBytes(runUUID)
	now := time.Now()

	events := []progress.Event{
		{RunID: runID, Stage: progress.StageRunStart, TS: now},
		{RunID: runID, Stage: progress.StageIdentifierDone, Identifier: "A1", Outcome: harvest.LabelMerged, Attempt: 1, Serial: 1, TS: now},
		{RunID: runID, Stage: progress.StageIdentifierDone, Identifier: "A2", Outcome: harvest.LabelMerged, Attempt: 2, Serial: 2, TS: now},
		{RunID: runID, Stage: progress.StageIdentifierDone, Identifier: "A3", Outcome: harvest.LabelNotFound, Attempt: 1, TS: now},
		{RunID: runID, Stage: progress.StageIdentifierDone, Identifier: "A4", Outcome: harvest.LabelRejected, Attempt: 3, TS: now},
		{RunID: runID, Stage: progress.StageIdentifierDone, Identifier: "A5", Outcome: harvest.LabelNoOption, TS: now},
		{RunID: runID, Stage: progress.StageAttempt, Identifier: "A5", Attempt: 1, Outcome: "accepted", TS: now},
		{RunID: runID, Stage: progress.StageRunDone, TS: now.Add(time.Minute)},
	}
	for _, evt := range events {
		require.NoError(t, sink.Consume(context.Background(), evt))
	}

	require.Equal(t, []uuid.UUID{runUUID}, repo.starts)
	require.Len(t, repo.outcomes, 5)
	require.Equal(t, "A2", repo.outcomes[1].Identifier)
	require.Equal(t, 2, repo.outcomes[1].Serial)
	require.Len(t, repo.completes, 1)
	require.Equal(t, store.RunFinished, repo.completes[0].status)
	require.Equal(t, store.RunCounts{Merged: 2, NotFound: 1, Rejected: 1, Failed: 1}, repo.completes[0].counts)
	require.NoError(t, sink.Close(context.Background()))
}

// TestStoreSinkCanceledRun marks interrupted runs as canceled.
func TestStoreSinkCanceledRun(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)
	runID := progress.UUIDToBytes(uuid.New())
	require.NoError(t, sink.Consume(context.Background(), progress.Event{RunID: runID, Stage: progress.StageRunCanceled, TS: time.Now()}))
	require.Len(t, repo.completes, 1)
	require.Equal(t, store.RunCanceled, repo.completes[0].status)
}

// TestStoreSinkHandlesErrors surfaces repository failures back to the caller.
func TestStoreSinkHandlesErrors(t *testing.T) {
	t.Parallel()

	repo := &fakeRunRepo{fail: true}
	sink := NewStoreSink(repo, nil)
	runID := progress.UUIDToBytes(uuid.New())
	for _, stage := range []progress.Stage{progress.StageRunStart, progress.StageIdentifierDone, progress.StageRunDone} {
		err := sink.Consume(context.Background(), progress.Event{RunID: runID, Stage: stage, Identifier: "x", Outcome: "merged", TS: time.Now()})
		require.Error(t, err, stage)
	}

	var nilSink *StoreSink
	require.NoError(t, nilSink.Consume(context.Background(), progress.Event{}))
}

type completeCall struct {
	runID  uuid.UUID
	status store.RunStatus
	counts store.RunCounts
}

type fakeRunRepo struct {
	fail      bool
	starts    []uuid.UUID
	outcomes  []store.IdentifierOutcome
	completes []completeCall
}

func (f *fakeRunRepo) UpsertRunStart(_ context.Context, runID uuid.UUID, _ time.Time) error {
	if f.fail {
		return assertErr("start")
	}
	f.starts = append(f.starts, runID)
	return nil
}

func (f *fakeRunRepo) CompleteRun(_ context.Context, runID uuid.UUID, _ time.Time, status store.RunStatus, counts store.RunCounts) error {
	if f.fail {
		return assertErr("complete")
	}
	f.completes = append(f.completes, completeCall{runID: runID, status: status, counts: counts})
	return nil
}

func (f *fakeRunRepo) RecordOutcome(_ context.Context, outcome store.IdentifierOutcome) error {
	if f.fail {
		return assertErr("outcome")
	}
	f.outcomes = append(f.outcomes, outcome)
	return nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
