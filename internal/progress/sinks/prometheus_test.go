package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/result-harvester/internal/harvest"
	"github.com/JakeFAU/result-harvester/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	events := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now, Stage: progress.StageAttempt, Identifier: "A1", Attempt: 1, Outcome: string(harvest.OutcomeRejected)},
		{RunID: runID, TS: now, Stage: progress.StageAttempt, Identifier: "A1", Attempt: 2, Outcome: string(harvest.OutcomeAccepted)},
		{RunID: runID, TS: now, Stage: progress.StageIdentifierDone, Identifier: "A1", Attempt: 2, Outcome: harvest.LabelMerged, Serial: 1, Dur: 8 * time.Second},
		{RunID: runID, TS: now, Stage: progress.StageIdentifierDone, Identifier: "A2", Outcome: harvest.LabelTimedOut},
	}
	for _, evt := range events {
		require.NoError(t, sink.Consume(context.Background(), evt))
	}
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsActive))

	require.NoError(t, sink.Consume(context.Background(), progress.Event{RunID: runID, TS: now, Stage: progress.StageRunDone, Dur: time.Minute}))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("finished")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsActive))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.attempts.WithLabelValues("rejected")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.attempts.WithLabelValues("accepted")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.identifiers.WithLabelValues(harvest.LabelMerged)))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.identifiers.WithLabelValues(harvest.LabelTimedOut)))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.rowsMerged))
	require.Equal(t, 1, testutil.CollectAndCount(sink.identifierDuration, "harvester_identifier_duration_seconds"))
}

// TestPrometheusSinkCanceledRun checks canceled runs are labelled separately.
func TestPrometheusSinkCanceledRun(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	require.NoError(t, sink.Consume(context.Background(), progress.Event{RunID: runID, TS: time.Now(), Stage: progress.StageRunStart}))
	require.NoError(t, sink.Consume(context.Background(), progress.Event{RunID: runID, TS: time.Now(), Stage: progress.StageRunCanceled}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues(harvest.LabelCanceled)))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsActive))
}

// TestPrometheusSinkDuplicateRegistration surfaces registry conflicts.
func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
