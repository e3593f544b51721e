package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/result-harvester/internal/harvest"
	"github.com/JakeFAU/result-harvester/internal/progress"
	"github.com/JakeFAU/result-harvester/internal/store"
)

// StoreSink persists run history via a store.RunRepository. Identifier
// outcomes are written as they happen; run counters are tallied in memory and
// written once when the run ends.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger

	mu     sync.Mutex
	counts map[uuid.UUID]*store.RunCounts
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger, counts: make(map[uuid.UUID]*store.RunCounts)}
}

// Consume forwards evt to the repository. It respects ctx deadlines and
// returns repository errors wrapped.
func (s *StoreSink) Consume(ctx context.Context, evt progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	runID := evt.RunUUID()
	switch evt.Stage {
	case progress.StageRunStart:
		s.mu.Lock()
		s.counts[runID] = &store.RunCounts{}
		s.mu.Unlock()
		if err := s.repo.UpsertRunStart(ctx, runID, evt.TS); err != nil {
			return fmt.Errorf("upsert run start: %w", err)
		}
	case progress.StageIdentifierDone:
		s.tally(runID, evt.Outcome)
		outcome := store.IdentifierOutcome{
			RunID:      runID,
			Identifier: evt.Identifier,
			Outcome:    evt.Outcome,
			Attempts:   evt.Attempt,
			Serial:     evt.Serial,
			FinishedAt: evt.TS,
			Note:       evt.Note,
		}
		if err := s.repo.RecordOutcome(ctx, outcome); err != nil {
			return fmt.Errorf("record outcome: %w", err)
		}
	case progress.StageRunDone, progress.StageRunCanceled:
		status := store.RunFinished
		if evt.Stage == progress.StageRunCanceled {
			status = store.RunCanceled
		}
		counts := s.take(runID)
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, status, counts); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) tally(runID uuid.UUID, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := s.counts[runID]
	if counts == nil {
		counts = &store.RunCounts{}
		s.counts[runID] = counts
	}
	switch label {
	case harvest.LabelMerged:
		counts.Merged++
	case harvest.LabelNotFound:
		counts.NotFound++
	case harvest.LabelRejected:
		counts.Rejected++
	case harvest.LabelTimedOut:
		counts.TimedOut++
	default:
		counts.Failed++
	}
}

func (s *StoreSink) take(runID uuid.UUID) store.RunCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := s.counts[runID]
	delete(s.counts, runID)
	if counts == nil {
		return store.RunCounts{}
	}
	return *counts
}

// Close logs runs that never reported completion.
func (s *StoreSink) Close(context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for runID := range s.counts {
		s.logger.Warn("run closed without completion event", zap.String("run_id", runID.String()))
	}
	return nil
}
