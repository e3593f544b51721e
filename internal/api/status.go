package api

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/result-harvester/internal/progress"
)

// RunSnapshot is the JSON view of the current or last batch.
type RunSnapshot struct {
	RunID      string         `json:"run_id"`
	State      string         `json:"state"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Current    string         `json:"current_identifier,omitempty"`
	Attempt    int            `json:"current_attempt,omitempty"`
	Outcomes   map[string]int `json:"outcomes"`
	LastSerial int            `json:"last_serial,omitempty"`
}

// Status is a progress.Sink that keeps the latest run in memory for /v1/run.
type Status struct {
	mu      sync.RWMutex
	snap    RunSnapshot
	started bool
}

// NewStatus returns an empty Status.
func NewStatus() *Status {
	return &Status{}
}

// Consume folds evt into the snapshot.
func (s *Status) Consume(_ context.Context, evt progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch evt.Stage {
	case progress.StageRunStart:
		s.started = true
		s.snap = RunSnapshot{
			RunID:     evt.RunUUID().String(),
			State:     "running",
			StartedAt: evt.TS,
			Outcomes:  map[string]int{},
		}
	case progress.StageAttempt:
		s.snap.Current = evt.Identifier
		s.snap.Attempt = evt.Attempt
	case progress.StageIdentifierDone:
		s.snap.Current = ""
		s.snap.Attempt = 0
		if s.snap.Outcomes == nil {
			s.snap.Outcomes = map[string]int{}
		}
		s.snap.Outcomes[evt.Outcome]++
		if evt.Serial > 0 {
			s.snap.LastSerial = evt.Serial
		}
	case progress.StageRunDone, progress.StageRunCanceled:
		ts := evt.TS
		s.snap.FinishedAt = &ts
		s.snap.Current = ""
		s.snap.State = "finished"
		if evt.Stage == progress.StageRunCanceled {
			s.snap.State = "canceled"
		}
	}
	return nil
}

// Close is a no-op.
func (s *Status) Close(context.Context) error {
	return nil
}

// Snapshot returns a copy of the run state; ok is false before any run.
func (s *Status) Snapshot() (RunSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return RunSnapshot{}, false
	}
	out := s.snap
	out.Outcomes = make(map[string]int, len(s.snap.Outcomes))
	for k, v := range s.snap.Outcomes {
		out.Outcomes[k] = v
	}
	return out, true
}
