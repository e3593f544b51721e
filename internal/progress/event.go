// Package progress defines the event structures emitted by the batch runner.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart       Stage = "RUN_START"
	StageRunDone        Stage = "RUN_DONE"
	StageRunCanceled    Stage = "RUN_CANCELED"
	StageAttempt        Stage = "ATTEMPT"
	StageIdentifierDone Stage = "IDENTIFIER_DONE"
)

// Event captures a single milestone of a batch run.
type Event struct {
	// RunID uniquely identifies a batch run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle milestone occurred.
	Stage Stage
	// Identifier is the enrollment identifier for attempt and identifier events.
	Identifier string
	// Attempt is the attempt number for ATTEMPT events and the number of
	// attempts used for IDENTIFIER_DONE events.
	Attempt int
	// Outcome is the attempt outcome (accepted, rejected, timed_out) or the
	// identifier label (merged, not_found, ...).
	Outcome string
	// Serial is the table row assigned on merge, zero otherwise.
	Serial int
	// Dur captures attempt, identifier or run latency.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunCanceled:
	case StageAttempt:
		if e.Identifier == "" {
			return errors.New("attempt requires identifier")
		}
		if e.Attempt <= 0 {
			return errors.New("attempt number must be > 0")
		}
		if e.Outcome == "" {
			return errors.New("attempt requires outcome")
		}
	case StageIdentifierDone:
		if e.Identifier == "" {
			return errors.New("identifier done requires identifier")
		}
		if e.Outcome == "" {
			return errors.New("identifier done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
