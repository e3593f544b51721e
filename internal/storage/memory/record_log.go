package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/result-harvester/internal/harvest"
)

// MirroredRecord is one row received by RecordLog.
type MirroredRecord struct {
	RunID  string
	Serial int
	Record harvest.Record
}

// RecordLog implements harvest.RecordMirror in-memory.
type RecordLog struct {
	mu      sync.RWMutex
	records []MirroredRecord
}

// NewRecordLog constructs an empty RecordLog.
func NewRecordLog() *RecordLog {
	return &RecordLog{}
}

// StoreRecord appends the row.
func (l *RecordLog) StoreRecord(_ context.Context, runID string, serial int, record harvest.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, MirroredRecord{RunID: runID, Serial: serial, Record: record})
	return nil
}

// Records returns the rows stored for runID in arrival order.
func (l *RecordLog) Records(runID string) []MirroredRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []MirroredRecord
	for _, r := range l.records {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	return out
}
