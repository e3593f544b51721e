package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/result-harvester/internal/harvest"
)

const defaultRecordsTable = "student_results"

// RecordStore mirrors merged table rows into Postgres.
type RecordStore struct {
	db    Execer
	table string
	now   func() time.Time
}

// NewRecordStore creates a RecordStore over db writing into table.
func NewRecordStore(db Execer, table string) (*RecordStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RecordStore{db: db, table: name, now: time.Now}, nil
}

type subjectGrade struct {
	Subject string `json:"subject"`
	Grade   string `json:"grade"`
}

// StoreRecord inserts one merged row.
func (s *RecordStore) StoreRecord(ctx context.Context, runID string, serial int, record harvest.Record) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("record store is not configured")
	}
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	subjectsJSON, err := json.Marshal(orderedSubjects(record.SubjectSet()))
	if err != nil {
		return fmt.Errorf("marshal subjects: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	serial,
	name,
	roll,
	program,
	branch,
	semester,
	status,
	session,
	result_description,
	sgpa,
	cgpa,
	subjects,
	not_found,
	stored_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)`, s.table)

	args := []any{
		runID,
		serial,
		record.Name,
		record.Roll,
		record.Program,
		record.Branch,
		record.Semester,
		record.Status,
		record.Session,
		record.ResultDescription,
		record.SGPA,
		record.CGPA,
		subjectsJSON,
		record.NotFound,
		s.now().UTC(),
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func orderedSubjects(subjects *harvest.Subjects) []subjectGrade {
	out := make([]subjectGrade, 0, subjects.Len())
	for _, key := range subjects.Keys() {
		grade, _ := subjects.Get(key)
		out = append(out, subjectGrade{Subject: key, Grade: grade})
	}
	return out
}
