// Package harvest defines the core types shared across the result harvesting
// subsystems: student records, submission attempts, and the error taxonomy.
package harvest

import (
	"time"
)

// NotFoundText replaces every fixed field of a record whose source document
// had no student name.
const NotFoundText = "Not Found"

// Outcome is the terminal state of a single form submission attempt.
type Outcome string

// Submission outcomes observed by the portal navigator.
const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeTimedOut Outcome = "timed_out"
)

// Selection captures the form choices made for every identifier in a batch.
type Selection struct {
	// Program is the 1-based program/category code offered on the landing page.
	Program int
	// Semester is matched against the option value, not its label.
	Semester string
	// Grading picks the grading presentation; false selects non-grading.
	Grading bool
}

// Attempt records one pass through FillForm, AwaitCaptcha and Submit.
type Attempt struct {
	Identifier string
	Semester   string
	Grading    bool
	Number     int
	Answer     string
	Outcome    Outcome
	Dialog     string
	Duration   time.Duration
}

// RawDocument is the rendered result page of an accepted attempt.
type RawDocument struct {
	Identifier string
	Markup     []byte
	FetchedAt  time.Time
}

// Record is a parsed student result. Leading fields precede the subject
// columns in the table and trailing fields follow them.
type Record struct {
	Name              string
	Roll              string
	Program           string
	Branch            string
	Semester          string
	Status            string
	Session           string
	ResultDescription string
	SGPA              string
	CGPA              string
	Subjects          *Subjects
	NotFound          bool
}

// NewNotFoundRecord builds the sentinel record used when a document lacks a name.
func NewNotFoundRecord() Record {
	return Record{
		Name:              NotFoundText,
		Roll:              NotFoundText,
		Program:           NotFoundText,
		Branch:            NotFoundText,
		Semester:          NotFoundText,
		Status:            NotFoundText,
		Session:           NotFoundText,
		ResultDescription: NotFoundText,
		SGPA:              NotFoundText,
		CGPA:              NotFoundText,
		Subjects:          NewSubjects(),
		NotFound:          true,
	}
}

// Leading returns the fixed fields placed before the subject columns.
func (r Record) Leading() []string {
	return []string{r.Name, r.Roll, r.Program, r.Branch, r.Semester, r.Status, r.Session}
}

// Trailing returns the fixed fields placed after the subject columns.
func (r Record) Trailing() []string {
	return []string{r.ResultDescription, r.SGPA, r.CGPA}
}

// SubjectSet returns the record's subjects, never nil.
func (r Record) SubjectSet() *Subjects {
	if r.Subjects == nil {
		return NewSubjects()
	}
	return r.Subjects
}

// Subjects is an insertion-ordered subject to grade mapping.
type Subjects struct {
	keys   []string
	grades map[string]string
}

// NewSubjects returns an empty mapping.
func NewSubjects() *Subjects {
	return &Subjects{grades: make(map[string]string)}
}

// Set stores grade under subject. A repeated subject keeps its first position
// and takes the latest grade.
func (s *Subjects) Set(subject, grade string) {
	if _, ok := s.grades[subject]; !ok {
		s.keys = append(s.keys, subject)
	}
	s.grades[subject] = grade
}

// Get returns the grade for subject.
func (s *Subjects) Get(subject string) (string, bool) {
	if s == nil {
		return "", false
	}
	g, ok := s.grades[subject]
	return g, ok
}

// Keys returns subjects in encounter order.
func (s *Subjects) Keys() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.keys...)
}

// Len reports the number of distinct subjects.
func (s *Subjects) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Reset drops every subject.
func (s *Subjects) Reset() {
	s.keys = nil
	s.grades = make(map[string]string)
}
