// Package table holds the schema-evolving result table: a title row, a header
// whose subject columns grow as new subjects appear, and one row per merged
// record.
package table

import (
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/JakeFAU/result-harvester/internal/harvest"
)

// DefaultTitle is written above the header of new tables.
const DefaultTitle = "Designed By Moh Technology"

// Fixed header columns around the subject columns.
var (
	LeadingHeaders  = []string{"S.No", "Name", "Roll No", "Program", "Branch", "Semester", "Status", "Session"}
	TrailingHeaders = []string{"Result Description", "SGPA", "CGPA"}
)

// ErrMalformedHeader is returned when a loaded header lacks the fixed columns.
var ErrMalformedHeader = errors.New("malformed table header")

// Table is an in-memory result table. Every row has exactly len(Header) cells.
type Table struct {
	Title  string
	Header []string
	Rows   [][]string
}

// New creates an empty table whose subject columns are subjects, in order.
func New(title string, subjects []string) *Table {
	header := make([]string, 0, len(LeadingHeaders)+len(subjects)+len(TrailingHeaders))
	header = append(header, LeadingHeaders...)
	header = append(header, subjects...)
	header = append(header, TrailingHeaders...)
	return &Table{Title: title, Header: header}
}

// Subjects returns the dynamic subject columns in header order.
func (t *Table) Subjects() []string {
	end := len(t.Header) - len(TrailingHeaders)
	if end < len(LeadingHeaders) {
		return nil
	}
	return append([]string(nil), t.Header[len(LeadingHeaders):end]...)
}

// HasSubject reports whether subject already has a column.
func (t *Table) HasSubject(subject string) bool {
	for _, s := range t.Subjects() {
		if s == subject {
			return true
		}
	}
	return false
}

// EnsureColumn adds subject immediately before the trailing columns and pads
// every existing row with an empty cell. It reports whether a column was added.
func (t *Table) EnsureColumn(subject string) bool {
	if t.HasSubject(subject) {
		return false
	}
	at := len(t.Header) - len(TrailingHeaders)
	t.Header = insertAt(t.Header, at, subject)
	for i, row := range t.Rows {
		t.Rows[i] = insertAt(row, at, "")
	}
	return true
}

// NextSerial is the serial number the next appended row receives.
func (t *Table) NextSerial() int {
	return len(t.Rows) + 1
}

// RowFor lays out record under the current header. Subjects without a column
// are ignored; columns the record lacks are left empty.
func (t *Table) RowFor(serial int, record harvest.Record) []string {
	subjects := record.SubjectSet()
	row := make([]string, 0, len(t.Header))
	row = append(row, strconv.Itoa(serial))
	row = append(row, record.Leading()...)
	for _, subject := range t.Subjects() {
		grade, _ := subjects.Get(subject)
		row = append(row, grade)
	}
	row = append(row, record.Trailing()...)
	return row
}

// Append adds row, which must match the header length.
func (t *Table) Append(row []string) error {
	if len(row) != len(t.Header) {
		return fmt.Errorf("row has %d cells, header has %d", len(row), len(t.Header))
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// Widths returns display widths per column: the longest cell of the header
// and data rows plus two.
func (t *Table) Widths() []int {
	widths := make([]int, len(t.Header))
	measure := func(row []string) {
		for i, cell := range row {
			if i >= len(widths) {
				return
			}
			if n := utf8.RuneCountInString(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}
	measure(t.Header)
	for _, row := range t.Rows {
		measure(row)
	}
	for i := range widths {
		widths[i] += 2
	}
	return widths
}

// Validate checks the fixed columns and the row-length invariant.
func (t *Table) Validate() error {
	if err := checkHeader(t.Header); err != nil {
		return err
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Header) {
			return fmt.Errorf("row %d has %d cells, header has %d", i+1, len(row), len(t.Header))
		}
	}
	return nil
}

// Normalize pads short rows and truncates long ones to the header length.
func (t *Table) Normalize() {
	width := len(t.Header)
	for i, row := range t.Rows {
		switch {
		case len(row) < width:
			padded := make([]string, width)
			copy(padded, row)
			t.Rows[i] = padded
		case len(row) > width:
			t.Rows[i] = row[:width]
		}
	}
}

func checkHeader(header []string) error {
	if len(header) < len(LeadingHeaders)+len(TrailingHeaders) {
		return fmt.Errorf("%w: %d columns", ErrMalformedHeader, len(header))
	}
	for i, want := range LeadingHeaders {
		if header[i] != want {
			return fmt.Errorf("%w: column %d is %q, want %q", ErrMalformedHeader, i+1, header[i], want)
		}
	}
	offset := len(header) - len(TrailingHeaders)
	for i, want := range TrailingHeaders {
		if header[offset+i] != want {
			return fmt.Errorf("%w: column %d is %q, want %q", ErrMalformedHeader, offset+i+1, header[offset+i], want)
		}
	}
	return nil
}

func insertAt(s []string, at int, v string) []string {
	if at > len(s) {
		at = len(s)
	}
	out := make([]string, 0, len(s)+1)
	out = append(out, s[:at]...)
	out = append(out, v)
	return append(out, s[at:]...)
}
