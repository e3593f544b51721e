package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/result-harvester/internal/harvest"
)

func record(name string, subjects ...string) harvest.Record {
	s := harvest.NewSubjects()
	for i := 0; i+1 < len(subjects); i += 2 {
		s.Set(subjects[i], subjects[i+1])
	}
	return harvest.Record{
		Name: name, Roll: "R-" + name, Program: "BTech", Branch: "CSE", Semester: "1",
		Status: "Regular", Session: "2024", ResultDescription: "PASS", SGPA: "8", CGPA: "8",
		Subjects: s,
	}
}

func TestNewTableHeaderLayout(t *testing.T) {
	t.Parallel()

	tbl := New(DefaultTitle, []string{"Maths", "Physics"})
	assert.Equal(t, []string{
		"S.No", "Name", "Roll No", "Program", "Branch", "Semester", "Status", "Session",
		"Maths", "Physics", "Result Description", "SGPA", "CGPA",
	}, tbl.Header)
	assert.Equal(t, []string{"Maths", "Physics"}, tbl.Subjects())
	assert.NoError(t, tbl.Validate())
	assert.Equal(t, 1, tbl.NextSerial())
}

func TestEnsureColumnPadsExistingRows(t *testing.T) {
	t.Parallel()

	tbl := New(DefaultTitle, []string{"Maths"})
	require.NoError(t, tbl.Append(tbl.RowFor(1, record("A", "Maths", "A+"))))

	assert.True(t, tbl.EnsureColumn("Chemistry"))
	assert.False(t, tbl.EnsureColumn("Chemistry"))
	assert.False(t, tbl.EnsureColumn("Maths"))

	assert.Equal(t, []string{"Maths", "Chemistry"}, tbl.Subjects())
	require.NoError(t, tbl.Validate())
	assert.Equal(t, "A+", tbl.Rows[0][8])
	assert.Equal(t, "", tbl.Rows[0][9])
	assert.Equal(t, "PASS", tbl.Rows[0][10])
}

func TestRowForUsesHeaderOrder(t *testing.T) {
	t.Parallel()

	tbl := New(DefaultTitle, []string{"Physics", "Maths"})
	row := tbl.RowFor(7, record("B", "Maths", "B", "Biology", "C"))
	assert.Equal(t, []string{
		"7", "B", "R-B", "BTech", "CSE", "1", "Regular", "2024",
		"", "B", "PASS", "8", "8",
	}, row)

	row = tbl.RowFor(1, harvest.Record{Name: "nil subjects"})
	assert.Len(t, row, len(tbl.Header))
}

func TestAppendRejectsWrongLength(t *testing.T) {
	t.Parallel()

	tbl := New(DefaultTitle, nil)
	assert.Error(t, tbl.Append([]string{"1"}))
	assert.Empty(t, tbl.Rows)
}

func TestWidths(t *testing.T) {
	t.Parallel()

	tbl := New(DefaultTitle, []string{"M"})
	require.NoError(t, tbl.Append(tbl.RowFor(1, record("Ananya Krishnamurthy", "M", "A"))))

	widths := tbl.Widths()
	require.Len(t, widths, len(tbl.Header))
	assert.Equal(t, len("S.No")+2, widths[0])
	assert.Equal(t, len("Ananya Krishnamurthy")+2, widths[1])
	assert.Equal(t, len("M")+2, widths[8])
	assert.Equal(t, len("Result Description")+2, widths[9])
}

func TestValidateAndNormalize(t *testing.T) {
	t.Parallel()

	tbl := New(DefaultTitle, []string{"M"})
	tbl.Rows = [][]string{{"1", "short"}, make([]string, len(tbl.Header)+2)}
	assert.Error(t, tbl.Validate())

	tbl.Normalize()
	require.NoError(t, tbl.Validate())
	assert.Equal(t, "short", tbl.Rows[0][1])

	bad := &Table{Header: []string{"S.No", "Name"}}
	assert.ErrorIs(t, bad.Validate(), ErrMalformedHeader)

	swapped := New(DefaultTitle, nil)
	swapped.Header[len(swapped.Header)-1] = "CGPA%"
	assert.ErrorIs(t, swapped.Validate(), ErrMalformedHeader)
}
