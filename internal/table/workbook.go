package table

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/xuri/excelize/v2"
)

// DefaultSheet names the worksheet holding the table.
const DefaultSheet = "Results"

// Workbook persists a Table as one worksheet of an xlsx file: row 1 is the
// title, row 2 the header, data from row 3.
type Workbook struct {
	Path  string
	Sheet string
}

func (w Workbook) sheet() string {
	if w.Sheet == "" {
		return DefaultSheet
	}
	return w.Sheet
}

// Load reads the table. A missing file yields an error wrapping fs.ErrNotExist.
func (w Workbook) Load(_ context.Context) (*Table, error) {
	f, err := excelize.OpenFile(w.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("open workbook %s: %w", w.Path, fs.ErrNotExist)
		}
		return nil, fmt.Errorf("open workbook %s: %w", w.Path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	rows, err := f.GetRows(w.sheet())
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", w.sheet(), err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: sheet %s has %d rows", ErrMalformedHeader, w.sheet(), len(rows))
	}

	t := &Table{Header: rows[1]}
	if len(rows[0]) > 0 {
		t.Title = rows[0][0]
	}
	if err := checkHeader(t.Header); err != nil {
		return nil, err
	}
	for _, row := range rows[2:] {
		t.Rows = append(t.Rows, append([]string(nil), row...))
	}
	t.Normalize()
	return t, nil
}

// Save writes the table to a temporary file next to Path and renames it into
// place, so readers never observe a partially written workbook.
func (w Workbook) Save(_ context.Context, t *Table) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid table: %w", err)
	}

	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()
	if err := w.fill(f, t); err != nil {
		return err
	}

	dir := filepath.Dir(w.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create workbook directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(w.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp workbook: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	if _, err := f.WriteTo(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write workbook: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync workbook: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close workbook: %w", err)
	}
	if err := os.Rename(tmpName, w.Path); err != nil {
		return fmt.Errorf("replace workbook %s: %w", w.Path, err)
	}
	return nil
}

func (w Workbook) fill(f *excelize.File, t *Table) error {
	sheet := w.sheet()
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}
	if err := f.SetCellValue(sheet, "A1", t.Title); err != nil {
		return fmt.Errorf("write title: %w", err)
	}
	if err := writeRow(f, sheet, 2, t.Header, false); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range t.Rows {
		if err := writeRow(f, sheet, i+3, row, true); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	for i, width := range t.Widths() {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("column name: %w", err)
		}
		if err := f.SetColWidth(sheet, col, col, float64(width)); err != nil {
			return fmt.Errorf("set width of %s: %w", col, err)
		}
	}
	return nil
}

// writeRow stores cells starting at column A. Data rows keep the serial
// number numeric.
func writeRow(f *excelize.File, sheet string, rowNum int, cells []string, data bool) error {
	values := make([]interface{}, len(cells))
	for i, cell := range cells {
		values[i] = cell
	}
	if data && len(cells) > 0 {
		if serial, err := strconv.Atoi(cells[0]); err == nil {
			values[0] = serial
		}
	}
	start, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, start, &values)
}
