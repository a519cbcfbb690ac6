// internal/sheets/table.go

// Package sheets reads and writes header-keyed tables held in a workbook or in Postgres.
package sheets

import (
	"context"
	"strings"

	apperrors "mailmerge-workers/internal/common/errors"
)

// HeaderRow is the sheet row number that holds column names; data starts on the next row.
const HeaderRow = 1

// Store is the tabular storage backend.
type Store interface {
	// ReadTable returns the header and every non-empty data row of a sheet.
	ReadTable(ctx context.Context, sheet string) (*Table, error)
	// WriteCell sets one cell. row is the sheet row number, column is zero-based.
	WriteCell(ctx context.Context, sheet string, row, column int, value string) error
	// AppendRows adds rows after the last used row.
	AppendRows(ctx context.Context, sheet string, rows [][]string) error
	// EnsureHeader creates the sheet and a bold header row when absent. It reports whether the
	// header was written and fails with CONFIGURATION_ERROR when an existing header differs.
	EnsureHeader(ctx context.Context, sheet string, headers []string) (bool, error)
}

// Row is one data row. Cells is padded to the header width.
type Row struct {
	Number int
	Cells  []string
}

// Table is a snapshot of a sheet with its header index resolved once.
type Table struct {
	Sheet   string
	Headers []string
	Rows    []Row

	index map[string]int
}

// NewTable trims header names, pads rows to the header width and drops rows with no content.
func NewTable(sheet string, headers []string, rows []Row) *Table {
	t := &Table{Sheet: sheet, index: make(map[string]int, len(headers))}
	for i, h := range headers {
		h = strings.TrimSpace(h)
		t.Headers = append(t.Headers, h)
		if _, dup := t.index[h]; !dup && h != "" {
			t.index[h] = i
		}
	}

	for _, r := range rows {
		if isBlank(r.Cells) {
			continue
		}
		cells := make([]string, len(t.Headers))
		copy(cells, r.Cells)
		t.Rows = append(t.Rows, Row{Number: r.Number, Cells: cells})
	}
	return t
}

// Column resolves a header name to its zero-based index.
func (t *Table) Column(name string) (int, error) {
	idx, ok := t.index[strings.TrimSpace(name)]
	if !ok {
		return -1, apperrors.NewColumnNotFoundError(t.Sheet, name)
	}
	return idx, nil
}

// HasColumn reports whether the header contains name.
func (t *Table) HasColumn(name string) bool {
	_, ok := t.index[strings.TrimSpace(name)]
	return ok
}

// Require fails with CONFIGURATION_ERROR listing every missing header.
func (t *Table) Require(names ...string) error {
	var missing []string
	for _, n := range names {
		if !t.HasColumn(n) {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return apperrors.NewConfigurationErrorf("sheet %q is missing required columns: %s", t.Sheet, strings.Join(missing, ", "))
	}
	return nil
}

// Value returns a cell by column index, empty when out of range.
func (t *Table) Value(row Row, column int) string {
	if column < 0 || column >= len(row.Cells) {
		return ""
	}
	return row.Cells[column]
}

// Get returns a cell by header name, empty when the column is unknown.
func (t *Table) Get(row Row, name string) string {
	idx, ok := t.index[strings.TrimSpace(name)]
	if !ok {
		return ""
	}
	return t.Value(row, idx)
}

// Record maps every named header to the row's value.
func (t *Table) Record(row Row) map[string]string {
	rec := make(map[string]string, len(t.Headers))
	for i, h := range t.Headers {
		if h == "" {
			continue
		}
		if _, seen := rec[h]; seen {
			continue
		}
		rec[h] = t.Value(row, i)
	}
	return rec
}

// ColumnValues returns all values of one column in row order.
func (t *Table) ColumnValues(column int) []string {
	out := make([]string, 0, len(t.Rows))
	for _, r := range t.Rows {
		out = append(out, t.Value(r, column))
	}
	return out
}

// SameHeaders compares two header lists ignoring surrounding whitespace.
func SameHeaders(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if strings.TrimSpace(a[i]) != strings.TrimSpace(b[i]) {
			return false
		}
	}
	return true
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
