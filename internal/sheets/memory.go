// internal/sheets/memory.go
package sheets

import (
	"context"
	"sync"

	apperrors "mailmerge-workers/internal/common/errors"
)

// MemoryStore keeps sheets in process memory. Used by tests, dry runs and the CLI seed command.
type MemoryStore struct {
	mu     sync.Mutex
	sheets map[string]*memorySheet
}

type memorySheet struct {
	headers    []string
	boldHeader bool
	rows       [][]string // rows[0] is sheet row 2
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sheets: make(map[string]*memorySheet)}
}

// Put replaces a sheet's header and data rows.
func (m *MemoryStore) Put(sheet string, headers []string, rows ...[]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := &memorySheet{headers: append([]string(nil), headers...)}
	for _, r := range rows {
		s.rows = append(s.rows, append([]string(nil), r...))
	}
	m.sheets[sheet] = s
}

// Cell returns a value by sheet row number and zero-based column.
func (m *MemoryStore) Cell(sheet string, row, column int) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sheets[sheet]
	if !ok {
		return ""
	}
	if row == HeaderRow {
		if column < len(s.headers) {
			return s.headers[column]
		}
		return ""
	}
	i := row - HeaderRow - 1
	if i < 0 || i >= len(s.rows) || column >= len(s.rows[i]) {
		return ""
	}
	return s.rows[i][column]
}

// HeaderBold reports whether EnsureHeader formatted the header.
func (m *MemoryStore) HeaderBold(sheet string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sheets[sheet]
	return ok && s.boldHeader
}

// RowCount returns the number of data rows.
func (m *MemoryStore) RowCount(sheet string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sheets[sheet]; ok {
		return len(s.rows)
	}
	return 0
}

func (m *MemoryStore) ReadTable(_ context.Context, sheet string) (*Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sheets[sheet]
	if !ok {
		return nil, apperrors.NewNotFoundError("sheet", sheet)
	}

	rows := make([]Row, 0, len(s.rows))
	for i, r := range s.rows {
		rows = append(rows, Row{Number: HeaderRow + 1 + i, Cells: append([]string(nil), r...)})
	}
	return NewTable(sheet, s.headers, rows), nil
}

func (m *MemoryStore) WriteCell(_ context.Context, sheet string, row, column int, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sheets[sheet]
	if !ok {
		return apperrors.NewNotFoundError("sheet", sheet)
	}
	if row <= HeaderRow || column < 0 {
		return apperrors.NewInvalidInputError("cell", "cannot write outside the data area")
	}

	i := row - HeaderRow - 1
	for len(s.rows) <= i {
		s.rows = append(s.rows, nil)
	}
	for len(s.rows[i]) <= column {
		s.rows[i] = append(s.rows[i], "")
	}
	s.rows[i][column] = value
	return nil
}

func (m *MemoryStore) AppendRows(_ context.Context, sheet string, rows [][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sheets[sheet]
	if !ok {
		return apperrors.NewNotFoundError("sheet", sheet)
	}
	for _, r := range rows {
		s.rows = append(s.rows, append([]string(nil), r...))
	}
	return nil
}

func (m *MemoryStore) EnsureHeader(_ context.Context, sheet string, headers []string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sheets[sheet]
	if !ok {
		s = &memorySheet{}
		m.sheets[sheet] = s
	}

	if isBlank(s.headers) {
		s.headers = append([]string(nil), headers...)
		s.boldHeader = true
		return true, nil
	}
	if !SameHeaders(s.headers, headers) {
		return false, apperrors.NewConfigurationErrorf("sheet %q header does not match the expected columns", sheet)
	}
	return false, nil
}
