// internal/sheets/xlsx.go
package sheets

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/xuri/excelize/v2"

	apperrors "mailmerge-workers/internal/common/errors"
)

// XLSXStore keeps sheets in one .xlsx workbook. Every mutation is saved to disk before the
// call returns.
type XLSXStore struct {
	path string

	mu sync.Mutex
	f  *excelize.File
}

// OpenXLSX opens path, creating an empty workbook when the file does not exist yet.
func OpenXLSX(path string) (*XLSXStore, error) {
	f, err := excelize.OpenFile(path)
	if errors.Is(err, os.ErrNotExist) {
		f = excelize.NewFile()
		err = nil
	}
	if err != nil {
		return nil, apperrors.NewStorageError("open workbook "+path, err)
	}
	return &XLSXStore{path: path, f: f}, nil
}

func (s *XLSXStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

func (s *XLSXStore) hasSheet(sheet string) bool {
	idx, err := s.f.GetSheetIndex(sheet)
	return err == nil && idx >= 0
}

func (s *XLSXStore) save() error {
	if err := s.f.SaveAs(s.path); err != nil {
		return apperrors.NewStorageError("save workbook "+s.path, err)
	}
	return nil
}

func (s *XLSXStore) ReadTable(_ context.Context, sheet string) (*Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasSheet(sheet) {
		return nil, apperrors.NewNotFoundError("sheet", sheet)
	}
	raw, err := s.f.GetRows(sheet)
	if err != nil {
		return nil, apperrors.NewStorageError("read sheet "+sheet, err)
	}
	if len(raw) == 0 {
		return NewTable(sheet, nil, nil), nil
	}

	rows := make([]Row, 0, len(raw)-1)
	for i, cells := range raw[1:] {
		rows = append(rows, Row{Number: HeaderRow + 1 + i, Cells: cells})
	}
	return NewTable(sheet, raw[0], rows), nil
}

func (s *XLSXStore) WriteCell(_ context.Context, sheet string, row, column int, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasSheet(sheet) {
		return apperrors.NewNotFoundError("sheet", sheet)
	}
	if row <= HeaderRow || column < 0 {
		return apperrors.NewInvalidInputError("cell", "cannot write outside the data area")
	}

	cell, err := excelize.CoordinatesToCellName(column+1, row)
	if err != nil {
		return apperrors.NewInvalidInputError("cell", err.Error())
	}
	if err := s.f.SetCellValue(sheet, cell, value); err != nil {
		return apperrors.NewStorageError("write cell "+cell, err)
	}
	return s.save()
}

func (s *XLSXStore) AppendRows(_ context.Context, sheet string, rows [][]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasSheet(sheet) {
		return apperrors.NewNotFoundError("sheet", sheet)
	}
	existing, err := s.f.GetRows(sheet)
	if err != nil {
		return apperrors.NewStorageError("read sheet "+sheet, err)
	}

	next := len(existing) + 1
	for _, r := range rows {
		if err := s.setRow(sheet, next, r); err != nil {
			return err
		}
		next++
	}
	return s.save()
}

func (s *XLSXStore) EnsureHeader(_ context.Context, sheet string, headers []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasSheet(sheet) {
		if _, err := s.f.NewSheet(sheet); err != nil {
			return false, apperrors.NewStorageError("create sheet "+sheet, err)
		}
	}

	existing, err := s.f.GetRows(sheet)
	if err != nil {
		return false, apperrors.NewStorageError("read sheet "+sheet, err)
	}
	if len(existing) > 0 && !isBlank(existing[0]) {
		if !SameHeaders(existing[0], headers) {
			return false, apperrors.NewConfigurationErrorf("sheet %q header does not match the expected columns", sheet)
		}
		return false, nil
	}

	if err := s.setRow(sheet, HeaderRow, headers); err != nil {
		return false, err
	}

	style, err := s.f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return false, apperrors.NewStorageError("create header style", err)
	}
	last, err := excelize.CoordinatesToCellName(len(headers), HeaderRow)
	if err != nil {
		return false, apperrors.NewInvalidInputError("header", err.Error())
	}
	if err := s.f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return false, apperrors.NewStorageError("style header", err)
	}

	return true, s.save()
}

func (s *XLSXStore) setRow(sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return apperrors.NewInvalidInputError("row", err.Error())
	}
	vals := make([]interface{}, len(values))
	for i, v := range values {
		vals[i] = v
	}
	if err := s.f.SetSheetRow(sheet, cell, &vals); err != nil {
		return apperrors.NewStorageError("write row "+cell, err)
	}
	return nil
}
