// internal/sheets/postgres.go
package sheets

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	apperrors "mailmerge-workers/internal/common/errors"
)

const (
	createSheetHeadersSQL = `CREATE TABLE IF NOT EXISTS sheet_headers (
	sheet       TEXT PRIMARY KEY,
	columns     TEXT[] NOT NULL,
	bold_header BOOLEAN NOT NULL DEFAULT FALSE
)`
	createSheetRowsSQL = `CREATE TABLE IF NOT EXISTS sheet_rows (
	sheet      TEXT NOT NULL REFERENCES sheet_headers (sheet) ON DELETE CASCADE,
	row_number INTEGER NOT NULL,
	cells      TEXT[] NOT NULL,
	PRIMARY KEY (sheet, row_number)
)`

	selectHeadersSQL = `SELECT columns FROM sheet_headers WHERE sheet = $1`
	selectRowsSQL    = `SELECT row_number, cells FROM sheet_rows WHERE sheet = $1 ORDER BY row_number`
	insertHeadersSQL = `INSERT INTO sheet_headers (sheet, columns, bold_header) VALUES ($1, $2, TRUE)`
	updateHeadersSQL = `UPDATE sheet_headers SET columns = $2, bold_header = TRUE WHERE sheet = $1`
	updateCellSQL    = `UPDATE sheet_rows SET cells[$3] = $4 WHERE sheet = $1 AND row_number = $2`
	insertCellRowSQL = `INSERT INTO sheet_rows (sheet, row_number, cells) VALUES ($1, $2, $3)`
	maxRowSQL        = `SELECT COALESCE(MAX(row_number), 1) FROM sheet_rows WHERE sheet = $1`
)

// PostgresStore keeps sheets in two tables: sheet_headers and sheet_rows. Row numbers follow the
// workbook convention so status writes address the same rows as the xlsx backend.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates both tables when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range []string{createSheetHeadersSQL, createSheetRowsSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return apperrors.NewStorageError("migrate sheets", err)
		}
	}
	return nil
}

func (s *PostgresStore) headers(ctx context.Context, sheet string) ([]string, error) {
	var headers []string
	err := s.db.QueryRowContext(ctx, selectHeadersSQL, sheet).Scan(pq.Array(&headers))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("sheet", sheet)
	}
	if err != nil {
		return nil, apperrors.NewStorageError("select headers", err)
	}
	return headers, nil
}

func (s *PostgresStore) ReadTable(ctx context.Context, sheet string) (*Table, error) {
	headers, err := s.headers(ctx, sheet)
	if err != nil {
		return nil, err
	}

	rs, err := s.db.QueryContext(ctx, selectRowsSQL, sheet)
	if err != nil {
		return nil, apperrors.NewStorageError("select rows", err)
	}
	defer rs.Close()

	var rows []Row
	for rs.Next() {
		var r Row
		if err := rs.Scan(&r.Number, pq.Array(&r.Cells)); err != nil {
			return nil, apperrors.NewStorageError("scan row", err)
		}
		rows = append(rows, r)
	}
	if err := rs.Err(); err != nil {
		return nil, apperrors.NewStorageError("iterate rows", err)
	}
	return NewTable(sheet, headers, rows), nil
}

func (s *PostgresStore) WriteCell(ctx context.Context, sheet string, row, column int, value string) error {
	if row <= HeaderRow || column < 0 {
		return apperrors.NewInvalidInputError("cell", "cannot write outside the data area")
	}

	// Postgres arrays are one-based.
	res, err := s.db.ExecContext(ctx, updateCellSQL, sheet, row, column+1, value)
	if err != nil {
		return apperrors.NewStorageError("update cell", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewStorageError("update cell", err)
	}
	if n == 0 {
		return apperrors.NewNotFoundError("row", sheet)
	}
	return nil
}

func (s *PostgresStore) AppendRows(ctx context.Context, sheet string, rows [][]string) error {
	headers, err := s.headers(ctx, sheet)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStorageError("begin append", err)
	}
	defer func() { _ = tx.Rollback() }()

	var last int
	if err := tx.QueryRowContext(ctx, maxRowSQL, sheet).Scan(&last); err != nil {
		return apperrors.NewStorageError("select last row", err)
	}

	for i, r := range rows {
		cells := make([]string, len(headers))
		copy(cells, r)
		if _, err := tx.ExecContext(ctx, insertCellRowSQL, sheet, last+1+i, pq.Array(cells)); err != nil {
			return apperrors.NewStorageError("insert row", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewStorageError("commit append", err)
	}
	return nil
}

func (s *PostgresStore) EnsureHeader(ctx context.Context, sheet string, headers []string) (bool, error) {
	existing, err := s.headers(ctx, sheet)
	switch {
	case apperrors.IsNotFound(err):
		if _, err := s.db.ExecContext(ctx, insertHeadersSQL, sheet, pq.Array(headers)); err != nil {
			return false, apperrors.NewStorageError("insert headers", err)
		}
		return true, nil
	case err != nil:
		return false, err
	case isBlank(existing):
		if _, err := s.db.ExecContext(ctx, updateHeadersSQL, sheet, pq.Array(headers)); err != nil {
			return false, apperrors.NewStorageError("update headers", err)
		}
		return true, nil
	case !SameHeaders(existing, headers):
		return false, apperrors.NewConfigurationErrorf("sheet %q header does not match the expected columns", sheet)
	default:
		return false, nil
	}
}
