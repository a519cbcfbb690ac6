package sheets

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	apperrors "mailmerge-workers/internal/common/errors"
)

// ==========================
// Table
// ==========================

func TestNewTable(t *testing.T) {
	table := NewTable("Plan", []string{" Email ", "Name", "", "Invoice Sent"}, []Row{
		{Number: 2, Cells: []string{"a@example.com", "Ann"}},
		{Number: 3, Cells: []string{"", " ", ""}},
		{Number: 4, Cells: []string{"b@example.com", "Bob", "x", "2026-01-01", "overflow"}},
	})

	assert.Equal(t, []string{"Email", "Name", "", "Invoice Sent"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, 2, table.Rows[0].Number)
	assert.Equal(t, []string{"a@example.com", "Ann", "", ""}, table.Rows[0].Cells)
	assert.Equal(t, 4, table.Rows[1].Number)
	assert.Len(t, table.Rows[1].Cells, 4)

	col, err := table.Column("Invoice Sent")
	require.NoError(t, err)
	assert.Equal(t, 3, col)

	_, err = table.Column("Phone")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeColumnNotFound))

	assert.Equal(t, "Bob", table.Get(table.Rows[1], "Name"))
	assert.Equal(t, "", table.Get(table.Rows[1], "Phone"))
	assert.Equal(t, "", table.Value(table.Rows[0], 99))
	assert.Equal(t, map[string]string{"Email": "a@example.com", "Name": "Ann", "Invoice Sent": ""}, table.Record(table.Rows[0]))
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, table.ColumnValues(0))
}

func TestTable_Require(t *testing.T) {
	table := NewTable("Rules", []string{"Email Topic", "Column Sent"}, nil)

	assert.NoError(t, table.Require("Email Topic"))

	err := table.Require("Email Topic", "Column Condition To Send", "Extra")
	require.Error(t, err)
	assert.True(t, apperrors.IsConfiguration(err))
	assert.Contains(t, err.Error(), "Column Condition To Send, Extra")
}

func TestSameHeaders(t *testing.T) {
	assert.True(t, SameHeaders([]string{"A ", "B"}, []string{"A", " B"}))
	assert.False(t, SameHeaders([]string{"A"}, []string{"A", "B"}))
	assert.False(t, SameHeaders([]string{"A", "C"}, []string{"A", "B"}))
}

// ==========================
// Store contract, shared by memory and xlsx
// ==========================

func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()
	headers := []string{"Date", "Amount", "Transaction ID"}

	created, err := store.EnsureHeader(ctx, "Log", headers)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.EnsureHeader(ctx, "Log", headers)
	require.NoError(t, err)
	assert.False(t, created)

	_, err = store.EnsureHeader(ctx, "Log", []string{"Date", "Amount"})
	assert.True(t, apperrors.IsConfiguration(err))

	require.NoError(t, store.AppendRows(ctx, "Log", [][]string{
		{"2026-01-01", "100.00", "1001"},
		{"2026-01-02", "200.00", "1002"},
	}))
	require.NoError(t, store.AppendRows(ctx, "Log", [][]string{{"2026-01-03", "300.00", "1003"}}))

	table, err := store.ReadTable(ctx, "Log")
	require.NoError(t, err)
	assert.Equal(t, headers, table.Headers)
	require.Len(t, table.Rows, 3)
	assert.Equal(t, []int{2, 3, 4}, []int{table.Rows[0].Number, table.Rows[1].Number, table.Rows[2].Number})
	assert.Equal(t, []string{"1001", "1002", "1003"}, table.ColumnValues(2))

	require.NoError(t, store.WriteCell(ctx, "Log", 3, 1, "250.00"))
	table, err = store.ReadTable(ctx, "Log")
	require.NoError(t, err)
	assert.Equal(t, "250.00", table.Get(table.Rows[1], "Amount"))

	assert.Error(t, store.WriteCell(ctx, "Log", HeaderRow, 0, "x"))
	_, err = store.ReadTable(ctx, "Missing")
	assert.True(t, apperrors.IsNotFound(err))
	assert.True(t, apperrors.IsNotFound(store.WriteCell(ctx, "Missing", 2, 0, "x")))
	assert.True(t, apperrors.IsNotFound(store.AppendRows(ctx, "Missing", [][]string{{"x"}})))
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	exerciseStore(t, store)
	assert.True(t, store.HeaderBold("Log"))
	assert.Equal(t, 3, store.RowCount("Log"))
	assert.Equal(t, "250.00", store.Cell("Log", 3, 1))
	assert.Equal(t, "Date", store.Cell("Log", HeaderRow, 0))
}

func TestMemoryStore_PutAndWriteBeyondRow(t *testing.T) {
	store := NewMemoryStore()
	store.Put("Plan", []string{"Email", "Sent"}, []string{"a@example.com"})

	require.NoError(t, store.WriteCell(context.Background(), "Plan", 2, 1, "done"))
	assert.Equal(t, "done", store.Cell("Plan", 2, 1))
}

func TestXLSXStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "book.xlsx")

	store, err := OpenXLSX(path)
	require.NoError(t, err)
	exerciseStore(t, store)
	require.NoError(t, store.Close())

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	value, err := f.GetCellValue("Log", "B3")
	require.NoError(t, err)
	assert.Equal(t, "250.00", value)

	styleID, err := f.GetCellStyle("Log", "A1")
	require.NoError(t, err)
	assert.NotZero(t, styleID)

	reopened, err := OpenXLSX(path)
	require.NoError(t, err)
	defer reopened.Close()
	table, err := reopened.ReadTable(context.Background(), "Log")
	require.NoError(t, err)
	assert.Len(t, table.Rows, 3)
}

// ==========================
// PostgresStore
// ==========================

func TestPostgresStore_ReadTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectQuery("SELECT columns FROM sheet_headers").
		WithArgs("Plan").
		WillReturnRows(sqlmock.NewRows([]string{"columns"}).AddRow("{Email,Name,Sent}"))
	mock.ExpectQuery("SELECT row_number, cells FROM sheet_rows").
		WithArgs("Plan").
		WillReturnRows(sqlmock.NewRows([]string{"row_number", "cells"}).
			AddRow(2, `{a@example.com,Ann,""}`).
			AddRow(3, `{b@example.com,"Bob B",2026-01-01}`))

	table, err := store.ReadTable(context.Background(), "Plan")
	require.NoError(t, err)
	assert.Equal(t, []string{"Email", "Name", "Sent"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "Bob B", table.Get(table.Rows[1], "Name"))
	assert.Equal(t, 3, table.Rows[1].Number)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReadTable_MissingSheet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT columns FROM sheet_headers").
		WithArgs("Nope").
		WillReturnRows(sqlmock.NewRows([]string{"columns"}))

	_, err = NewPostgresStore(db).ReadTable(context.Background(), "Nope")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestPostgresStore_WriteCell(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectExec("UPDATE sheet_rows SET cells").
		WithArgs("Plan", 2, 3, "sent").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sheet_rows SET cells").
		WithArgs("Plan", 9, 1, "x").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE sheet_rows SET cells").
		WithArgs("Plan", 2, 1, "y").
		WillReturnError(errors.New("deadlock"))

	require.NoError(t, store.WriteCell(context.Background(), "Plan", 2, 2, "sent"))
	assert.True(t, apperrors.IsNotFound(store.WriteCell(context.Background(), "Plan", 9, 0, "x")))
	assert.True(t, apperrors.HasCode(store.WriteCell(context.Background(), "Plan", 2, 0, "y"), apperrors.ErrCodeStorageFailed))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)

	mock.ExpectQuery("SELECT columns FROM sheet_headers").
		WithArgs("Log").
		WillReturnRows(sqlmock.NewRows([]string{"columns"}).AddRow("{Date,Amount}"))
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(row_number\), 1\)`).
		WithArgs("Log").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(4))
	mock.ExpectExec("INSERT INTO sheet_rows").
		WithArgs("Log", 5, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO sheet_rows").
		WithArgs("Log", 6, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.AppendRows(context.Background(), "Log", [][]string{{"d1", "1"}, {"d2"}}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnsureHeader(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	ctx := context.Background()

	// Missing sheet: header inserted.
	mock.ExpectQuery("SELECT columns FROM sheet_headers").WithArgs("Log").
		WillReturnRows(sqlmock.NewRows([]string{"columns"}))
	mock.ExpectExec("INSERT INTO sheet_headers").WithArgs("Log", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Matching header: nothing written.
	mock.ExpectQuery("SELECT columns FROM sheet_headers").WithArgs("Log").
		WillReturnRows(sqlmock.NewRows([]string{"columns"}).AddRow("{Date,Amount}"))

	// Different header: configuration error.
	mock.ExpectQuery("SELECT columns FROM sheet_headers").WithArgs("Log").
		WillReturnRows(sqlmock.NewRows([]string{"columns"}).AddRow("{Date,Value}"))

	created, err := store.EnsureHeader(ctx, "Log", []string{"Date", "Amount"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.EnsureHeader(ctx, "Log", []string{"Date", "Amount"})
	require.NoError(t, err)
	assert.False(t, created)

	_, err = store.EnsureHeader(ctx, "Log", []string{"Date", "Amount"})
	assert.True(t, apperrors.IsConfiguration(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sheet_headers").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sheet_rows").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, NewPostgresStore(db).Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
