package mssql

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INFORMATION_SCHEMA.TABLES").
		WillReturnRows(sqlmock.NewRows([]string{"TABLE_NAME"}).
			AddRow("orders").
			AddRow("users"))

	src := NewSource(db)
	names, err := src.ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "users"}, names)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDescribeTable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INFORMATION_SCHEMA.COLUMNS").
		WithArgs("users").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "DATA_TYPE", "IS_NULLABLE", "IS_PRIMARY"}).
			AddRow("id", "bigint", false, true).
			AddRow("email", "nvarchar", true, false))

	mock.ExpectQuery("sys.partitions").
		WithArgs("users").
		WillReturnRows(sqlmock.NewRows([]string{"rows"}).AddRow(4200))

	src := NewSource(db)
	table, err := src.DescribeTable(context.Background(), "users", 0)
	require.NoError(t, err)

	assert.Equal(t, "users", table.Name)
	require.Len(t, table.Columns, 2)
	assert.True(t, table.Columns[0].IsPrimary)
	assert.Equal(t, "email", table.Columns[1].Name)
	assert.Equal(t, int64(4200), table.RowEstimate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDescribeTable_SampleRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INFORMATION_SCHEMA.COLUMNS").
		WithArgs("users").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "DATA_TYPE", "IS_NULLABLE", "IS_PRIMARY"}).
			AddRow("id", "bigint", false, true))

	mock.ExpectQuery("sys.partitions").
		WithArgs("users").
		WillReturnRows(sqlmock.NewRows([]string{"rows"}).AddRow(2))

	mock.ExpectQuery(`SELECT TOP \(3\) \* FROM \[users\]`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))

	src := NewSource(db)
	table, err := src.DescribeTable(context.Background(), "users", 3)
	require.NoError(t, err)

	require.Len(t, table.SampleRows, 2)
	assert.Equal(t, []string{"1"}, table.SampleRows[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDescribeTable_NoColumnsIsError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INFORMATION_SCHEMA.COLUMNS").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME", "DATA_TYPE", "IS_NULLABLE", "IS_PRIMARY"}))

	src := NewSource(db)
	_, err = src.DescribeTable(context.Background(), "ghost", 0)
	assert.Error(t, err)
}
