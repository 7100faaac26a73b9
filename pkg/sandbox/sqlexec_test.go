package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSQLSandboxExecute(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, name FROM customers").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name"}).
			AddRow(1, []byte("alpha")).
			AddRow(2, []byte("beta")))
	mock.ExpectRollback()

	s := NewSQLSandbox(db, 1000, time.Second, zap.NewNop())
	outcome, err := s.Execute(context.Background(), "SELECT id, name FROM customers")
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.RowCount)
	assert.False(t, outcome.Truncated)
	require.Len(t, outcome.Columns, 2)
	assert.Equal(t, "id", outcome.Columns[0].Name)
	// Byte slices come back as strings so the outcome serializes cleanly.
	assert.Equal(t, "alpha", outcome.Rows[0]["name"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSandboxTruncatesAtRowCap(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM customers").WillReturnRows(
		sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2).AddRow(3))
	mock.ExpectRollback()

	s := NewSQLSandbox(db, 2, time.Second, zap.NewNop())
	outcome, err := s.Execute(context.Background(), "SELECT id FROM customers")
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.RowCount)
	assert.True(t, outcome.Truncated)
}

func TestSQLSandboxQueryErrorRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT missing FROM ghosts").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	s := NewSQLSandbox(db, 1000, time.Second, zap.NewNop())
	outcome, err := s.Execute(context.Background(), "SELECT missing FROM ghosts")

	require.Error(t, err)
	require.NotNil(t, outcome)
	assert.NotEmpty(t, outcome.Err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
