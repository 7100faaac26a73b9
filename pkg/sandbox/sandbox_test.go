package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/plainquery/plainquery-engine/pkg/apperrors"
)

// fakeRows implements the parts of pgx.Rows the sandbox touches. The
// embedded interface covers the rest; anything unexpected panics loudly.
type fakeRows struct {
	pgx.Rows
	fields  []pgconn.FieldDescription
	rows    [][]any
	idx     int
	closed  bool
	iterErr error
}

func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return r.fields }

func (r *fakeRows) Next() bool {
	if r.idx < len(r.rows) {
		r.idx++
		return true
	}
	return false
}

func (r *fakeRows) Values() ([]any, error) { return r.rows[r.idx-1], nil }
func (r *fakeRows) Close()                 { r.closed = true }
func (r *fakeRows) Err() error             { return r.iterErr }

type fakeTx struct {
	pgx.Tx
	queryFn   func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	rollbacks int
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return t.queryFn(ctx, sql, args...)
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	t.rollbacks++
	return nil
}

type fakeBeginner struct {
	tx       *fakeTx
	opts     pgx.TxOptions
	beginErr error
}

func (b *fakeBeginner) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	b.opts = opts
	if b.beginErr != nil {
		return nil, b.beginErr
	}
	return b.tx, nil
}

func orderRows() *fakeRows {
	return &fakeRows{
		fields: []pgconn.FieldDescription{
			{Name: "id", DataTypeOID: 23},   // int4
			{Name: "name", DataTypeOID: 25}, // text
		},
		rows: [][]any{
			{int32(1), "alpha"},
			{int32(2), "beta"},
		},
	}
}

func TestExecuteSuccess(t *testing.T) {
	rows := orderRows()
	tx := &fakeTx{queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
		return rows, nil
	}}
	pool := &fakeBeginner{tx: tx}
	s := NewSandbox(pool, 1000, time.Second, zap.NewNop())

	outcome, err := s.Execute(context.Background(), "SELECT id, name FROM customers limit 1000")
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.RowCount)
	assert.False(t, outcome.Truncated)
	require.Len(t, outcome.Columns, 2)
	assert.Equal(t, "id", outcome.Columns[0].Name)
	assert.Equal(t, "int4", outcome.Columns[0].Type)
	assert.Equal(t, "text", outcome.Columns[1].Type)
	assert.Equal(t, "alpha", outcome.Rows[0]["name"])
	assert.True(t, rows.closed)
}

func TestExecuteIsReadOnlyAndRollsBack(t *testing.T) {
	tx := &fakeTx{queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
		return orderRows(), nil
	}}
	pool := &fakeBeginner{tx: tx}
	s := NewSandbox(pool, 1000, time.Second, zap.NewNop())

	_, err := s.Execute(context.Background(), "SELECT 1")
	require.NoError(t, err)

	assert.Equal(t, pgx.ReadOnly, pool.opts.AccessMode)
	// Rolled back even on success; nothing may commit.
	assert.Equal(t, 1, tx.rollbacks)
}

func TestExecuteTruncatesAtRowCap(t *testing.T) {
	rows := orderRows()
	rows.rows = append(rows.rows, []any{int32(3), "gamma"})
	tx := &fakeTx{queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
		return rows, nil
	}}
	s := NewSandbox(&fakeBeginner{tx: tx}, 2, time.Second, zap.NewNop())

	outcome, err := s.Execute(context.Background(), "SELECT id, name FROM customers")
	require.NoError(t, err)

	assert.Equal(t, 2, outcome.RowCount)
	assert.True(t, outcome.Truncated)
	assert.True(t, rows.closed)
}

func TestExecuteQueryError(t *testing.T) {
	engineErr := errors.New(`relation "ghosts" does not exist`)
	tx := &fakeTx{queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
		return nil, engineErr
	}}
	s := NewSandbox(&fakeBeginner{tx: tx}, 1000, time.Second, zap.NewNop())

	outcome, err := s.Execute(context.Background(), "SELECT * FROM ghosts")

	require.Error(t, err)
	assert.ErrorIs(t, err, engineErr)
	require.NotNil(t, outcome)
	assert.Contains(t, outcome.Err, "ghosts")
	assert.Equal(t, 1, tx.rollbacks)
}

func TestExecuteTimeout(t *testing.T) {
	pool := blockingBeginner{}
	s := NewSandbox(pool, 1000, 20*time.Millisecond, zap.NewNop())

	outcome, err := s.Execute(context.Background(), "SELECT pg_sleep(60)")

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrExecutionTimeout)
	require.NotNil(t, outcome)
	assert.NotEmpty(t, outcome.Err)
}

type blockingBeginner struct{}

func (blockingBeginner) BeginTx(ctx context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
