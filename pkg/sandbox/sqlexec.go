package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/plainquery/plainquery-engine/pkg/apperrors"
	"github.com/plainquery/plainquery-engine/pkg/logging"
	"github.com/plainquery/plainquery-engine/pkg/models"
)

// SQLSandbox executes statements over database/sql, used for mssql
// datasources. SQL Server has no read-only transaction mode; containment
// there is the statement validation, the unconditional rollback, and a
// datasource login provisioned with db_datareader only.
type SQLSandbox struct {
	db      *sql.DB
	rowCap  int
	timeout time.Duration
	logger  *zap.Logger
}

// NewSQLSandbox creates a sandbox over a database/sql handle.
func NewSQLSandbox(db *sql.DB, rowCap int, timeout time.Duration, logger *zap.Logger) *SQLSandbox {
	return &SQLSandbox{
		db:      db,
		rowCap:  rowCap,
		timeout: timeout,
		logger:  logger.Named("sandbox"),
	}
}

// Execute runs the sanitized statement with the same containment contract as
// the pgx sandbox.
func (s *SQLSandbox) Execute(ctx context.Context, sqlText string) (*models.ExecutionOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	outcome := &models.ExecutionOutcome{}

	fail := func(err error) (*models.ExecutionOutcome, error) {
		err = s.classify(ctx, err)
		outcome.Elapsed = time.Since(start)
		outcome.Err = err.Error()
		s.logger.Warn("execution failed",
			zap.Duration("elapsed", outcome.Elapsed),
			zap.String("sql", logging.SanitizeSQL(sqlText)),
			zap.Error(err))
		return outcome, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fail(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx, sqlText)
	if err != nil {
		return fail(fmt.Errorf("query: %w", err))
	}
	defer rows.Close()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return fail(fmt.Errorf("describe columns: %w", err))
	}
	outcome.Columns = make([]models.ColumnInfo, len(columnTypes))
	for i, ct := range columnTypes {
		outcome.Columns[i] = models.ColumnInfo{Name: ct.Name(), Type: ct.DatabaseTypeName()}
	}

	for rows.Next() {
		if len(outcome.Rows) >= s.rowCap {
			outcome.Truncated = true
			break
		}
		values := make([]any, len(columnTypes))
		ptrs := make([]any, len(columnTypes))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fail(fmt.Errorf("read row: %w", err))
		}
		row := make(map[string]any, len(outcome.Columns))
		for i, col := range outcome.Columns {
			row[col.Name] = normalizeValue(values[i])
		}
		outcome.Rows = append(outcome.Rows, row)
	}
	if err := rows.Err(); err != nil && !outcome.Truncated {
		return fail(fmt.Errorf("iterate rows: %w", err))
	}

	outcome.RowCount = len(outcome.Rows)
	outcome.Elapsed = time.Since(start)
	s.logger.Info("execution complete",
		zap.Int("rows", outcome.RowCount),
		zap.Bool("truncated", outcome.Truncated),
		zap.Duration("elapsed", outcome.Elapsed))
	return outcome, nil
}

func (s *SQLSandbox) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", apperrors.ErrExecutionTimeout, s.timeout)
	}
	return err
}

// normalizeValue makes driver byte slices JSON-friendly.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
