// Package sandbox executes validated statements against the target
// datasource under hard containment: a read-only transaction, a wall-clock
// deadline, and a row cap on the materialized result. Containment does not
// depend on the validator being right.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/plainquery/plainquery-engine/pkg/apperrors"
	"github.com/plainquery/plainquery-engine/pkg/logging"
	"github.com/plainquery/plainquery-engine/pkg/models"
)

// TxBeginner begins transactions. *pgxpool.Pool satisfies it; tests supply
// fakes.
type TxBeginner interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Sandbox runs one statement per call. It never retries: by the time a
// statement reaches here it has been validated, and re-running it on error
// would double load on the target for no benefit.
type Sandbox struct {
	pool    TxBeginner
	rowCap  int
	timeout time.Duration
	typeMap *pgtype.Map
	logger  *zap.Logger
}

// NewSandbox creates a sandbox over the given datasource pool.
func NewSandbox(pool TxBeginner, rowCap int, timeout time.Duration, logger *zap.Logger) *Sandbox {
	return &Sandbox{
		pool:    pool,
		rowCap:  rowCap,
		timeout: timeout,
		typeMap: pgtype.NewMap(),
		logger:  logger.Named("sandbox"),
	}
}

// Execute runs the sanitized statement. The outcome is always returned, with
// Elapsed and Err populated on failure; the error return carries the
// classification the pipeline acts on. A deadline hit maps to
// apperrors.ErrExecutionTimeout.
//
// The transaction is read-only at the engine level and is always rolled
// back, including on success. Nothing this package runs may leave state
// behind.
func (s *Sandbox) Execute(ctx context.Context, sqlText string) (*models.ExecutionOutcome, error) {
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

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return fail(fmt.Errorf("begin read-only tx: %w", err))
	}
	// Rollback on a context no longer bound to the statement deadline, so
	// the connection is released cleanly even after a timeout.
	defer tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck

	rows, err := tx.Query(ctx, sqlText)
	if err != nil {
		return fail(fmt.Errorf("query: %w", err))
	}

	outcome.Columns = s.describeColumns(rows)
	for rows.Next() {
		if len(outcome.Rows) >= s.rowCap {
			outcome.Truncated = true
			break
		}
		values, valErr := rows.Values()
		if valErr != nil {
			rows.Close()
			return fail(fmt.Errorf("read row: %w", valErr))
		}
		row := make(map[string]any, len(outcome.Columns))
		for i, col := range outcome.Columns {
			if i < len(values) {
				row[col.Name] = values[i]
			}
		}
		outcome.Rows = append(outcome.Rows, row)
	}
	rows.Close()
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

func (s *Sandbox) describeColumns(rows pgx.Rows) []models.ColumnInfo {
	fields := rows.FieldDescriptions()
	columns := make([]models.ColumnInfo, len(fields))
	for i, f := range fields {
		typeName := "unknown"
		if t, ok := s.typeMap.TypeForOID(f.DataTypeOID); ok {
			typeName = t.Name
		}
		columns[i] = models.ColumnInfo{Name: f.Name, Type: typeName}
	}
	return columns
}

func (s *Sandbox) classify(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", apperrors.ErrExecutionTimeout, s.timeout)
	}
	return err
}
