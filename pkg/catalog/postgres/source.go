// Package postgres implements catalog extraction for PostgreSQL datasources.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/plainquery/plainquery-engine/pkg/models"
)

// Source extracts schema information from a PostgreSQL database.
type Source struct {
	pool *pgxpool.Pool
}

// NewSource creates a catalog source over an existing pool. The pool is
// owned by the caller.
func NewSource(pool *pgxpool.Pool) *Source {
	return &Source{pool: pool}
}

// ListTables returns all tables and views in the public schema.
func (s *Source) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = 'public'
		  AND table_type IN ('BASE TABLE', 'VIEW')
		ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return names, nil
}

// DescribeTable returns columns, key hints, a row-count estimate, and
// sample rows for one table.
func (s *Source) DescribeTable(ctx context.Context, name string, sampleRows int) (*models.CatalogTable, error) {
	columns, err := s.describeColumns(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s has no columns", name)
	}

	table := &models.CatalogTable{
		Name:    name,
		Columns: columns,
	}

	// reltuples is an estimate maintained by autovacuum; -1 means never
	// analyzed. Good enough for prompt context, never used for bounds.
	err = s.pool.QueryRow(ctx, `
		SELECT GREATEST(reltuples::bigint, 0)
		FROM pg_class
		WHERE relname = $1 AND relnamespace = 'public'::regnamespace`, name).
		Scan(&table.RowEstimate)
	if err != nil && err != pgx.ErrNoRows {
		return nil, fmt.Errorf("row estimate for %s: %w", name, err)
	}

	if sampleRows > 0 {
		samples, err := s.sample(ctx, name, sampleRows)
		if err != nil {
			return nil, fmt.Errorf("sample %s: %w", name, err)
		}
		table.SampleRows = samples
	}

	return table, nil
}

func (s *Source) describeColumns(ctx context.Context, name string) ([]models.CatalogColumn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			c.column_name,
			c.data_type,
			c.is_nullable = 'YES',
			COALESCE(pk.is_primary, false),
			COALESCE(fk.ref, '')
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT kcu.column_name, true AS is_primary
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
			  ON kcu.constraint_name = tc.constraint_name
			 AND kcu.table_schema = tc.table_schema
			WHERE tc.table_schema = 'public'
			  AND tc.table_name = $1
			  AND tc.constraint_type = 'PRIMARY KEY'
		) pk ON pk.column_name = c.column_name
		LEFT JOIN (
			SELECT kcu.column_name, ccu.table_name || '.' || ccu.column_name AS ref
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
			  ON kcu.constraint_name = tc.constraint_name
			 AND kcu.table_schema = tc.table_schema
			JOIN information_schema.constraint_column_usage ccu
			  ON ccu.constraint_name = tc.constraint_name
			 AND ccu.table_schema = tc.table_schema
			WHERE tc.table_schema = 'public'
			  AND tc.table_name = $1
			  AND tc.constraint_type = 'FOREIGN KEY'
		) fk ON fk.column_name = c.column_name
		WHERE c.table_schema = 'public' AND c.table_name = $1
		ORDER BY c.ordinal_position`, name)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []models.CatalogColumn
	for rows.Next() {
		var col models.CatalogColumn
		if err := rows.Scan(&col.Name, &col.DataType, &col.IsNullable, &col.IsPrimary, &col.ForeignKeyRef); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}

func (s *Source) sample(ctx context.Context, name string, limit int) ([][]string, error) {
	// Identifier is sanitized via pgx quoting; the table name came from
	// information_schema, not from user input.
	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d", pgx.Identifier{name}.Sanitize(), limit)

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out [][]string
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		rendered := make([]string, len(values))
		for i, v := range values {
			if v == nil {
				rendered[i] = "NULL"
				continue
			}
			rendered[i] = fmt.Sprintf("%v", v)
		}
		out = append(out, rendered)
	}
	return out, rows.Err()
}
