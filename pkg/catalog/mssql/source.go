// Package mssql implements catalog extraction for SQL Server datasources.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb" // sqlserver driver registration

	"github.com/plainquery/plainquery-engine/pkg/models"
)

// Source extracts schema information from a SQL Server database.
type Source struct {
	db *sql.DB
}

// NewSource creates a catalog source over an existing database handle.
// The handle is owned by the caller.
func NewSource(db *sql.DB) *Source {
	return &Source{db: db}
}

// Open connects to SQL Server and returns a source that owns its handle.
func Open(dsn string) (*Source, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlserver: %w", err)
	}
	return &Source{db: db}, nil
}

// Close releases the database handle.
func (s *Source) Close() error {
	return s.db.Close()
}

// ListTables returns all tables and views in the dbo schema.
func (s *Source) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = 'dbo'
		  AND TABLE_TYPE IN ('BASE TABLE', 'VIEW')
		ORDER BY TABLE_NAME`)
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

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(p.rows), 0)
		FROM sys.partitions p
		WHERE p.object_id = OBJECT_ID(@p1)
		  AND p.index_id IN (0, 1)`, name).Scan(&table.RowEstimate)
	if err != nil && err != sql.ErrNoRows {
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			c.COLUMN_NAME,
			c.DATA_TYPE,
			CASE WHEN c.IS_NULLABLE = 'YES' THEN 1 ELSE 0 END,
			CASE WHEN pk.COLUMN_NAME IS NOT NULL THEN 1 ELSE 0 END
		FROM INFORMATION_SCHEMA.COLUMNS c
		LEFT JOIN (
			SELECT kcu.COLUMN_NAME
			FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
			JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
			  ON kcu.CONSTRAINT_NAME = tc.CONSTRAINT_NAME
			WHERE tc.TABLE_SCHEMA = 'dbo'
			  AND tc.TABLE_NAME = @p1
			  AND tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
		) pk ON pk.COLUMN_NAME = c.COLUMN_NAME
		WHERE c.TABLE_SCHEMA = 'dbo' AND c.TABLE_NAME = @p1
		ORDER BY c.ORDINAL_POSITION`, name)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []models.CatalogColumn
	for rows.Next() {
		var col models.CatalogColumn
		if err := rows.Scan(&col.Name, &col.DataType, &col.IsNullable, &col.IsPrimary); err != nil {
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
	// Bracket-quote the identifier; the name came from INFORMATION_SCHEMA,
	// not from user input.
	quoted := "[" + strings.ReplaceAll(name, "]", "]]") + "]"
	query := fmt.Sprintf("SELECT TOP (%d) * FROM %s", limit, quoted)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out [][]string
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rendered := make([]string, len(cols))
		for i, v := range raw {
			switch tv := v.(type) {
			case nil:
				rendered[i] = "NULL"
			case []byte:
				rendered[i] = string(tv)
			default:
				rendered[i] = fmt.Sprintf("%v", tv)
			}
		}
		out = append(out, rendered)
	}
	return out, rows.Err()
}
