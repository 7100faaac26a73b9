// Package catalog maintains the normalized schema catalog that scope
// selection and prompt building read from.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/plainquery/plainquery-engine/pkg/models"
)

// Source lists and describes tables of a datasource. Implementations own
// their connection and must be closed by the caller when done.
type Source interface {
	// ListTables returns all user tables, excluding system schemas.
	ListTables(ctx context.Context) ([]string, error)

	// DescribeTable returns the columns of one table plus a row-count
	// estimate and up to sampleRows sample rows rendered as strings.
	DescribeTable(ctx context.Context, name string, sampleRows int) (*models.CatalogTable, error)
}

// Catalog is the queryable, in-memory schema representation. Loaded once
// per connection and refreshed only on an explicit re-scan.
type Catalog struct {
	mu         sync.RWMutex
	tables     map[string]models.CatalogTable
	scannedAt  time.Time
	sampleRows int
	logger     *zap.Logger
}

// New creates an empty catalog. sampleRows controls how many sample rows
// are captured per table during a scan; 0 disables sampling.
func New(sampleRows int, logger *zap.Logger) *Catalog {
	return &Catalog{
		tables:     make(map[string]models.CatalogTable),
		sampleRows: sampleRows,
		logger:     logger.Named("catalog"),
	}
}

// Scan loads (or reloads) the catalog from the source. A failed scan leaves
// the previous catalog contents intact.
func (c *Catalog) Scan(ctx context.Context, src Source) error {
	start := time.Now()

	names, err := src.ListTables(ctx)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}

	fresh := make(map[string]models.CatalogTable, len(names))
	for _, name := range names {
		table, err := src.DescribeTable(ctx, name, c.sampleRows)
		if err != nil {
			return fmt.Errorf("describe table %s: %w", name, err)
		}
		fresh[strings.ToLower(name)] = *table
	}

	c.mu.Lock()
	c.tables = fresh
	c.scannedAt = time.Now()
	c.mu.Unlock()

	c.logger.Info("catalog scanned",
		zap.Int("tables", len(fresh)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// Lookup returns the catalog entry for a table name (case-insensitive).
func (c *Catalog) Lookup(name string) (models.CatalogTable, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[strings.ToLower(name)]
	return t, ok
}

// Tables returns all catalog entries sorted by table name.
func (c *Catalog) Tables() []models.CatalogTable {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.CatalogTable, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ScannedAt returns when the catalog was last loaded.
func (c *Catalog) ScannedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.scannedAt
}

// Len returns the number of tables in the catalog.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tables)
}
