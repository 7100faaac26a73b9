// Package scope narrows the schema catalog to the tables a session selected.
package scope

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/plainquery/plainquery-engine/pkg/apperrors"
	"github.com/plainquery/plainquery-engine/pkg/catalog"
	"github.com/plainquery/plainquery-engine/pkg/models"
)

// Resolve builds a Scope from the user's table selection. Pure function over
// the catalog and the selection: no side effects, and the returned Scope is
// immutable for its lifetime.
//
// Fails with apperrors.ErrEmptyScope when no tables are selected and
// apperrors.ErrUnknownTable naming the first table absent from the catalog.
func Resolve(cat *catalog.Catalog, sessionID uuid.UUID, selected []string) (*models.Scope, error) {
	if len(selected) == 0 {
		return nil, apperrors.ErrEmptyScope
	}

	// De-duplicate case-insensitively; "Users, users" is one table.
	seen := make(map[string]struct{}, len(selected))
	var tables []models.CatalogTable
	for _, name := range selected {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		entry, ok := cat.Lookup(key)
		if !ok {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownTable, name)
		}
		tables = append(tables, entry)
	}

	if len(tables) == 0 {
		return nil, apperrors.ErrEmptyScope
	}

	sort.Slice(tables, func(i, j int) bool { return tables[i].Name < tables[j].Name })

	return models.NewScope(sessionID, tables, time.Now().UTC()), nil
}
