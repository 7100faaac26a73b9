package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Scope is the subset of the catalog a session may touch. Immutable once
// created: changing the selection produces a new Scope, it never mutates
// an existing one. Validation always runs against the Scope that was active
// when the Turn was created.
type Scope struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	// Tables are the resolved catalog entries, sorted by name.
	Tables    []CatalogTable `json:"tables"`
	CreatedAt time.Time      `json:"created_at"`

	tableSet  map[string]struct{}
	columnSet map[string]struct{}
}

// NewScope builds an immutable scope over the given catalog entries.
// Lookup sets are precomputed; table and column matching is case-insensitive
// the way the target engines treat unquoted identifiers.
func NewScope(sessionID uuid.UUID, tables []CatalogTable, now time.Time) *Scope {
	s := &Scope{
		ID:        uuid.New(),
		SessionID: sessionID,
		Tables:    tables,
		CreatedAt: now,
		tableSet:  make(map[string]struct{}, len(tables)),
		columnSet: make(map[string]struct{}),
	}
	for _, t := range tables {
		s.tableSet[lowerIdent(t.Name)] = struct{}{}
		for _, c := range t.Columns {
			s.columnSet[lowerIdent(c.Name)] = struct{}{}
		}
	}
	return s
}

// ContainsTable reports whether the named table is in scope.
func (s *Scope) ContainsTable(name string) bool {
	_, ok := s.tableSet[lowerIdent(name)]
	return ok
}

// ContainsColumn reports whether any in-scope table has the named column.
func (s *Scope) ContainsColumn(name string) bool {
	_, ok := s.columnSet[lowerIdent(name)]
	return ok
}

// TableNames returns the in-scope table names in sorted order.
func (s *Scope) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}
	return names
}

func lowerIdent(s string) string {
	return strings.ToLower(s)
}
