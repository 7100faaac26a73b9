package scope

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/plainquery/plainquery-engine/pkg/apperrors"
	"github.com/plainquery/plainquery-engine/pkg/catalog"
	"github.com/plainquery/plainquery-engine/pkg/models"
)

type staticSource struct {
	tables []models.CatalogTable
}

func (s *staticSource) ListTables(ctx context.Context) ([]string, error) {
	names := make([]string, len(s.tables))
	for i, t := range s.tables {
		names[i] = t.Name
	}
	return names, nil
}

func (s *staticSource) DescribeTable(ctx context.Context, name string, sampleRows int) (*models.CatalogTable, error) {
	for i := range s.tables {
		if s.tables[i].Name == name {
			return &s.tables[i], nil
		}
	}
	return nil, apperrors.ErrUnknownTable
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat := catalog.New(0, zap.NewNop())
	src := &staticSource{tables: []models.CatalogTable{
		{Name: "users", Columns: []models.CatalogColumn{{Name: "id"}, {Name: "email"}}},
		{Name: "orders", Columns: []models.CatalogColumn{{Name: "id"}, {Name: "user_id"}, {Name: "total"}}},
	}}
	require.NoError(t, cat.Scan(context.Background(), src))
	return cat
}

func TestResolve(t *testing.T) {
	cat := testCatalog(t)
	sessionID := uuid.New()

	s, err := Resolve(cat, sessionID, []string{"users", "orders"})
	require.NoError(t, err)

	assert.Equal(t, sessionID, s.SessionID)
	assert.Equal(t, []string{"orders", "users"}, s.TableNames(), "tables sorted for determinism")
	assert.True(t, s.ContainsTable("users"))
	assert.True(t, s.ContainsTable("ORDERS"))
	assert.True(t, s.ContainsColumn("user_id"))
	assert.False(t, s.ContainsTable("payments"))
	assert.False(t, s.ContainsColumn("password"))
}

func TestResolve_UnknownTable(t *testing.T) {
	cat := testCatalog(t)

	_, err := Resolve(cat, uuid.New(), []string{"users", "payments"})
	assert.ErrorIs(t, err, apperrors.ErrUnknownTable)
	assert.Contains(t, err.Error(), "payments")
}

func TestResolve_EmptySelection(t *testing.T) {
	cat := testCatalog(t)

	_, err := Resolve(cat, uuid.New(), nil)
	assert.ErrorIs(t, err, apperrors.ErrEmptyScope)

	_, err = Resolve(cat, uuid.New(), []string{"  ", ""})
	assert.ErrorIs(t, err, apperrors.ErrEmptyScope)
}

func TestResolve_DeduplicatesSelection(t *testing.T) {
	cat := testCatalog(t)

	s, err := Resolve(cat, uuid.New(), []string{"users", "Users", "USERS"})
	require.NoError(t, err)
	assert.Len(t, s.Tables, 1)
}

func TestResolve_NewScopePerCall(t *testing.T) {
	cat := testCatalog(t)
	sessionID := uuid.New()

	s1, err := Resolve(cat, sessionID, []string{"users"})
	require.NoError(t, err)
	s2, err := Resolve(cat, sessionID, []string{"users"})
	require.NoError(t, err)

	assert.NotEqual(t, s1.ID, s2.ID, "scope change creates a new scope, never mutates")
}
