package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/plainquery/plainquery-engine/pkg/apperrors"
	"github.com/plainquery/plainquery-engine/pkg/models"
)

type mockTurnService struct {
	setScopeFunc       func(ctx context.Context, sessionID uuid.UUID, tables []string) (*models.Scope, error)
	scopeFunc          func(sessionID uuid.UUID) (*models.Scope, error)
	askFunc            func(ctx context.Context, sessionID uuid.UUID, question string) (*models.Turn, error)
	resubmitEditedFunc func(ctx context.Context, sessionID uuid.UUID, question, sqlText string) (*models.Turn, error)
	historyFunc        func(ctx context.Context, sessionID uuid.UUID) ([]*models.Turn, error)
}

func (m *mockTurnService) SetScope(ctx context.Context, sessionID uuid.UUID, tables []string) (*models.Scope, error) {
	return m.setScopeFunc(ctx, sessionID, tables)
}

func (m *mockTurnService) Scope(sessionID uuid.UUID) (*models.Scope, error) {
	return m.scopeFunc(sessionID)
}

func (m *mockTurnService) Ask(ctx context.Context, sessionID uuid.UUID, question string) (*models.Turn, error) {
	return m.askFunc(ctx, sessionID, question)
}

func (m *mockTurnService) ResubmitEdited(ctx context.Context, sessionID uuid.UUID, question, sqlText string) (*models.Turn, error) {
	return m.resubmitEditedFunc(ctx, sessionID, question, sqlText)
}

func (m *mockTurnService) History(ctx context.Context, sessionID uuid.UUID) ([]*models.Turn, error) {
	return m.historyFunc(ctx, sessionID)
}

func newMux(svc *mockTurnService) *http.ServeMux {
	mux := http.NewServeMux()
	NewSessionHandler(svc, zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestSetScope(t *testing.T) {
	sessionID := uuid.New()
	sc := models.NewScope(sessionID, []models.CatalogTable{{Name: "orders"}}, time.Now())

	svc := &mockTurnService{
		setScopeFunc: func(ctx context.Context, gotSession uuid.UUID, tables []string) (*models.Scope, error) {
			assert.Equal(t, sessionID, gotSession)
			assert.Equal(t, []string{"orders"}, tables)
			return sc, nil
		},
	}

	rec := doJSON(t, newMux(svc), http.MethodPut, "/sessions/"+sessionID.String()+"/scope",
		ScopeRequest{Tables: []string{"orders"}})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ScopeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, sc.ID, resp.ScopeID)
	require.Len(t, resp.Tables, 1)
	assert.Equal(t, "orders", resp.Tables[0].Name)
}

func TestSetScopeUnknownTable(t *testing.T) {
	svc := &mockTurnService{
		setScopeFunc: func(ctx context.Context, sessionID uuid.UUID, tables []string) (*models.Scope, error) {
			return nil, apperrors.ErrUnknownTable
		},
	}

	rec := doJSON(t, newMux(svc), http.MethodPut, "/sessions/"+uuid.NewString()+"/scope",
		ScopeRequest{Tables: []string{"ghost"}})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown_table")
}

func TestSetScopeInvalidSessionID(t *testing.T) {
	svc := &mockTurnService{}

	rec := doJSON(t, newMux(svc), http.MethodPut, "/sessions/not-a-uuid/scope",
		ScopeRequest{Tables: []string{"orders"}})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_session_id")
}

func TestAsk(t *testing.T) {
	sessionID := uuid.New()
	turn := &models.Turn{
		ID:        uuid.New(),
		SessionID: sessionID,
		Question:  "how many orders?",
		Status:    models.TurnCompleted,
		Summary:   "There are 42 orders.",
	}
	svc := &mockTurnService{
		askFunc: func(ctx context.Context, gotSession uuid.UUID, question string) (*models.Turn, error) {
			assert.Equal(t, "how many orders?", question)
			return turn, nil
		},
	}

	rec := doJSON(t, newMux(svc), http.MethodPost, "/sessions/"+sessionID.String()+"/ask",
		AskRequest{Question: "how many orders?"})

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Turn
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, turn.ID, got.ID)
	assert.Equal(t, models.TurnCompleted, got.Status)
}

func TestAskRejectedTurnIsStillOK(t *testing.T) {
	svc := &mockTurnService{
		askFunc: func(ctx context.Context, sessionID uuid.UUID, question string) (*models.Turn, error) {
			return &models.Turn{
				ID:      uuid.New(),
				Status:  models.TurnRejected,
				Verdict: &models.Verdict{Pass: false, Rules: []string{models.RuleNonReadOnly}},
			}, nil
		},
	}

	rec := doJSON(t, newMux(svc), http.MethodPost, "/sessions/"+uuid.NewString()+"/ask",
		AskRequest{Question: "drop everything"})

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Turn
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.TurnRejected, got.Status)
	assert.Equal(t, []string{models.RuleNonReadOnly}, got.Verdict.Rules)
}

func TestAskRequiresQuestion(t *testing.T) {
	svc := &mockTurnService{}

	rec := doJSON(t, newMux(svc), http.MethodPost, "/sessions/"+uuid.NewString()+"/ask",
		AskRequest{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskWithoutScope(t *testing.T) {
	svc := &mockTurnService{
		askFunc: func(ctx context.Context, sessionID uuid.UUID, question string) (*models.Turn, error) {
			return nil, apperrors.ErrNoScope
		},
	}

	rec := doJSON(t, newMux(svc), http.MethodPost, "/sessions/"+uuid.NewString()+"/ask",
		AskRequest{Question: "anything"})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "no_scope")
}

func TestResubmit(t *testing.T) {
	svc := &mockTurnService{
		resubmitEditedFunc: func(ctx context.Context, sessionID uuid.UUID, question, sqlText string) (*models.Turn, error) {
			assert.Equal(t, "SELECT id FROM orders", sqlText)
			return &models.Turn{
				ID:        uuid.New(),
				Status:    models.TurnCompleted,
				Candidate: &models.CandidateQuery{Source: models.SourceUserEdit, SQL: sqlText},
			}, nil
		},
	}

	rec := doJSON(t, newMux(svc), http.MethodPost, "/sessions/"+uuid.NewString()+"/resubmit",
		ResubmitRequest{Question: "ids", SQL: "SELECT id FROM orders"})

	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Turn
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.SourceUserEdit, got.Candidate.Source)
}

func TestResubmitRequiresSQL(t *testing.T) {
	svc := &mockTurnService{}

	rec := doJSON(t, newMux(svc), http.MethodPost, "/sessions/"+uuid.NewString()+"/resubmit",
		ResubmitRequest{Question: "ids"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTurnsEmptyHistory(t *testing.T) {
	svc := &mockTurnService{
		historyFunc: func(ctx context.Context, sessionID uuid.UUID) ([]*models.Turn, error) {
			return nil, nil
		},
	}

	rec := doJSON(t, newMux(svc), http.MethodGet, "/sessions/"+uuid.NewString()+"/turns", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}
