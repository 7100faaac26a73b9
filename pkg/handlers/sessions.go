package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/plainquery/plainquery-engine/pkg/apperrors"
	"github.com/plainquery/plainquery-engine/pkg/models"
	"github.com/plainquery/plainquery-engine/pkg/services"
)

// ScopeRequest selects the tables a session may query.
type ScopeRequest struct {
	Tables []string `json:"tables"`
}

// ScopeResponse describes the active scope.
type ScopeResponse struct {
	ScopeID uuid.UUID            `json:"scope_id"`
	Tables  []models.CatalogTable `json:"tables"`
}

// AskRequest carries one plain-English question.
type AskRequest struct {
	Question string `json:"question"`
}

// ResubmitRequest carries a user-edited statement for re-validation.
type ResubmitRequest struct {
	Question string `json:"question"`
	SQL      string `json:"sql"`
}

// SessionHandler exposes the scope and turn pipeline per session.
type SessionHandler struct {
	turns  services.TurnService
	logger *zap.Logger
}

// NewSessionHandler creates a SessionHandler.
func NewSessionHandler(turns services.TurnService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{turns: turns, logger: logger}
}

// RegisterRoutes registers the session routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("PUT /sessions/{id}/scope", h.SetScope)
	mux.HandleFunc("GET /sessions/{id}/scope", h.GetScope)
	mux.HandleFunc("POST /sessions/{id}/ask", h.Ask)
	mux.HandleFunc("POST /sessions/{id}/resubmit", h.Resubmit)
	mux.HandleFunc("GET /sessions/{id}/turns", h.Turns)
}

// SetScope handles PUT /sessions/{id}/scope.
func (h *SessionHandler) SetScope(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req ScopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	sc, err := h.turns.SetScope(r.Context(), sessionID, req.Tables)
	if err != nil {
		h.writeScopeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, ScopeResponse{ScopeID: sc.ID, Tables: sc.Tables})
}

// GetScope handles GET /sessions/{id}/scope.
func (h *SessionHandler) GetScope(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	sc, err := h.turns.Scope(sessionID)
	if err != nil {
		_ = ErrorResponse(w, http.StatusNotFound, "no_scope", err.Error())
		return
	}
	h.respond(w, http.StatusOK, ScopeResponse{ScopeID: sc.ID, Tables: sc.Tables})
}

// Ask handles POST /sessions/{id}/ask. The response is the finalized turn;
// pipeline failures are reported in the turn body with status 200 because
// the turn itself completed its lifecycle.
func (h *SessionHandler) Ask(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Question == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "question is required")
		return
	}

	turn, err := h.turns.Ask(r.Context(), sessionID, req.Question)
	if err != nil {
		h.writeScopeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, turn)
}

// Resubmit handles POST /sessions/{id}/resubmit.
func (h *SessionHandler) Resubmit(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req ResubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SQL == "" {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_request", "sql is required")
		return
	}

	turn, err := h.turns.ResubmitEdited(r.Context(), sessionID, req.Question, req.SQL)
	if err != nil {
		h.writeScopeError(w, err)
		return
	}
	h.respond(w, http.StatusOK, turn)
}

// Turns handles GET /sessions/{id}/turns.
func (h *SessionHandler) Turns(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	turns, err := h.turns.History(r.Context(), sessionID)
	if err != nil {
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "failed to load history")
		return
	}
	if turns == nil {
		turns = []*models.Turn{}
	}
	h.respond(w, http.StatusOK, turns)
}

func (h *SessionHandler) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		_ = ErrorResponse(w, http.StatusBadRequest, "invalid_session_id", "session id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *SessionHandler) writeScopeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNoScope):
		_ = ErrorResponse(w, http.StatusConflict, "no_scope", err.Error())
	case errors.Is(err, apperrors.ErrEmptyScope):
		_ = ErrorResponse(w, http.StatusBadRequest, "empty_scope", err.Error())
	case errors.Is(err, apperrors.ErrUnknownTable):
		_ = ErrorResponse(w, http.StatusBadRequest, "unknown_table", err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		_ = ErrorResponse(w, http.StatusInternalServerError, "internal_error", "request failed")
	}
}

func (h *SessionHandler) respond(w http.ResponseWriter, status int, data any) {
	if err := WriteJSON(w, status, data); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
