// Package services orchestrates the question-to-answer pipeline. The
// service owns the stage ordering and the ledger writes; the stages
// themselves live in their own packages and know nothing about each other.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/plainquery/plainquery-engine/pkg/apperrors"
	"github.com/plainquery/plainquery-engine/pkg/audit"
	"github.com/plainquery/plainquery-engine/pkg/catalog"
	"github.com/plainquery/plainquery-engine/pkg/ledger"
	"github.com/plainquery/plainquery-engine/pkg/models"
	"github.com/plainquery/plainquery-engine/pkg/observability"
	"github.com/plainquery/plainquery-engine/pkg/scope"
	enginesql "github.com/plainquery/plainquery-engine/pkg/sql"
)

// Synthesizer generates a candidate query for a question.
type Synthesizer interface {
	Synthesize(ctx context.Context, scope *models.Scope, question string, history []*models.Turn) (*models.CandidateQuery, int, error)
}

// Executor runs a sanitized statement under containment.
type Executor interface {
	Execute(ctx context.Context, sqlText string) (*models.ExecutionOutcome, error)
}

// Summarizer produces the plain-language answer from an outcome.
type Summarizer interface {
	Summarize(ctx context.Context, question, executedSQL string, outcome *models.ExecutionOutcome) (string, error)
}

// TurnService runs complete turns and maintains per-session scopes.
type TurnService interface {
	// SetScope resolves the selected tables against the catalog and makes
	// the resulting scope active for the session. In-flight turns keep the
	// scope they started with.
	SetScope(ctx context.Context, sessionID uuid.UUID, tables []string) (*models.Scope, error)

	// Scope returns the session's active scope.
	Scope(sessionID uuid.UUID) (*models.Scope, error)

	// Ask runs the full pipeline for one question. The returned turn is
	// finalized and already appended to the ledger; pipeline-stage failures
	// are reported on the turn, not as an error.
	Ask(ctx context.Context, sessionID uuid.UUID, question string) (*models.Turn, error)

	// ResubmitEdited runs a user-edited statement through validation and
	// the rest of the pipeline. The edit gets no trust for having a
	// model-generated ancestor; it is validated from scratch.
	ResubmitEdited(ctx context.Context, sessionID uuid.UUID, question, sqlText string) (*models.Turn, error)

	// History returns the session's finalized turns, oldest-first.
	History(ctx context.Context, sessionID uuid.UUID) ([]*models.Turn, error)
}

type turnService struct {
	catalog     *catalog.Catalog
	synthesizer Synthesizer
	validator   *enginesql.Validator
	executor    Executor
	summarizer  Summarizer
	ledger      ledger.Ledger
	auditor     *audit.SecurityAuditor
	logger      *zap.Logger

	contextTurns int

	mu       sync.Mutex
	scopes   map[uuid.UUID]*models.Scope
	sessions map[uuid.UUID]*sync.Mutex
}

// NewTurnService wires the pipeline stages together.
func NewTurnService(
	cat *catalog.Catalog,
	synthesizer Synthesizer,
	validator *enginesql.Validator,
	executor Executor,
	summarizer Summarizer,
	led ledger.Ledger,
	auditor *audit.SecurityAuditor,
	contextTurns int,
	logger *zap.Logger,
) TurnService {
	return &turnService{
		catalog:      cat,
		synthesizer:  synthesizer,
		validator:    validator,
		executor:     executor,
		summarizer:   summarizer,
		ledger:       led,
		auditor:      auditor,
		contextTurns: contextTurns,
		logger:       logger.Named("turn_service"),
		scopes:       make(map[uuid.UUID]*models.Scope),
		sessions:     make(map[uuid.UUID]*sync.Mutex),
	}
}

var _ TurnService = (*turnService)(nil)

func (s *turnService) SetScope(ctx context.Context, sessionID uuid.UUID, tables []string) (*models.Scope, error) {
	sc, err := scope.Resolve(s.catalog, sessionID, tables)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.scopes[sessionID] = sc
	s.mu.Unlock()

	s.logger.Info("scope set",
		zap.String("session_id", sessionID.String()),
		zap.String("scope_id", sc.ID.String()),
		zap.Strings("tables", sc.TableNames()))
	return sc, nil
}

func (s *turnService) Scope(sessionID uuid.UUID) (*models.Scope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scopes[sessionID]
	if !ok {
		return nil, apperrors.ErrNoScope
	}
	return sc, nil
}

func (s *turnService) Ask(ctx context.Context, sessionID uuid.UUID, question string) (*models.Turn, error) {
	sc, err := s.Scope(sessionID)
	if err != nil {
		return nil, err
	}

	// One turn at a time per session: concurrent questions would interleave
	// their ledger events and race on conversational context.
	unlock := s.lockSession(sessionID)
	defer unlock()

	turn := s.newTurn(sessionID, sc, question)

	history, err := s.ledger.RecentTurns(ctx, sessionID, s.contextTurns)
	if err != nil {
		return nil, fmt.Errorf("failed to load session history: %w", err)
	}
	s.appendEvent(ctx, turn, models.StagePromptBuilt,
		fmt.Sprintf("scope %s, %d tables, %d context turns", sc.ID, len(sc.Tables), len(history)))

	candidate, attempts, err := s.synthesizer.Synthesize(ctx, sc, question, history)
	turn.SynthesisAttempts = attempts
	if err != nil {
		s.appendEvent(ctx, turn, models.StageSynthesis, err.Error())
		return s.finalize(ctx, turn, s.failureStatus(ctx, models.TurnFailedSynthesis), models.StageSynthesis, err)
	}
	turn.Candidate = candidate
	s.appendEvent(ctx, turn, models.StageSynthesis,
		fmt.Sprintf("candidate %s after %d attempts", candidate.ID, attempts))

	return s.validateAndRun(ctx, turn, sc)
}

func (s *turnService) ResubmitEdited(ctx context.Context, sessionID uuid.UUID, question, sqlText string) (*models.Turn, error) {
	sc, err := s.Scope(sessionID)
	if err != nil {
		return nil, err
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	turn := s.newTurn(sessionID, sc, question)
	turn.Candidate = userEditCandidate(sqlText)
	s.appendEvent(ctx, turn, models.StageSynthesis, "user-edited statement, generation skipped")

	return s.validateAndRun(ctx, turn, sc)
}

// validateAndRun is the shared back half of the pipeline: validation,
// execution, interpretation, finalization.
func (s *turnService) validateAndRun(ctx context.Context, turn *models.Turn, sc *models.Scope) (*models.Turn, error) {
	verdict := s.validator.Validate(turn.Candidate, sc)
	turn.Verdict = verdict

	if !verdict.Pass {
		s.appendEvent(ctx, turn, models.StageValidation,
			"rejected: "+strings.Join(verdict.Rules, ", "))
		s.recordRejection(turn)
		return s.finalize(ctx, turn, models.TurnRejected, models.StageValidation,
			fmt.Errorf("statement rejected: %s", strings.Join(verdict.Rules, ", ")))
	}
	s.appendEvent(ctx, turn, models.StageValidation, validationDetail(verdict))

	outcome, err := s.executor.Execute(ctx, verdict.SanitizedSQL)
	turn.Outcome = outcome
	if err != nil {
		s.appendEvent(ctx, turn, models.StageExecution, err.Error())
		return s.finalize(ctx, turn, s.failureStatus(ctx, models.TurnFailedExecution), models.StageExecution, err)
	}
	s.appendEvent(ctx, turn, models.StageExecution,
		fmt.Sprintf("%d rows in %s", outcome.RowCount, outcome.Elapsed))
	observability.ObserveExecution(outcome.Elapsed, outcome.RowCount)
	s.auditor.LogExecutedStatement(turn.SessionID, turn.ID, verdict.SanitizedSQL, outcome)

	summary, err := s.summarizer.Summarize(ctx, turn.Question, verdict.SanitizedSQL, outcome)
	if err != nil {
		// Non-fatal. The rows are the answer; the summary is a convenience.
		s.appendEvent(ctx, turn, models.StageInterpretation, err.Error())
		s.logger.Warn("summary unavailable",
			zap.String("turn_id", turn.ID.String()),
			zap.Error(err))
	} else {
		turn.Summary = summary
		s.appendEvent(ctx, turn, models.StageInterpretation, "summary produced")
	}

	return s.finalize(ctx, turn, models.TurnCompleted, "", nil)
}

func (s *turnService) History(ctx context.Context, sessionID uuid.UUID) ([]*models.Turn, error) {
	return s.ledger.TurnsBySession(ctx, sessionID)
}

func (s *turnService) newTurn(sessionID uuid.UUID, sc *models.Scope, question string) *models.Turn {
	return &models.Turn{
		ID:        uuid.New(),
		SessionID: sessionID,
		ScopeID:   sc.ID,
		Question:  strings.TrimSpace(question),
		CreatedAt: time.Now().UTC(),
	}
}

func (s *turnService) lockSession(sessionID uuid.UUID) func() {
	s.mu.Lock()
	m, ok := s.sessions[sessionID]
	if !ok {
		m = &sync.Mutex{}
		s.sessions[sessionID] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// finalize stamps the turn, appends it to the ledger, and records metrics.
// The turn is returned to the caller even when the pipeline failed; the
// cause travels on the turn itself.
func (s *turnService) finalize(ctx context.Context, turn *models.Turn, status models.TurnStatus, stage string, cause error) (*models.Turn, error) {
	turn.Status = status
	turn.FinalizedAt = time.Now().UTC()
	if cause != nil {
		turn.ErrorStage = stage
		turn.ErrorMessage = cause.Error()
	}

	// Ledger writes survive caller cancellation; a cancelled turn is still
	// history.
	if err := s.ledger.AppendTurn(context.WithoutCancel(ctx), turn); err != nil {
		s.logger.Error("failed to append turn",
			zap.String("turn_id", turn.ID.String()),
			zap.Error(err))
		return nil, fmt.Errorf("failed to append turn: %w", err)
	}
	observability.ObserveTurn(string(status), turn.SynthesisAttempts)

	s.logger.Info("turn finalized",
		zap.String("turn_id", turn.ID.String()),
		zap.String("session_id", turn.SessionID.String()),
		zap.String("status", string(status)))
	return turn, nil
}

func (s *turnService) appendEvent(ctx context.Context, turn *models.Turn, stage, detail string) {
	event := &models.TurnEvent{
		ID:        uuid.New(),
		TurnID:    turn.ID,
		SessionID: turn.SessionID,
		Stage:     stage,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.ledger.AppendEvent(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("failed to append turn event",
			zap.String("turn_id", turn.ID.String()),
			zap.String("stage", stage),
			zap.Error(err))
	}
}

// recordRejection feeds the audit and metrics surfaces on a fail verdict.
func (s *turnService) recordRejection(turn *models.Turn) {
	observability.ObserveValidationFailure(turn.Verdict.Rules)
	s.auditor.LogBlockedStatement(turn.SessionID, turn.ID, turn.Candidate, turn.Verdict.Rules)

	for _, rule := range turn.Verdict.Rules {
		if rule != models.RuleSuspiciousLiteral {
			continue
		}
		if analysis, err := enginesql.Analyze(turn.Candidate.SQL); err == nil {
			for _, hit := range enginesql.ScreenLiterals(analysis) {
				s.auditor.LogInjectionLiteral(turn.SessionID, turn.ID, hit.Literal, hit.Fingerprint)
			}
		}
	}
}

// failureStatus maps a stage failure to the turn status, folding caller
// cancellation into its own terminal state.
func (s *turnService) failureStatus(ctx context.Context, status models.TurnStatus) models.TurnStatus {
	if errors.Is(ctx.Err(), context.Canceled) {
		return models.TurnCancelled
	}
	return status
}

func userEditCandidate(sqlText string) *models.CandidateQuery {
	candidate := &models.CandidateQuery{
		ID:     uuid.New(),
		Source: models.SourceUserEdit,
		SQL:    strings.TrimSpace(sqlText),
		Kind:   models.StatementUnknown,
	}
	if analysis, err := enginesql.Analyze(candidate.SQL); err == nil {
		candidate.Kind = analysis.Kind
		candidate.ReferencedTables = analysis.ReferencedTableNames()
	}
	return candidate
}

func validationDetail(verdict *models.Verdict) string {
	if verdict.LimitInjected {
		return "passed, row limit enforced"
	}
	return "passed"
}
