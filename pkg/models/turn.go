package models

import (
	"time"

	"github.com/google/uuid"
)

// StatementKind is the classification of a candidate statement, derived by
// parsing the statement text. Never taken from anything the model claims
// about its own output.
type StatementKind string

const (
	StatementSelect  StatementKind = "SELECT"
	StatementUnknown StatementKind = "UNKNOWN"
)

// CandidateSource records where a candidate statement came from.
type CandidateSource string

const (
	SourceModel    CandidateSource = "model"
	SourceUserEdit CandidateSource = "user_edit"
)

// CandidateQuery is an unvalidated SQL statement. RawResponse preserves the
// full model output for audit; SQL is the extracted statement. Kind and
// ReferencedTables are computed by parsing SQL.
type CandidateQuery struct {
	ID               uuid.UUID       `json:"id"`
	Source           CandidateSource `json:"source"`
	RawResponse      string          `json:"raw_response,omitempty"`
	SQL              string          `json:"sql"`
	Kind             StatementKind   `json:"kind"`
	ReferencedTables []string        `json:"referenced_tables,omitempty"`
}

// Validation rule identifiers, in the order the validator applies them.
const (
	RuleUnparseable       = "unparseable"
	RuleNonReadOnly       = "non-read-only"
	RuleScopeViolation    = "scope-violation"
	RuleMetadataEscape    = "metadata-escape"
	RuleSuspiciousLiteral = "suspicious-literal"
)

// Verdict is the safety validator's decision for exactly one CandidateQuery.
// SanitizedSQL is the statement that may actually execute: the candidate
// with a row limit injected or clamped. Both the original and the sanitized
// statement are retained on the Turn for audit.
type Verdict struct {
	Pass bool `json:"pass"`
	// Rules lists every violated rule, in evaluation order.
	Rules        []string `json:"rules,omitempty"`
	SanitizedSQL string   `json:"sanitized_sql,omitempty"`
	// LimitInjected is true when the sanitized statement differs from the
	// candidate because a row limit was added or clamped.
	LimitInjected bool `json:"limit_injected"`
}

// ColumnInfo describes one column of a result set.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ExecutionOutcome is the immutable result of running a validated statement.
type ExecutionOutcome struct {
	Columns   []ColumnInfo     `json:"columns,omitempty"`
	Rows      []map[string]any `json:"rows,omitempty"`
	RowCount  int              `json:"row_count"`
	Truncated bool             `json:"truncated"`
	Elapsed   time.Duration    `json:"elapsed"`
	// Err carries the engine-reported error text, empty on success.
	Err string `json:"error,omitempty"`
}

// TurnStatus describes how a turn ended.
type TurnStatus string

const (
	TurnCompleted       TurnStatus = "completed"
	TurnRejected        TurnStatus = "rejected"         // validator verdict was fail
	TurnFailedSynthesis TurnStatus = "failed_synthesis" // no candidate produced
	TurnFailedExecution TurnStatus = "failed_execution"
	TurnCancelled       TurnStatus = "cancelled"
)

// Turn is one complete question/answer exchange and its audit trail.
// Fields fill progressively as the pipeline advances; the finalized Turn is
// appended to the ledger exactly once and never rewritten.
type Turn struct {
	ID        uuid.UUID `json:"id"`
	SessionID uuid.UUID `json:"session_id"`
	ScopeID   uuid.UUID `json:"scope_id"`
	Question  string    `json:"question"`

	Candidate *CandidateQuery   `json:"candidate,omitempty"`
	Verdict   *Verdict          `json:"verdict,omitempty"`
	Outcome   *ExecutionOutcome `json:"outcome,omitempty"`
	Summary   string            `json:"summary,omitempty"`

	Status            TurnStatus `json:"status"`
	ErrorStage        string     `json:"error_stage,omitempty"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	SynthesisAttempts int        `json:"synthesis_attempts"`

	CreatedAt   time.Time `json:"created_at"`
	FinalizedAt time.Time `json:"finalized_at"`
}

// Executed reports whether this turn actually ran a statement. It is only
// possible after a pass verdict; the pipeline enforces the ordering and this
// accessor is what the audit surface reads.
func (t *Turn) Executed() bool {
	return t.Verdict != nil && t.Verdict.Pass && t.Outcome != nil
}

// TurnEvent is one append-only stage record for a turn. Events are written
// after every pipeline stage so the ledger captures progress even for turns
// that never finalize cleanly.
type TurnEvent struct {
	ID        uuid.UUID `json:"id"`
	TurnID    uuid.UUID `json:"turn_id"`
	SessionID uuid.UUID `json:"session_id"`
	Stage     string    `json:"stage"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Pipeline stage names used in TurnEvent and Turn.ErrorStage.
const (
	StagePromptBuilt    = "prompt_built"
	StageSynthesis      = "synthesis"
	StageValidation     = "validation"
	StageExecution      = "execution"
	StageInterpretation = "interpretation"
)
