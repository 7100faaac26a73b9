// Package audit provides security audit logging for SIEM consumption.
// Security-relevant pipeline decisions are logged as structured JSON under a
// dedicated logger namespace so they can be filtered and alerted on
// independently of operational logs.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/plainquery/plainquery-engine/pkg/logging"
	"github.com/plainquery/plainquery-engine/pkg/models"
)

// SecurityEventType categorizes security-relevant events for filtering.
type SecurityEventType string

const (
	// EventStatementBlocked is logged when the validator rejects a candidate.
	EventStatementBlocked SecurityEventType = "statement_blocked"
	// EventInjectionLiteral is logged when libinjection flags a string
	// literal inside a candidate.
	EventInjectionLiteral SecurityEventType = "injection_literal"
	// EventStatementExecuted is logged for every executed statement.
	EventStatementExecuted SecurityEventType = "statement_executed"
)

// SecurityEvent is one auditable event with the context a SIEM needs.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	SessionID uuid.UUID         `json:"session_id"`
	TurnID    uuid.UUID         `json:"turn_id"`
	Details   any               `json:"details"`
	Severity  string            `json:"severity"` // info, warning, critical
}

// BlockedStatementDetails records why a candidate was refused.
type BlockedStatementDetails struct {
	Source string   `json:"source"` // model or user_edit
	SQL    string   `json:"sql"`
	Rules  []string `json:"rules"`
}

// InjectionLiteralDetails records a literal that scanned as SQL.
type InjectionLiteralDetails struct {
	Literal     string `json:"literal"`
	Fingerprint string `json:"fingerprint"`
}

// ExecutedStatementDetails records an executed statement for traceability.
type ExecutedStatementDetails struct {
	SQL      string `json:"sql"`
	RowCount int    `json:"row_count"`
	Elapsed  string `json:"elapsed"`
}

// SecurityAuditor logs security events. It never blocks the pipeline;
// logging failures are swallowed by zap.
type SecurityAuditor struct {
	logger *zap.Logger
}

// NewSecurityAuditor creates an auditor under the "security_audit" namespace.
func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogBlockedStatement records a validator refusal. Warning severity: a
// refusal is the system working, but repeated refusals on one session are a
// probe signature.
func (a *SecurityAuditor) LogBlockedStatement(sessionID, turnID uuid.UUID, candidate *models.CandidateQuery, rules []string) {
	a.emit(SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventStatementBlocked,
		SessionID: sessionID,
		TurnID:    turnID,
		Severity:  "warning",
		Details: BlockedStatementDetails{
			Source: string(candidate.Source),
			SQL:    logging.SanitizeSQL(candidate.SQL),
			Rules:  rules,
		},
	}, zapcore.WarnLevel)
}

// LogInjectionLiteral records a literal libinjection flagged. Critical: this
// only fires on statements that were already syntactically valid SQL, so a
// hit means someone is crafting payloads.
func (a *SecurityAuditor) LogInjectionLiteral(sessionID, turnID uuid.UUID, literal, fingerprint string) {
	a.emit(SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventInjectionLiteral,
		SessionID: sessionID,
		TurnID:    turnID,
		Severity:  "critical",
		Details: InjectionLiteralDetails{
			Literal:     logging.SanitizeSQL(literal),
			Fingerprint: fingerprint,
		},
	}, zapcore.ErrorLevel)
}

// LogExecutedStatement records a successful execution.
func (a *SecurityAuditor) LogExecutedStatement(sessionID, turnID uuid.UUID, sqlText string, outcome *models.ExecutionOutcome) {
	a.emit(SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: EventStatementExecuted,
		SessionID: sessionID,
		TurnID:    turnID,
		Severity:  "info",
		Details: ExecutedStatementDetails{
			SQL:      logging.SanitizeSQL(sqlText),
			RowCount: outcome.RowCount,
			Elapsed:  outcome.Elapsed.String(),
		},
	}, zapcore.InfoLevel)
}

func (a *SecurityAuditor) emit(event SecurityEvent, level zapcore.Level) {
	payload, err := json.Marshal(event)
	if err != nil {
		a.logger.Error("failed to marshal security event", zap.Error(err))
		return
	}

	fields := []zap.Field{
		zap.String("event_type", string(event.EventType)),
		zap.String("severity", event.Severity),
		zap.String("session_id", event.SessionID.String()),
		zap.String("turn_id", event.TurnID.String()),
		zap.ByteString("event", payload),
	}

	switch level {
	case zapcore.ErrorLevel:
		a.logger.Error("security event", fields...)
	case zapcore.WarnLevel:
		a.logger.Warn("security event", fields...)
	default:
		a.logger.Info("security event", fields...)
	}
}
