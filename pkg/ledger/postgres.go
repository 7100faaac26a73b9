package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/plainquery/plainquery-engine/pkg/apperrors"
	"github.com/plainquery/plainquery-engine/pkg/models"
)

type postgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger creates a ledger backed by the engine store.
func NewPostgresLedger(pool *pgxpool.Pool) Ledger {
	return &postgresLedger{pool: pool}
}

var _ Ledger = (*postgresLedger)(nil)

const turnColumns = `id, session_id, scope_id, question,
		candidate, verdict, outcome, summary,
		status, error_stage, error_message, synthesis_attempts,
		created_at, finalized_at`

func (l *postgresLedger) AppendTurn(ctx context.Context, turn *models.Turn) error {
	candidateJSON, err := marshalNullable(turn.Candidate)
	if err != nil {
		return fmt.Errorf("failed to marshal candidate: %w", err)
	}
	verdictJSON, err := marshalNullable(turn.Verdict)
	if err != nil {
		return fmt.Errorf("failed to marshal verdict: %w", err)
	}
	outcomeJSON, err := marshalNullable(turn.Outcome)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}

	query := `
		INSERT INTO engine_turns (
			id, session_id, scope_id, question,
			candidate, verdict, outcome, summary,
			status, error_stage, error_message, synthesis_attempts,
			created_at, finalized_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err = l.pool.Exec(ctx, query,
		turn.ID,
		turn.SessionID,
		turn.ScopeID,
		turn.Question,
		candidateJSON,
		verdictJSON,
		outcomeJSON,
		turn.Summary,
		turn.Status,
		turn.ErrorStage,
		turn.ErrorMessage,
		turn.SynthesisAttempts,
		turn.CreatedAt,
		turn.FinalizedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

func (l *postgresLedger) AppendEvent(ctx context.Context, event *models.TurnEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}

	query := `
		INSERT INTO engine_turn_events (id, turn_id, session_id, stage, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := l.pool.Exec(ctx, query,
		event.ID,
		event.TurnID,
		event.SessionID,
		event.Stage,
		event.Detail,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append turn event: %w", err)
	}
	return nil
}

func (l *postgresLedger) Turn(ctx context.Context, id uuid.UUID) (*models.Turn, error) {
	query := fmt.Sprintf(`SELECT %s FROM engine_turns WHERE id = $1`, turnColumns)

	turn, err := scanTurn(l.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrTurnNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get turn: %w", err)
	}
	return turn, nil
}

func (l *postgresLedger) RecentTurns(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.Turn, error) {
	// Fetch newest-first, then reverse so callers get chronological order.
	query := fmt.Sprintf(`
		SELECT %s FROM engine_turns
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, turnColumns)

	turns, err := l.queryTurns(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

func (l *postgresLedger) TurnsBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.Turn, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM engine_turns
		WHERE session_id = $1
		ORDER BY created_at ASC, id ASC`, turnColumns)

	return l.queryTurns(ctx, query, sessionID)
}

func (l *postgresLedger) EventsByTurn(ctx context.Context, turnID uuid.UUID) ([]*models.TurnEvent, error) {
	query := `
		SELECT id, turn_id, session_id, stage, detail, created_at
		FROM engine_turn_events
		WHERE turn_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := l.pool.Query(ctx, query, turnID)
	if err != nil {
		return nil, fmt.Errorf("failed to list turn events: %w", err)
	}
	defer rows.Close()

	var events []*models.TurnEvent
	for rows.Next() {
		var e models.TurnEvent
		if err := rows.Scan(&e.ID, &e.TurnID, &e.SessionID, &e.Stage, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn event: %w", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turn events: %w", err)
	}
	return events, nil
}

func (l *postgresLedger) queryTurns(ctx context.Context, query string, args ...any) ([]*models.Turn, error) {
	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list turns: %w", err)
	}
	defer rows.Close()

	var turns []*models.Turn
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate turns: %w", err)
	}
	return turns, nil
}

func scanTurn(row pgx.Row) (*models.Turn, error) {
	var (
		turn          models.Turn
		candidateJSON []byte
		verdictJSON   []byte
		outcomeJSON   []byte
	)
	err := row.Scan(
		&turn.ID,
		&turn.SessionID,
		&turn.ScopeID,
		&turn.Question,
		&candidateJSON,
		&verdictJSON,
		&outcomeJSON,
		&turn.Summary,
		&turn.Status,
		&turn.ErrorStage,
		&turn.ErrorMessage,
		&turn.SynthesisAttempts,
		&turn.CreatedAt,
		&turn.FinalizedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalNullable(candidateJSON, &turn.Candidate); err != nil {
		return nil, fmt.Errorf("failed to unmarshal candidate: %w", err)
	}
	if err := unmarshalNullable(verdictJSON, &turn.Verdict); err != nil {
		return nil, fmt.Errorf("failed to unmarshal verdict: %w", err)
	}
	if err := unmarshalNullable(outcomeJSON, &turn.Outcome); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outcome: %w", err)
	}
	return &turn, nil
}

func marshalNullable[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalNullable[T any](data []byte, target **T) error {
	if len(data) == 0 {
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*target = &v
	return nil
}
