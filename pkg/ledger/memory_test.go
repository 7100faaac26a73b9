package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plainquery/plainquery-engine/pkg/apperrors"
	"github.com/plainquery/plainquery-engine/pkg/models"
)

func finalizedTurn(sessionID uuid.UUID, question string, at time.Time) *models.Turn {
	return &models.Turn{
		ID:          uuid.New(),
		SessionID:   sessionID,
		ScopeID:     uuid.New(),
		Question:    question,
		Status:      models.TurnCompleted,
		CreatedAt:   at,
		FinalizedAt: at,
	}
}

func TestMemoryLedgerAppendAndGet(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	turn := finalizedTurn(uuid.New(), "how many orders?", time.Now())

	require.NoError(t, l.AppendTurn(ctx, turn))

	got, err := l.Turn(ctx, turn.ID)
	require.NoError(t, err)
	assert.Equal(t, turn.Question, got.Question)
}

func TestMemoryLedgerRejectsDuplicateAppend(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	turn := finalizedTurn(uuid.New(), "q", time.Now())

	require.NoError(t, l.AppendTurn(ctx, turn))
	assert.Error(t, l.AppendTurn(ctx, turn))
}

func TestMemoryLedgerTurnNotFound(t *testing.T) {
	l := NewMemoryLedger()

	_, err := l.Turn(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrTurnNotFound)
}

func TestMemoryLedgerRecentTurnsOrderAndBound(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	sessionID := uuid.New()

	base := time.Now()
	for i := 0; i < 7; i++ {
		turn := finalizedTurn(sessionID, fmt.Sprintf("question %d", i), base.Add(time.Duration(i)*time.Second))
		require.NoError(t, l.AppendTurn(ctx, turn))
	}

	recent, err := l.RecentTurns(ctx, sessionID, 5)
	require.NoError(t, err)

	require.Len(t, recent, 5)
	assert.Equal(t, "question 2", recent[0].Question)
	assert.Equal(t, "question 6", recent[4].Question)

	all, err := l.TurnsBySession(ctx, sessionID)
	require.NoError(t, err)
	assert.Len(t, all, 7)
	assert.Equal(t, "question 0", all[0].Question)
}

func TestMemoryLedgerRecentTurnsIsolatesSessions(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, l.AppendTurn(ctx, finalizedTurn(a, "a1", time.Now())))
	require.NoError(t, l.AppendTurn(ctx, finalizedTurn(b, "b1", time.Now())))

	turns, err := l.TurnsBySession(ctx, a)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "a1", turns[0].Question)
}

func TestMemoryLedgerEvents(t *testing.T) {
	l := NewMemoryLedger()
	ctx := context.Background()
	turnID := uuid.New()
	sessionID := uuid.New()

	for _, stage := range []string{models.StagePromptBuilt, models.StageSynthesis, models.StageValidation} {
		require.NoError(t, l.AppendEvent(ctx, &models.TurnEvent{
			TurnID:    turnID,
			SessionID: sessionID,
			Stage:     stage,
			CreatedAt: time.Now(),
		}))
	}

	events, err := l.EventsByTurn(ctx, turnID)
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, models.StagePromptBuilt, events[0].Stage)
	assert.Equal(t, models.StageValidation, events[2].Stage)
	for _, e := range events {
		assert.NotEqual(t, uuid.Nil, e.ID)
	}
}
