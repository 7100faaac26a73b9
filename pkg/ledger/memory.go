package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/plainquery/plainquery-engine/pkg/apperrors"
	"github.com/plainquery/plainquery-engine/pkg/models"
)

// memoryLedger keeps turns in memory. Used in tests and when the engine
// store is disabled; the append-only contract is identical to the postgres
// ledger.
type memoryLedger struct {
	mu        sync.RWMutex
	turns     map[uuid.UUID]*models.Turn
	bySession map[uuid.UUID][]*models.Turn
	events    map[uuid.UUID][]*models.TurnEvent
}

// NewMemoryLedger creates an in-memory ledger.
func NewMemoryLedger() Ledger {
	return &memoryLedger{
		turns:     make(map[uuid.UUID]*models.Turn),
		bySession: make(map[uuid.UUID][]*models.Turn),
		events:    make(map[uuid.UUID][]*models.TurnEvent),
	}
}

var _ Ledger = (*memoryLedger)(nil)

func (l *memoryLedger) AppendTurn(ctx context.Context, turn *models.Turn) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.turns[turn.ID]; exists {
		return fmt.Errorf("turn %s already appended", turn.ID)
	}
	l.turns[turn.ID] = turn
	l.bySession[turn.SessionID] = append(l.bySession[turn.SessionID], turn)
	return nil
}

func (l *memoryLedger) AppendEvent(ctx context.Context, event *models.TurnEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	l.events[event.TurnID] = append(l.events[event.TurnID], event)
	return nil
}

func (l *memoryLedger) Turn(ctx context.Context, id uuid.UUID) (*models.Turn, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	turn, ok := l.turns[id]
	if !ok {
		return nil, apperrors.ErrTurnNotFound
	}
	return turn, nil
}

func (l *memoryLedger) RecentTurns(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.Turn, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	turns := l.bySession[sessionID]
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]*models.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (l *memoryLedger) TurnsBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.Turn, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	turns := l.bySession[sessionID]
	out := make([]*models.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (l *memoryLedger) EventsByTurn(ctx context.Context, turnID uuid.UUID) ([]*models.TurnEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	events := l.events[turnID]
	out := make([]*models.TurnEvent, len(events))
	copy(out, events)
	return out, nil
}
