// Package ledger persists turns and their stage events. The ledger is
// append-only: a finalized turn is written exactly once and never updated,
// and events only accumulate. History reads feed both the audit surface and
// the synthesis prompt's conversational context.
package ledger

import (
	"context"

	"github.com/google/uuid"

	"github.com/plainquery/plainquery-engine/pkg/models"
)

// Ledger is the append-only record of pipeline activity.
type Ledger interface {
	// AppendTurn writes a finalized turn. Appending the same turn ID twice
	// is an error; turns are immutable once written.
	AppendTurn(ctx context.Context, turn *models.Turn) error

	// AppendEvent writes one stage event. Events survive even when the
	// owning turn never finalizes.
	AppendEvent(ctx context.Context, event *models.TurnEvent) error

	// Turn fetches a single finalized turn.
	Turn(ctx context.Context, id uuid.UUID) (*models.Turn, error)

	// RecentTurns returns up to limit most recent finalized turns for the
	// session, ordered oldest-first so they can be rendered as context.
	RecentTurns(ctx context.Context, sessionID uuid.UUID, limit int) ([]*models.Turn, error)

	// TurnsBySession returns all finalized turns for the session,
	// oldest-first.
	TurnsBySession(ctx context.Context, sessionID uuid.UUID) ([]*models.Turn, error)

	// EventsByTurn returns the stage events for a turn in append order.
	EventsByTurn(ctx context.Context, turnID uuid.UUID) ([]*models.TurnEvent, error)
}
