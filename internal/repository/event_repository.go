package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/sygfp/spendchain/internal/apperr"
	"github.com/sygfp/spendchain/internal/database"
	"github.com/sygfp/spendchain/internal/workflow"
)

const eventColumns = `
	id, document_id, from_statut, to_statut, action,
	actor_id, effective_actor_id, justification,
	COALESCE(operation_id, ''), occurred_at`

// EventRepository reads the append-only transition history. Events are
// written by DocumentRepository.CommitTransition only; there is no update
// or delete path.
type EventRepository struct {
	db *database.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *database.DB) *EventRepository {
	return &EventRepository{db: db}
}

// ListByDocument returns the full history of a document, oldest first.
func (r *EventRepository) ListByDocument(ctx context.Context, documentID string) ([]*workflow.TransitionEvent, error) {
	query := `SELECT ` + eventColumns + `
		FROM transition_events
		WHERE document_id = $1
		ORDER BY occurred_at ASC, id ASC`

	rows, err := r.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to list transition events")
	}
	defer rows.Close()

	var events []*workflow.TransitionEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to scan transition event")
		}
		events = append(events, ev)
	}
	return events, nil
}

// FindEventByOperation returns the event recorded under the operation id for
// the document, or nil, nil when none exists.
func (r *EventRepository) FindEventByOperation(ctx context.Context, documentID, operationID string) (*workflow.TransitionEvent, error) {
	query := `SELECT ` + eventColumns + `
		FROM transition_events
		WHERE document_id = $1 AND operation_id = $2`

	ev, err := scanEvent(r.db.QueryRow(ctx, query, documentID, operationID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to look up operation id")
	}
	return ev, nil
}

func scanEvent(sc documentScanner) (*workflow.TransitionEvent, error) {
	ev := &workflow.TransitionEvent{}
	err := sc.Scan(
		&ev.ID,
		&ev.DocumentID,
		&ev.FromStatus,
		&ev.ToStatus,
		&ev.Action,
		&ev.ActorID,
		&ev.EffectiveActorID,
		&ev.Justification,
		&ev.OperationID,
		&ev.OccurredAt,
	)
	if err != nil {
		return nil, err
	}
	return ev, nil
}
