package workflow

import (
	"time"

	"github.com/shopspring/decimal"
)

// Document is a financial document of the expenditure chain. Once it leaves
// brouillon, status and financial fields are mutated only through the
// transition engine.
type Document struct {
	ID         string
	Kind       Kind
	Numero     string
	Status     Status
	ExerciseID string
	Objet      string
	Montant    decimal.Decimal

	// ImputationCode is the declared budget-line coordinate, when any.
	ImputationCode *string
	// ImputationWarning records the last non-ok reconciliation outcome.
	ImputationWarning *string

	// PredecessorID points to the immediate upstream document in the chain
	// (a liquidation references its engagement).
	PredecessorID *string
	// DossierID groups all documents of one spending case.
	DossierID   *string
	DirectionID *string

	// Version is the optimistic-concurrency token; every committed
	// transition increments it.
	Version int64

	CreatedBy       string
	SubmittedBy     *string
	SubmittedAt     *time.Time
	ValidatedBy     *string
	ValidatedAt     *time.Time
	RejectedBy      *string
	RejectedAt      *time.Time
	RejectionReason *string
	DeferredBy      *string
	DeferredAt      *time.Time
	DeferMotif      *string
	DeferredUntil   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransitionEvent is one immutable history record. Never updated or deleted;
// the append-only trail is the authoritative audit log.
type TransitionEvent struct {
	ID         string
	DocumentID string
	FromStatus Status
	ToStatus   Status
	Action     Action
	// ActorID is the user who performed the action; EffectiveActorID is the
	// titulaire whose authority was exercised (differs under delegation or
	// interim, equal otherwise).
	ActorID          string
	EffectiveActorID string
	Justification    *string
	// OperationID deduplicates retried requests; unique per event.
	OperationID string
	OccurredAt  time.Time
}
