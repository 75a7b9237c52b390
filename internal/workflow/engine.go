package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sygfp/spendchain/internal/apperr"
	"github.com/sygfp/spendchain/internal/budget"
	"github.com/sygfp/spendchain/internal/exercise"
	"github.com/sygfp/spendchain/internal/permission"
)

// Store is the persistence surface the engine needs. CommitTransition must
// write the document update and the event atomically: both or neither.
type Store interface {
	GetDocument(ctx context.Context, id string) (*Document, error)
	// FindEventByOperation returns nil, nil when no event carries the
	// operation id for the document.
	FindEventByOperation(ctx context.Context, documentID, operationID string) (*TransitionEvent, error)
	// CommitTransition persists doc (whose Version field holds the expected
	// current version) and appends event in one transaction. Returns an
	// error matching ErrConcurrencyConflict on a stale version and
	// ErrDuplicateOperation on an operation-id collision.
	CommitTransition(ctx context.Context, doc *Document, event *TransitionEvent) error
	// HasValidatedDocument reports whether the dossier holds a document of
	// the kind in a validated status.
	HasValidatedDocument(ctx context.Context, dossierID string, kind Kind) (bool, error)
}

// ErrDuplicateOperation is returned by stores on an operation-id unique
// violation; the engine resolves it to the previously recorded outcome.
var ErrDuplicateOperation = errors.New("duplicate operation id")

// PermissionResolver decides step authorization; see internal/permission.
type PermissionResolver interface {
	Resolve(ctx context.Context, actor permission.Actor, action, step string) (permission.Decision, error)
	// ResolveRoles decides against an explicit allowed-role list instead of
	// the step matrix, for rules that restrict a transition to named roles.
	ResolveRoles(ctx context.Context, actor permission.Actor, allowed []string) (permission.Decision, error)
}

// ExerciseGuard gates mutations on the fiscal exercise state.
type ExerciseGuard interface {
	AssertWritable(ctx context.Context, exerciseID string) error
}

// BudgetChecker reconciles a declared imputation; see internal/budget.
type BudgetChecker interface {
	ValidateImputation(ctx context.Context, code, exerciseID string, declared decimal.Decimal) (budget.ImputationCheck, error)
}

// AttachmentChecker answers "are the required supporting documents present",
// a boolean existence check only.
type AttachmentChecker interface {
	HasRequiredAttachments(ctx context.Context, documentID string, kind Kind) (bool, error)
}

// Notifier receives committed transitions, fire-and-forget. Implementations
// must never fail the transition.
type Notifier interface {
	TransitionOccurred(ctx context.Context, doc *Document, event *TransitionEvent)
}

// TransitionRequest is one attempt to move a document through the chain.
type TransitionRequest struct {
	DocumentID    string
	Action        Action
	Actor         permission.Actor
	Justification string
	// ResumeDate is stored on defer for later resumption.
	ResumeDate *time.Time
	// OperationID makes retries idempotent. Optional but recommended.
	OperationID string
}

// TransitionResult is the success outcome of AttemptTransition.
type TransitionResult struct {
	Document *Document
	Event    *TransitionEvent
	// Warning carries a non-blocking imputation anomaly, when one was found.
	Warning *budget.ImputationCheck
	// Duplicate is true when the operation id had already been applied;
	// Document and Event then reflect the original application.
	Duplicate bool
}

// Engine applies transitions. It holds no document state of its own: every
// attempt reads fresh state and commits through optimistic concurrency.
type Engine struct {
	store       Store
	resolver    PermissionResolver
	guard       ExerciseGuard
	budget      BudgetChecker
	attachments AttachmentChecker
	notifier    Notifier
	log         zerolog.Logger
	now         func() time.Time
	newID       func() string
}

func NewEngine(
	store Store,
	resolver PermissionResolver,
	guard ExerciseGuard,
	budgetChecker BudgetChecker,
	attachments AttachmentChecker,
	notifier Notifier,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		store:       store,
		resolver:    resolver,
		guard:       guard,
		budget:      budgetChecker,
		attachments: attachments,
		notifier:    notifier,
		log:         log,
		now:         time.Now,
		newID:       func() string { return uuid.NewString() },
	}
}

// WithClock overrides the time source, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// AttemptTransition runs the full pipeline: exercise guard, legality,
// permission, prerequisites, destination, atomic commit, notification.
// Business-rule failures come back as *TransitionError; anything else is
// an infrastructure error.
func (e *Engine) AttemptTransition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	doc, err := e.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}

	// Duplicate submission short-circuit: same operation id, same outcome.
	if req.OperationID != "" {
		prior, err := e.store.FindEventByOperation(ctx, doc.ID, req.OperationID)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to check operation id")
		}
		if prior != nil {
			if prior.Action != req.Action {
				return nil, apperr.InvalidInput("operation_id",
					"operation id "+req.OperationID+" was already used for action "+string(prior.Action))
			}
			return &TransitionResult{Document: doc, Event: prior, Duplicate: true}, nil
		}
	}

	// 1. Fiscal exercise must be writable, whoever asks.
	if err := e.guard.AssertWritable(ctx, doc.ExerciseID); err != nil {
		if errors.Is(err, exercise.ErrReadOnly) {
			return nil, newTransitionError(ErrExerciseReadOnly, err.Error())
		}
		return nil, err
	}

	// 2. The action must be legal from the current status.
	rule, ok := FindRule(doc.Kind, doc.Status, req.Action, doc.Montant)
	if !ok {
		return nil, newTransitionError(ErrIllegalTransition,
			"action "+string(req.Action)+" is not legal from status "+string(doc.Status)+" for "+string(doc.Kind))
	}

	// 3. The actor must be authorized, directly or by substitution. A rule
	// carrying its own role list replaces the step matrix for this check.
	var decision permission.Decision
	if len(rule.Roles) > 0 {
		decision, err = e.resolver.ResolveRoles(ctx, req.Actor, rule.Roles)
	} else {
		decision, err = e.resolver.Resolve(ctx, req.Actor, MatrixAction(req.Action), string(doc.Kind))
	}
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, newTransitionError(ErrUnauthorized,
			"actor "+req.Actor.ID+" may not "+string(req.Action)+" a "+string(doc.Kind))
	}

	// 4. Step prerequisites.
	warning, terr, err := e.checkPrerequisites(ctx, doc, rule, req)
	if err != nil {
		return nil, err
	}
	if terr != nil {
		return nil, terr
	}

	// 5. Destination status.
	dest, err := Destination(doc.Kind, rule, doc.Status, doc.Montant)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to compute destination status")
	}

	// 6. Atomic commit of document update + history event.
	updated := *doc
	e.applyStamps(&updated, req, dest)
	if warning != nil {
		w := string(warning.Status)
		updated.ImputationWarning = &w
	}

	event := &TransitionEvent{
		ID:               e.newID(),
		DocumentID:       doc.ID,
		FromStatus:       doc.Status,
		ToStatus:         dest,
		Action:           req.Action,
		ActorID:          req.Actor.ID,
		EffectiveActorID: effectiveActor(req.Actor.ID, decision),
		OperationID:      req.OperationID,
		OccurredAt:       e.now(),
	}
	if j := strings.TrimSpace(req.Justification); j != "" {
		event.Justification = &j
	}

	if err := e.store.CommitTransition(ctx, &updated, event); err != nil {
		switch {
		case errors.Is(err, ErrConcurrencyConflict):
			return nil, newTransitionError(ErrConcurrencyConflict,
				"document "+doc.ID+" changed concurrently; reload and retry")
		case errors.Is(err, ErrDuplicateOperation):
			prior, lookupErr := e.store.FindEventByOperation(ctx, doc.ID, req.OperationID)
			if lookupErr != nil || prior == nil {
				return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "duplicate operation could not be resolved")
			}
			if prior.Action != req.Action {
				return nil, apperr.InvalidInput("operation_id",
					"operation id "+req.OperationID+" was already used for action "+string(prior.Action))
			}
			fresh, lookupErr := e.store.GetDocument(ctx, doc.ID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return &TransitionResult{Document: fresh, Event: prior, Duplicate: true}, nil
		default:
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to commit transition")
		}
	}

	e.log.Info().
		Str("document_id", doc.ID).
		Str("kind", string(doc.Kind)).
		Str("numero", doc.Numero).
		Str("from", string(doc.Status)).
		Str("to", string(dest)).
		Str("action", string(req.Action)).
		Str("actor_id", req.Actor.ID).
		Str("effective_actor_id", event.EffectiveActorID).
		Msg("Transition applied")

	// 7. Notification is fire-and-forget; it can never undo the commit.
	if e.notifier != nil {
		e.notifier.TransitionOccurred(ctx, &updated, event)
	}

	return &TransitionResult{Document: &updated, Event: event, Warning: warning}, nil
}

// checkPrerequisites evaluates rule and kind prerequisites. Returns a
// non-blocking warning, a typed business failure, or an infrastructure error.
func (e *Engine) checkPrerequisites(ctx context.Context, doc *Document, rule Rule, req TransitionRequest) (*budget.ImputationCheck, *TransitionError, error) {
	if rule.RequiresJustification && strings.TrimSpace(req.Justification) == "" {
		return nil, newPrerequisiteError(ReasonMissingJustification,
			"a justification is required to "+string(req.Action)), nil
	}

	if !isApprovalAction(req.Action) {
		return nil, nil, nil
	}

	cfg := ConfigFor(doc.Kind)

	if cfg.PredecessorRequired(doc.Montant) {
		if terr, err := e.checkPredecessor(ctx, doc, cfg); terr != nil || err != nil {
			return nil, terr, err
		}
	}

	if cfg.ConditionalPredecessor != "" && doc.DossierID != nil &&
		doc.Montant.GreaterThanOrEqual(cfg.ConditionalPredecessorMin) {
		ok, err := e.store.HasValidatedDocument(ctx, *doc.DossierID, cfg.ConditionalPredecessor)
		if err != nil {
			return nil, nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to check chain prerequisite")
		}
		if !ok {
			return nil, newPrerequisiteError(ReasonMissingPredecessor,
				"a validated "+string(cfg.ConditionalPredecessor)+" is required from "+cfg.ConditionalPredecessorMin.String()+" FCFA"), nil
		}
	}

	if cfg.RequiresAttachment && e.attachments != nil {
		ok, err := e.attachments.HasRequiredAttachments(ctx, doc.ID, doc.Kind)
		if err != nil {
			return nil, nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to check attachments")
		}
		if !ok {
			return nil, newPrerequisiteError(ReasonMissingAttachment,
				"required supporting documents are missing"), nil
		}
	}

	if doc.ImputationCode != nil && (rule.RequiresBudgetCheck || req.Action == ActionValidate) {
		check, err := e.budget.ValidateImputation(ctx, *doc.ImputationCode, doc.ExerciseID, doc.Montant)
		if err != nil {
			return nil, nil, err
		}
		if check.Blocking(cfg.BudgetHardBlock) {
			return nil, newPrerequisiteError(ReasonBudgetExceeded,
				"amount "+doc.Montant.String()+" exceeds available "+check.Available.String()), nil
		}
		if check.Status != budget.CheckOK {
			return &check, nil, nil
		}
	}

	return nil, nil, nil
}

func (e *Engine) checkPredecessor(ctx context.Context, doc *Document, cfg KindConfig) (*TransitionError, error) {
	if doc.PredecessorID == nil {
		return newPrerequisiteError(ReasonMissingPredecessor,
			"a validated "+string(cfg.Predecessor)+" must precede this "+string(doc.Kind)), nil
	}
	pred, err := e.store.GetDocument(ctx, *doc.PredecessorID)
	if err != nil {
		if apperr.IsNotFound(err) {
			return newPrerequisiteError(ReasonMissingPredecessor,
				"predecessor document "+*doc.PredecessorID+" does not exist"), nil
		}
		return nil, err
	}
	if !IsValidated(pred.Status) {
		return newPrerequisiteError(ReasonMissingPredecessor,
			"predecessor "+pred.Numero+" is "+string(pred.Status)+", not validated"), nil
	}
	return nil, nil
}

// applyStamps sets the destination status and the per-action audit fields
// the original system stamps on the row.
func (e *Engine) applyStamps(doc *Document, req TransitionRequest, dest Status) {
	now := e.now()
	actor := req.Actor.ID
	doc.Status = dest
	doc.UpdatedAt = now

	switch dest {
	case StatusSoumis:
		doc.SubmittedBy = &actor
		doc.SubmittedAt = &now
	case StatusRejete:
		j := strings.TrimSpace(req.Justification)
		doc.RejectedBy = &actor
		doc.RejectedAt = &now
		doc.RejectionReason = &j
	case StatusDiffere:
		j := strings.TrimSpace(req.Justification)
		doc.DeferredBy = &actor
		doc.DeferredAt = &now
		doc.DeferMotif = &j
		doc.DeferredUntil = req.ResumeDate
	default:
		if IsValidated(dest) {
			doc.ValidatedBy = &actor
			doc.ValidatedAt = &now
		}
	}
}

// isApprovalAction reports whether the action advances the document toward
// its validated state, which is when chain, attachment and budget
// prerequisites apply.
func isApprovalAction(a Action) bool {
	switch a {
	case ActionValidate, ActionImpute, ActionSign, ActionPay:
		return true
	}
	return false
}

// MatrixAction maps a workflow action onto the resolver's matrix actions.
// The engine and the action listings share this mapping.
func MatrixAction(a Action) string {
	switch a {
	case ActionSubmit, ActionResubmit, ActionRevise:
		return permission.ActionSubmit
	case ActionValidate:
		return permission.ActionValidate
	case ActionReject:
		return permission.ActionReject
	case ActionDefer:
		return permission.ActionDefer
	case ActionImpute:
		return permission.ActionImpute
	case ActionSign:
		return permission.ActionSign
	case ActionPay, ActionClose:
		return permission.ActionExecute
	}
	return string(a)
}

func effectiveActor(actorID string, d permission.Decision) string {
	if d.ActingOnBehalfOf != nil {
		return *d.ActingOnBehalfOf
	}
	return actorID
}
