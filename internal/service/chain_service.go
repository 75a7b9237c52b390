package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sygfp/spendchain/internal/apperr"
	"github.com/sygfp/spendchain/internal/permission"
	"github.com/sygfp/spendchain/internal/repository"
	"github.com/sygfp/spendchain/internal/workflow"
)

// Store stitches the document and event repositories into the engine's
// persistence surface.
type Store struct {
	*repository.DocumentRepository
	*repository.EventRepository
}

// NewStore creates the combined workflow store.
func NewStore(docs *repository.DocumentRepository, events *repository.EventRepository) *Store {
	return &Store{DocumentRepository: docs, EventRepository: events}
}

// DocumentSource is the slice of the document repository the chain reads.
type DocumentSource interface {
	GetDocument(ctx context.Context, id string) (*workflow.Document, error)
	ListPending(ctx context.Context, kinds []string, statuses []string) ([]*workflow.Document, error)
}

// EventSource lists a document's transition trail.
type EventSource interface {
	ListByDocument(ctx context.Context, documentID string) ([]*workflow.TransitionEvent, error)
}

// ConsumptionRecorder books validated engagement amounts on budget lines.
type ConsumptionRecorder interface {
	AddConsumption(ctx context.Context, code, exerciseID string, amount decimal.Decimal) error
}

// ChainService drives documents through the expenditure chain: transitions,
// history, work queues and available actions.
type ChainService struct {
	engine   *workflow.Engine
	docs     DocumentSource
	events   EventSource
	lines    ConsumptionRecorder
	resolver *permission.Resolver
	log      zerolog.Logger
}

// NewChainService creates a new chain service.
func NewChainService(
	engine *workflow.Engine,
	docs DocumentSource,
	events EventSource,
	lines ConsumptionRecorder,
	resolver *permission.Resolver,
	log zerolog.Logger,
) *ChainService {
	return &ChainService{
		engine:   engine,
		docs:     docs,
		events:   events,
		lines:    lines,
		resolver: resolver,
		log:      log,
	}
}

// TransitionDocumentRequest represents a transition request.
type TransitionDocumentRequest struct {
	DocumentID    string
	Action        string
	Actor         permission.Actor
	Justification string
	ResumeDate    *time.Time
	OperationID   string
}

// Transition applies one workflow action to a document. Business-rule
// failures surface as *workflow.TransitionError.
func (s *ChainService) Transition(ctx context.Context, req *TransitionDocumentRequest) (*workflow.TransitionResult, error) {
	if req.DocumentID == "" {
		return nil, apperr.InvalidInput("document_id", "document id is required")
	}
	action := workflow.Action(req.Action)
	if !workflow.KnownAction(action) {
		return nil, apperr.InvalidInput("action", "unknown action: "+req.Action)
	}
	if req.Actor.ID == "" {
		return nil, apperr.InvalidInput("actor_id", "actor id is required")
	}

	result, err := s.engine.AttemptTransition(ctx, workflow.TransitionRequest{
		DocumentID:    req.DocumentID,
		Action:        action,
		Actor:         req.Actor,
		Justification: req.Justification,
		ResumeDate:    req.ResumeDate,
		OperationID:   req.OperationID,
	})
	if err != nil {
		return nil, err
	}

	s.recordConsumption(ctx, result)
	return result, nil
}

// recordConsumption books the montant of a freshly validated engagement
// against its budget line. Non-fatal: the transition is already committed,
// a failed booking is logged and reconciled out of band.
func (s *ChainService) recordConsumption(ctx context.Context, result *workflow.TransitionResult) {
	doc := result.Document
	if result.Duplicate || doc.Kind != workflow.KindEngagement ||
		!workflow.IsValidated(doc.Status) || doc.ImputationCode == nil {
		return
	}
	if err := s.lines.AddConsumption(ctx, *doc.ImputationCode, doc.ExerciseID, doc.Montant); err != nil {
		s.log.Warn().Err(err).
			Str("document_id", doc.ID).
			Str("imputation_code", *doc.ImputationCode).
			Msg("failed to record budget consumption (non-fatal)")
	}
}

// History returns the full transition trail of a document, oldest first.
func (s *ChainService) History(ctx context.Context, documentID string) ([]*workflow.TransitionEvent, error) {
	if _, err := s.docs.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	return s.events.ListByDocument(ctx, documentID)
}

// AvailableActions returns the actions the actor may take on the document
// right now: the legal transitions from its status, filtered by permission.
func (s *ChainService) AvailableActions(ctx context.Context, documentID string, actor permission.Actor) ([]workflow.Action, error) {
	doc, err := s.docs.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	var out []workflow.Action
	for _, action := range workflow.LegalActions(doc.Kind, doc.Status, doc.Montant) {
		rule, ok := workflow.FindRule(doc.Kind, doc.Status, action, doc.Montant)
		if !ok {
			continue
		}
		var decision permission.Decision
		var err error
		if len(rule.Roles) > 0 {
			decision, err = s.resolver.ResolveRoles(ctx, actor, rule.Roles)
		} else {
			decision, err = s.resolver.Resolve(ctx, actor, workflow.MatrixAction(action), string(doc.Kind))
		}
		if err != nil {
			return nil, err
		}
		if decision.Allowed {
			out = append(out, action)
		}
	}
	return out, nil
}

// PendingApprovals returns the documents awaiting an approval action the
// actor is authorized for, oldest submissions first within each step.
func (s *ChainService) PendingApprovals(ctx context.Context, actor permission.Actor) ([]*workflow.Document, error) {
	var out []*workflow.Document
	for _, kind := range workflow.Kinds {
		if !s.actorApprovesStep(ctx, actor, kind) {
			continue
		}
		statuses := workflow.PendingStatuses(kind)
		if len(statuses) == 0 {
			continue
		}
		ss := make([]string, 0, len(statuses))
		for _, st := range statuses {
			ss = append(ss, string(st))
		}
		docs, err := s.docs.ListPending(ctx, []string{string(kind)}, ss)
		if err != nil {
			return nil, err
		}
		out = append(out, docs...)
	}
	return out, nil
}

// actorApprovesStep reports whether the actor holds, directly, any approval
// authority at the step. Substitution grants are resolved per document at
// transition time, not in the work queue.
func (s *ChainService) actorApprovesStep(ctx context.Context, actor permission.Actor, kind workflow.Kind) bool {
	for _, action := range []string{
		permission.ActionValidate, permission.ActionImpute,
		permission.ActionSign, permission.ActionExecute,
	} {
		allowed := permission.AuthorizedRoles(string(kind), action)
		for _, role := range actor.Roles {
			if role == permission.RoleAdmin {
				return true
			}
			for _, a := range allowed {
				if a == role {
					return true
				}
			}
		}
	}
	return false
}
