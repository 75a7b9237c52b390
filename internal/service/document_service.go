package service

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sygfp/spendchain/internal/apperr"
	"github.com/sygfp/spendchain/internal/budget"
	"github.com/sygfp/spendchain/internal/exercise"
	"github.com/sygfp/spendchain/internal/permission"
	"github.com/sygfp/spendchain/internal/sequence"
	"github.com/sygfp/spendchain/internal/workflow"
)

// DocumentStore persists and reads chain documents.
type DocumentStore interface {
	Create(ctx context.Context, doc *workflow.Document) error
	GetDocument(ctx context.Context, id string) (*workflow.Document, error)
	List(ctx context.Context, kind, status, exerciseID, directionID *string, limit, offset int) ([]*workflow.Document, int64, error)
}

// ExerciseSource reads fiscal exercises.
type ExerciseSource interface {
	GetExercise(ctx context.Context, id string) (*exercise.Exercise, error)
	GetActiveExercise(ctx context.Context) (*exercise.Exercise, error)
}

// DocumentService handles document creation and reads. Status changes after
// creation go exclusively through ChainService.
type DocumentService struct {
	docs      DocumentStore
	exercises ExerciseSource
	guard     *exercise.Guard
	seq       *sequence.Generator
	budget    *budget.Reconciler
	resolver  *permission.Resolver
	log       zerolog.Logger
}

// NewDocumentService creates a new document service.
func NewDocumentService(
	docs DocumentStore,
	exercises ExerciseSource,
	guard *exercise.Guard,
	seq *sequence.Generator,
	budgetReconciler *budget.Reconciler,
	resolver *permission.Resolver,
	log zerolog.Logger,
) *DocumentService {
	return &DocumentService{
		docs:      docs,
		exercises: exercises,
		guard:     guard,
		seq:       seq,
		budget:    budgetReconciler,
		resolver:  resolver,
		log:       log,
	}
}

// CreateDocumentRequest represents a create document request.
type CreateDocumentRequest struct {
	Kind           workflow.Kind
	Objet          string
	Montant        decimal.Decimal
	ImputationCode *string
	PredecessorID  *string
	DossierID      *string
	DirectionID    *string
	// ExerciseID is optional; the active exercise is used when empty.
	ExerciseID string
	Actor      permission.Actor
}

// ListDocumentsRequest represents a filtered document listing.
type ListDocumentsRequest struct {
	Kind        *string
	Status      *string
	ExerciseID  *string
	DirectionID *string
	Limit       int
	Offset      int
}

// CreateDocument validates the request, reserves the next reference code and
// inserts the document in brouillon. A declared imputation is reconciled
// against the budget lines; anomalies are recorded as a warning, never a
// refusal, since the hard budget gate sits on engagement validation.
func (s *DocumentService) CreateDocument(ctx context.Context, req *CreateDocumentRequest) (*workflow.Document, error) {
	if !workflow.KnownKind(req.Kind) {
		return nil, apperr.InvalidInput("kind", "unknown document kind: "+string(req.Kind))
	}
	objet := strings.TrimSpace(req.Objet)
	if objet == "" {
		return nil, apperr.InvalidInput("objet", "objet is required")
	}
	if req.Montant.IsNegative() {
		return nil, apperr.InvalidInput("montant", "montant cannot be negative")
	}

	decision, err := s.resolver.Resolve(ctx, req.Actor, permission.ActionCreate, string(req.Kind))
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, apperr.New(apperr.ErrCodeUnauthorized,
			"actor "+req.Actor.ID+" may not create a "+string(req.Kind))
	}

	ex, err := s.resolveExercise(ctx, req.ExerciseID)
	if err != nil {
		return nil, err
	}
	if err := s.guard.AssertWritable(ctx, ex.ID); err != nil {
		if errors.Is(err, exercise.ErrReadOnly) {
			return nil, apperr.Conflict(err.Error())
		}
		return nil, err
	}

	var warning *string
	if req.ImputationCode != nil && strings.TrimSpace(*req.ImputationCode) != "" {
		check, err := s.budget.ValidateImputation(ctx, *req.ImputationCode, ex.ID, req.Montant)
		if err != nil {
			return nil, err
		}
		if check.Status != budget.CheckOK {
			w := string(check.Status)
			warning = &w
		}
	}

	cfg := workflow.ConfigFor(req.Kind)
	ref, err := s.seq.Next(ctx, cfg.DocTypeCode, ex.Annee, sequence.ScopeGlobal)
	if err != nil {
		return nil, err
	}

	doc := &workflow.Document{
		Kind:              req.Kind,
		Numero:            ref.FullCode,
		Status:            workflow.StatusBrouillon,
		ExerciseID:        ex.ID,
		Objet:             objet,
		Montant:           req.Montant,
		ImputationCode:    req.ImputationCode,
		ImputationWarning: warning,
		PredecessorID:     req.PredecessorID,
		DossierID:         req.DossierID,
		DirectionID:       req.DirectionID,
		CreatedBy:         req.Actor.ID,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("document_id", doc.ID).
		Str("kind", string(doc.Kind)).
		Str("numero", doc.Numero).
		Str("exercice_id", ex.ID).
		Str("created_by", req.Actor.ID).
		Msg("Document created")

	return doc, nil
}

// GetDocument retrieves a document by id.
func (s *DocumentService) GetDocument(ctx context.Context, id string) (*workflow.Document, error) {
	if id == "" {
		return nil, apperr.InvalidInput("id", "document id is required")
	}
	return s.docs.GetDocument(ctx, id)
}

// ListDocuments returns documents matching the filters with the total count.
func (s *DocumentService) ListDocuments(ctx context.Context, req *ListDocumentsRequest) ([]*workflow.Document, int64, error) {
	limit := req.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}
	if req.Kind != nil && !workflow.KnownKind(workflow.Kind(*req.Kind)) {
		return nil, 0, apperr.InvalidInput("kind", "unknown document kind: "+*req.Kind)
	}
	return s.docs.List(ctx, req.Kind, req.Status, req.ExerciseID, req.DirectionID, limit, offset)
}

func (s *DocumentService) resolveExercise(ctx context.Context, id string) (*exercise.Exercise, error) {
	if id != "" {
		return s.exercises.GetExercise(ctx, id)
	}
	return s.exercises.GetActiveExercise(ctx)
}
