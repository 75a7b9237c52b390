package workflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sygfp/spendchain/internal/apperr"
	"github.com/sygfp/spendchain/internal/budget"
	"github.com/sygfp/spendchain/internal/exercise"
	"github.com/sygfp/spendchain/internal/permission"
)

// ── in-memory fakes ───────────────────────────────────────────────────────────

type memStore struct {
	docs      map[string]*Document
	events    []*TransitionEvent
	validated map[string]map[Kind]bool
	commitErr error
	commitCnt int
}

func newMemStore(docs ...*Document) *memStore {
	s := &memStore{
		docs:      map[string]*Document{},
		validated: map[string]map[Kind]bool{},
	}
	for _, d := range docs {
		c := *d
		s.docs[d.ID] = &c
	}
	return s
}

func (s *memStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	d, ok := s.docs[id]
	if !ok {
		return nil, apperr.NotFound("document", id)
	}
	c := *d
	return &c, nil
}

func (s *memStore) FindEventByOperation(ctx context.Context, documentID, operationID string) (*TransitionEvent, error) {
	for _, ev := range s.events {
		if ev.DocumentID == documentID && ev.OperationID == operationID {
			return ev, nil
		}
	}
	return nil, nil
}

func (s *memStore) CommitTransition(ctx context.Context, doc *Document, event *TransitionEvent) error {
	s.commitCnt++
	if s.commitErr != nil {
		return s.commitErr
	}
	current, ok := s.docs[doc.ID]
	if !ok {
		return apperr.NotFound("document", doc.ID)
	}
	if current.Version != doc.Version {
		return ErrConcurrencyConflict
	}
	if event.OperationID != "" {
		for _, ev := range s.events {
			if ev.DocumentID == doc.ID && ev.OperationID == event.OperationID {
				return ErrDuplicateOperation
			}
		}
	}
	c := *doc
	c.Version++
	s.docs[doc.ID] = &c
	doc.Version = c.Version
	s.events = append(s.events, event)
	return nil
}

func (s *memStore) HasValidatedDocument(ctx context.Context, dossierID string, kind Kind) (bool, error) {
	return s.validated[dossierID][kind], nil
}

func (s *memStore) markValidated(dossierID string, kind Kind) {
	if s.validated[dossierID] == nil {
		s.validated[dossierID] = map[Kind]bool{}
	}
	s.validated[dossierID][kind] = true
}

type memGrants struct{ grants []permission.Grant }

func (g *memGrants) GrantsForSubstitute(ctx context.Context, userID string) ([]permission.Grant, error) {
	var out []permission.Grant
	for _, gr := range g.grants {
		if gr.SubstituteID == userID {
			out = append(out, gr)
		}
	}
	return out, nil
}

type memExercises struct{ exercises map[string]*exercise.Exercise }

func (s *memExercises) GetExercise(ctx context.Context, id string) (*exercise.Exercise, error) {
	ex, ok := s.exercises[id]
	if !ok {
		return nil, apperr.NotFound("exercise", id)
	}
	return ex, nil
}

type memBudget struct {
	check budget.ImputationCheck
	err   error
	calls int
}

func (b *memBudget) ValidateImputation(ctx context.Context, code, exerciseID string, declared decimal.Decimal) (budget.ImputationCheck, error) {
	b.calls++
	return b.check, b.err
}

type memAttachments struct{ complete bool }

func (a *memAttachments) HasRequiredAttachments(ctx context.Context, documentID string, kind Kind) (bool, error) {
	return a.complete, nil
}

type memNotifier struct{ events []*TransitionEvent }

func (n *memNotifier) TransitionOccurred(ctx context.Context, doc *Document, event *TransitionEvent) {
	n.events = append(n.events, event)
}

// ── fixture ───────────────────────────────────────────────────────────────────

type engineFixture struct {
	store       *memStore
	grants      *memGrants
	budget      *memBudget
	attachments *memAttachments
	notifier    *memNotifier
	engine      *Engine
}

func newEngineFixture(t *testing.T, docs ...*Document) *engineFixture {
	t.Helper()
	f := &engineFixture{
		store:       newMemStore(docs...),
		grants:      &memGrants{},
		budget:      &memBudget{check: budget.ImputationCheck{Status: budget.CheckOK}},
		attachments: &memAttachments{complete: true},
		notifier:    &memNotifier{},
	}
	exercises := &memExercises{exercises: map[string]*exercise.Exercise{
		"ex-2026": {ID: "ex-2026", Annee: 2026, Status: exercise.StatusOuvert, Actif: true},
		"ex-2024": {ID: "ex-2024", Annee: 2024, Status: exercise.StatusCloture},
	}}
	f.engine = NewEngine(
		f.store,
		permission.NewResolver(f.grants),
		exercise.NewGuard(exercises),
		f.budget,
		f.attachments,
		f.notifier,
		zerolog.Nop(),
	)
	return f
}

var docSeq int

func testDoc(kind Kind, status Status, montant int64, mutate ...func(*Document)) *Document {
	docSeq++
	d := &Document{
		ID:         fmt.Sprintf("doc-%d", docSeq),
		Kind:       kind,
		Numero:     fmt.Sprintf("ARTI/%s/2026/%04d", ConfigFor(kind).DocTypeCode, docSeq),
		Status:     status,
		ExerciseID: "ex-2026",
		Objet:      "Fournitures de bureau",
		Montant:    decimal.NewFromInt(montant),
		Version:    1,
		CreatedBy:  "user-createur",
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	for _, m := range mutate {
		m(d)
	}
	return d
}

func actor(id string, roles ...string) permission.Actor {
	return permission.Actor{ID: id, Roles: roles}
}

// ── tests ─────────────────────────────────────────────────────────────────────

func TestAttemptTransitionSubmit(t *testing.T) {
	doc := testDoc(KindNoteSEF, StatusBrouillon, 0)
	f := newEngineFixture(t, doc)

	res, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: doc.ID,
		Action:     ActionSubmit,
		Actor:      actor("user-1", permission.RoleOperateur),
	})
	require.NoError(t, err)

	assert.Equal(t, StatusSoumis, res.Document.Status)
	assert.Equal(t, int64(2), res.Document.Version)
	require.NotNil(t, res.Document.SubmittedBy)
	assert.Equal(t, "user-1", *res.Document.SubmittedBy)
	assert.NotNil(t, res.Document.SubmittedAt)

	require.NotNil(t, res.Event)
	assert.Equal(t, StatusBrouillon, res.Event.FromStatus)
	assert.Equal(t, StatusSoumis, res.Event.ToStatus)
	assert.Equal(t, "user-1", res.Event.ActorID)
	assert.Equal(t, "user-1", res.Event.EffectiveActorID)

	require.Len(t, f.notifier.events, 1)
	assert.Equal(t, res.Event.ID, f.notifier.events[0].ID)
}

func TestAttemptTransitionIllegalLeavesDocumentUntouched(t *testing.T) {
	doc := testDoc(KindNoteSEF, StatusBrouillon, 0)
	f := newEngineFixture(t, doc)

	_, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: doc.ID,
		Action:     ActionValidate,
		Actor:      actor("dg-1", permission.RoleDG),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIllegalTransition)
	assert.True(t, IsBusinessFailure(err))

	stored, _ := f.store.GetDocument(context.Background(), doc.ID)
	assert.Equal(t, StatusBrouillon, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
	assert.Empty(t, f.store.events)
	assert.Empty(t, f.notifier.events)
}

func TestAttemptTransitionUnknownDocument(t *testing.T) {
	f := newEngineFixture(t)

	_, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: "missing",
		Action:     ActionSubmit,
		Actor:      actor("user-1", permission.RoleOperateur),
	})
	require.Error(t, err)
	assert.True(t, apperr.IsNotFound(err))
	assert.False(t, IsBusinessFailure(err))
}

func TestAttemptTransitionClosedExercise(t *testing.T) {
	doc := testDoc(KindNoteSEF, StatusBrouillon, 0, func(d *Document) { d.ExerciseID = "ex-2024" })
	f := newEngineFixture(t, doc)

	_, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: doc.ID,
		Action:     ActionSubmit,
		Actor:      actor("user-1", permission.RoleOperateur),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExerciseReadOnly)
	assert.Empty(t, f.store.events)
}

func TestAttemptTransitionUnauthorizedActor(t *testing.T) {
	doc := testDoc(KindNoteSEF, StatusSoumis, 0)
	f := newEngineFixture(t, doc)

	// Only the DG validates a note SEF.
	_, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: doc.ID,
		Action:     ActionValidate,
		Actor:      actor("user-1", permission.RoleOperateur),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, f.store.events)
}

func TestAttemptTransitionAdminBypass(t *testing.T) {
	doc := testDoc(KindNoteSEF, StatusSoumis, 0)
	f := newEngineFixture(t, doc)

	res, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: doc.ID,
		Action:     ActionValidate,
		Actor:      actor("admin-1", permission.RoleAdmin),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusValide, res.Document.Status)
}

func TestAttemptTransitionRejectRequiresJustification(t *testing.T) {
	doc := testDoc(KindNoteSEF, StatusSoumis, 0)
	f := newEngineFixture(t, doc)

	_, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID:    doc.ID,
		Action:        ActionReject,
		Actor:         actor("dg-1", permission.RoleDG),
		Justification: "   ",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPrerequisiteFailed)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ReasonMissingJustification, te.Reason)
	assert.Empty(t, f.store.events)
}

func TestAttemptTransitionRejectStampsMotif(t *testing.T) {
	doc := testDoc(KindNoteSEF, StatusSoumis, 0)
	f := newEngineFixture(t, doc)

	res, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID:    doc.ID,
		Action:        ActionReject,
		Actor:         actor("dg-1", permission.RoleDG),
		Justification: "Objet non conforme",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusRejete, res.Document.Status)
	require.NotNil(t, res.Document.RejectionReason)
	assert.Equal(t, "Objet non conforme", *res.Document.RejectionReason)
	require.NotNil(t, res.Event.Justification)
	assert.Equal(t, "Objet non conforme", *res.Event.Justification)
}

func TestAttemptTransitionDeferStoresResumeDate(t *testing.T) {
	doc := testDoc(KindNoteSEF, StatusSoumis, 0)
	f := newEngineFixture(t, doc)

	resume := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	res, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID:    doc.ID,
		Action:        ActionDefer,
		Actor:         actor("dg-1", permission.RoleDG),
		Justification: "En attente de crédits",
		ResumeDate:    &resume,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusDiffere, res.Document.Status)
	require.NotNil(t, res.Document.DeferredUntil)
	assert.Equal(t, resume, *res.Document.DeferredUntil)
	require.NotNil(t, res.Document.DeferMotif)
	assert.Equal(t, "En attente de crédits", *res.Document.DeferMotif)

	// A deferred document resumes through an explicit resubmit.
	res, err = f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: doc.ID,
		Action:     ActionResubmit,
		Actor:      actor("user-1", permission.RoleOperateur),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSoumis, res.Document.Status)
}

func TestAttemptTransitionIdempotentOperationID(t *testing.T) {
	doc := testDoc(KindNoteSEF, StatusBrouillon, 0)
	f := newEngineFixture(t, doc)

	req := TransitionRequest{
		DocumentID:  doc.ID,
		Action:      ActionSubmit,
		Actor:       actor("user-1", permission.RoleOperateur),
		OperationID: "op-123",
	}

	first, err := f.engine.AttemptTransition(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := f.engine.AttemptTransition(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Event.ID, second.Event.ID)
	assert.Equal(t, first.Document.Version, second.Document.Version)
	require.Len(t, f.store.events, 1)
}

func TestAttemptTransitionConcurrencyConflict(t *testing.T) {
	doc := testDoc(KindNoteSEF, StatusBrouillon, 0)
	f := newEngineFixture(t, doc)
	f.store.commitErr = ErrConcurrencyConflict

	_, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: doc.ID,
		Action:     ActionSubmit,
		Actor:      actor("user-1", permission.RoleOperateur),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConcurrencyConflict)
	assert.True(t, IsBusinessFailure(err))
}

func TestAttemptTransitionPredecessorRequired(t *testing.T) {
	liq := testDoc(KindLiquidation, StatusSoumis, 1_000_000)
	f := newEngineFixture(t, liq)

	_, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: liq.ID,
		Action:     ActionValidate,
		Actor:      actor("daaf-1", permission.RoleDAAF),
	})
	require.Error(t, err)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ReasonMissingPredecessor, te.Reason)
}

func TestAttemptTransitionPredecessorNotValidated(t *testing.T) {
	eng := testDoc(KindEngagement, StatusSoumis, 1_000_000)
	liq := testDoc(KindLiquidation, StatusSoumis, 1_000_000, func(d *Document) {
		d.PredecessorID = &eng.ID
	})
	f := newEngineFixture(t, eng, liq)

	_, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: liq.ID,
		Action:     ActionValidate,
		Actor:      actor("daaf-1", permission.RoleDAAF),
	})
	require.Error(t, err)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ReasonMissingPredecessor, te.Reason)
	assert.ErrorIs(t, err, ErrPrerequisiteFailed)
}

func TestAttemptTransitionValidatedPredecessorPasses(t *testing.T) {
	eng := testDoc(KindEngagement, StatusValide, 1_000_000)
	liq := testDoc(KindLiquidation, StatusSoumis, 1_000_000, func(d *Document) {
		d.PredecessorID = &eng.ID
	})
	f := newEngineFixture(t, eng, liq)

	res, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: liq.ID,
		Action:     ActionValidate,
		Actor:      actor("daaf-1", permission.RoleDAAF),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusValide, res.Document.Status)
	require.NotNil(t, res.Document.ValidatedBy)
	assert.Equal(t, "daaf-1", *res.Document.ValidatedBy)
}

func TestAttemptTransitionLiquidationRoutesThroughDG(t *testing.T) {
	eng := testDoc(KindEngagement, StatusValide, 60_000_000)
	liq := testDoc(KindLiquidation, StatusSoumis, 60_000_000, func(d *Document) {
		d.PredecessorID = &eng.ID
	})
	f := newEngineFixture(t, eng, liq)

	// At or above the DG threshold the first validation lands on the visa step.
	res, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: liq.ID,
		Action:     ActionValidate,
		Actor:      actor("daaf-1", permission.RoleDAAF),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusEnValidationDG, res.Document.Status)
	assert.Nil(t, res.Document.ValidatedBy)

	res, err = f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: liq.ID,
		Action:     ActionValidate,
		Actor:      actor("dg-1", permission.RoleDG),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusValide, res.Document.Status)
}

func TestAttemptTransitionDGVisaRequiresDG(t *testing.T) {
	eng := testDoc(KindEngagement, StatusValide, 60_000_000)
	liq := testDoc(KindLiquidation, StatusEnValidationDG, 60_000_000, func(d *Document) {
		d.PredecessorID = &eng.ID
	})
	f := newEngineFixture(t, eng, liq)

	// The step matrix lets the DAAF validate liquidations, but the DG visa
	// is not theirs to clear.
	_, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: liq.ID,
		Action:     ActionValidate,
		Actor:      actor("daaf-1", permission.RoleDAAF),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, f.store.events)

	res, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: liq.ID,
		Action:     ActionValidate,
		Actor:      actor("dg-1", permission.RoleDG),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusValide, res.Document.Status)
}

func TestAttemptTransitionDGVisaByDelegation(t *testing.T) {
	eng := testDoc(KindEngagement, StatusValide, 60_000_000)
	liq := testDoc(KindLiquidation, StatusEnValidationDG, 60_000_000, func(d *Document) {
		d.PredecessorID = &eng.ID
	})
	f := newEngineFixture(t, eng, liq)
	f.grants.grants = []permission.Grant{{
		ID:           "grant-1",
		Type:         permission.GrantDelegation,
		TitulaireID:  "dg-1",
		SubstituteID: "adjoint-1",
		Roles:        []string{permission.RoleDG},
		StartsAt:     time.Now().Add(-time.Hour),
	}}

	res, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: liq.ID,
		Action:     ActionValidate,
		Actor:      actor("adjoint-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusValide, res.Document.Status)
	assert.Equal(t, "dg-1", res.Event.EffectiveActorID)
}

func TestAttemptTransitionDGTransmissionReservedToPreparers(t *testing.T) {
	eng := testDoc(KindEngagement, StatusValide, 60_000_000)
	liq := testDoc(KindLiquidation, StatusSoumis, 60_000_000, func(d *Document) {
		d.PredecessorID = &eng.ID
	})
	f := newEngineFixture(t, eng, liq)

	// From 50M the transmission to the DG belongs to the SDCT and DAAF;
	// the CB validates liquidations only below the threshold.
	_, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: liq.ID,
		Action:     ActionValidate,
		Actor:      actor("cb-1", permission.RoleCB),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)

	res, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: liq.ID,
		Action:     ActionValidate,
		Actor:      actor("sdct-1", permission.RoleSDCT),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusEnValidationDG, res.Document.Status)
}

func TestAttemptTransitionOrdonnancementPreparedByDAAFOnly(t *testing.T) {
	liq := testDoc(KindLiquidation, StatusValide, 2_000_000)
	ord := testDoc(KindOrdonnancement, StatusSoumis, 2_000_000, func(d *Document) {
		d.PredecessorID = &liq.ID
	})
	f := newEngineFixture(t, liq, ord)

	// The DG signs the ordonnancement; preparing it for signature is the
	// DAAF's transition.
	_, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: ord.ID,
		Action:     ActionValidate,
		Actor:      actor("dg-1", permission.RoleDG),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)

	res, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: ord.ID,
		Action:     ActionValidate,
		Actor:      actor("daaf-1", permission.RoleDAAF),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusEnSignature, res.Document.Status)
}

func TestAttemptTransitionNoteAEFForwardedByChefService(t *testing.T) {
	note := testDoc(KindNoteAEF, StatusSoumis, 2_000_000)
	f := newEngineFixture(t, note)

	_, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: note.ID,
		Action:     ActionValidate,
		Actor:      actor("dir-1", permission.RoleDirecteur),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)

	res, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: note.ID,
		Action:     ActionValidate,
		Actor:      actor("chef-1", permission.RoleChefService),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAValider, res.Document.Status)

	res, err = f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: note.ID,
		Action:     ActionValidate,
		Actor:      actor("dir-1", permission.RoleDirecteur),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusValide, res.Document.Status)
}

func TestAttemptTransitionReglementCloseReservedToTresorerie(t *testing.T) {
	reg := testDoc(KindReglement, StatusPaye, 2_000_000)
	f := newEngineFixture(t, reg)

	_, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: reg.ID,
		Action:     ActionClose,
		Actor:      actor("ac-1", permission.RoleAgentComptable),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)

	res, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: reg.ID,
		Action:     ActionClose,
		Actor:      actor("tres-1", permission.RoleTresorerie),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCloture, res.Document.Status)
}

func TestAttemptTransitionOperationIDActionMismatch(t *testing.T) {
	doc := testDoc(KindNoteSEF, StatusBrouillon, 0)
	f := newEngineFixture(t, doc)

	_, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID:  doc.ID,
		Action:      ActionSubmit,
		Actor:       actor("user-1", permission.RoleOperateur),
		OperationID: "op-123",
	})
	require.NoError(t, err)

	// Reusing the operation id for a different action is a caller bug, not
	// a replay; it must not report the old transition as applied.
	_, err = f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID:  doc.ID,
		Action:      ActionValidate,
		Actor:       actor("dg-1", permission.RoleDG),
		OperationID: "op-123",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.ErrCodeInvalidInput, apperr.CodeOf(err))
	assert.False(t, IsBusinessFailure(err))
	require.Len(t, f.store.events, 1)
}

func TestAttemptTransitionMissingAttachmentBlocks(t *testing.T) {
	eng := testDoc(KindEngagement, StatusValide, 1_000_000)
	liq := testDoc(KindLiquidation, StatusSoumis, 1_000_000, func(d *Document) {
		d.PredecessorID = &eng.ID
	})
	f := newEngineFixture(t, eng, liq)
	f.attachments.complete = false

	_, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: liq.ID,
		Action:     ActionValidate,
		Actor:      actor("daaf-1", permission.RoleDAAF),
	})
	require.Error(t, err)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ReasonMissingAttachment, te.Reason)
}

func TestAttemptTransitionEngagementRequiresMarcheAboveThreshold(t *testing.T) {
	eb := testDoc(KindExpressionBesoin, StatusValide, 6_000_000)
	dossier := "dossier-1"
	eng := testDoc(KindEngagement, StatusSoumis, 6_000_000, func(d *Document) {
		d.PredecessorID = &eb.ID
		d.DossierID = &dossier
	})
	f := newEngineFixture(t, eb, eng)

	_, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: eng.ID,
		Action:     ActionValidate,
		Actor:      actor("cb-1", permission.RoleCB),
	})
	require.Error(t, err)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ReasonMissingPredecessor, te.Reason)

	// With a validated marché in the dossier the engagement goes through.
	f.store.markValidated(dossier, KindMarche)
	res, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: eng.ID,
		Action:     ActionValidate,
		Actor:      actor("cb-1", permission.RoleCB),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusValide, res.Document.Status)
}

func TestAttemptTransitionEngagementBelowThresholdSkipsMarche(t *testing.T) {
	eb := testDoc(KindExpressionBesoin, StatusValide, 3_000_000)
	dossier := "dossier-2"
	eng := testDoc(KindEngagement, StatusSoumis, 3_000_000, func(d *Document) {
		d.PredecessorID = &eb.ID
		d.DossierID = &dossier
	})
	f := newEngineFixture(t, eb, eng)

	res, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: eng.ID,
		Action:     ActionValidate,
		Actor:      actor("cb-1", permission.RoleCB),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusValide, res.Document.Status)
}

func TestAttemptTransitionEngagementBudgetHardBlock(t *testing.T) {
	eb := testDoc(KindExpressionBesoin, StatusValide, 1_000_000)
	code := "6011000001-0001"
	eng := testDoc(KindEngagement, StatusSoumis, 1_000_000, func(d *Document) {
		d.PredecessorID = &eb.ID
		d.ImputationCode = &code
	})
	f := newEngineFixture(t, eb, eng)
	f.budget.check = budget.ImputationCheck{
		Status:    budget.CheckAmountExceeded,
		Available: decimal.NewFromInt(500_000),
	}

	_, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: eng.ID,
		Action:     ActionValidate,
		Actor:      actor("cb-1", permission.RoleCB),
	})
	require.Error(t, err)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ReasonBudgetExceeded, te.Reason)
}

func TestAttemptTransitionBudgetAnomalyWarnsWithoutBlocking(t *testing.T) {
	eng := testDoc(KindEngagement, StatusValide, 1_000_000)
	code := "6011000001-0001"
	liq := testDoc(KindLiquidation, StatusSoumis, 1_000_000, func(d *Document) {
		d.PredecessorID = &eng.ID
		d.ImputationCode = &code
	})
	f := newEngineFixture(t, eng, liq)
	f.budget.check = budget.ImputationCheck{Status: budget.CheckNotFound}

	res, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: liq.ID,
		Action:     ActionValidate,
		Actor:      actor("daaf-1", permission.RoleDAAF),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusValide, res.Document.Status)
	require.NotNil(t, res.Warning)
	assert.Equal(t, budget.CheckNotFound, res.Warning.Status)
	require.NotNil(t, res.Document.ImputationWarning)
	assert.Equal(t, string(budget.CheckNotFound), *res.Document.ImputationWarning)
}

func TestAttemptTransitionDelegationRecordsEffectiveActor(t *testing.T) {
	doc := testDoc(KindNoteSEF, StatusSoumis, 0)
	f := newEngineFixture(t, doc)
	f.grants.grants = []permission.Grant{{
		ID:           "grant-1",
		Type:         permission.GrantDelegation,
		TitulaireID:  "dg-1",
		SubstituteID: "adjoint-1",
		Roles:        []string{permission.RoleDG},
		StartsAt:     time.Now().Add(-time.Hour),
	}}

	res, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: doc.ID,
		Action:     ActionValidate,
		Actor:      actor("adjoint-1"),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusValide, res.Document.Status)
	assert.Equal(t, "adjoint-1", res.Event.ActorID)
	assert.Equal(t, "dg-1", res.Event.EffectiveActorID)
	// The row stamp carries the acting user, the event carries both.
	require.NotNil(t, res.Document.ValidatedBy)
	assert.Equal(t, "adjoint-1", *res.Document.ValidatedBy)
}

func TestAttemptTransitionImputation(t *testing.T) {
	note := testDoc(KindNoteAEF, StatusValide, 2_000_000)
	code := "6011000001-0001"
	imp := testDoc(KindImputation, StatusBrouillon, 2_000_000, func(d *Document) {
		d.PredecessorID = &note.ID
		d.ImputationCode = &code
	})
	f := newEngineFixture(t, note, imp)

	res, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: imp.ID,
		Action:     ActionImpute,
		Actor:      actor("cb-1", permission.RoleCB),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusImpute, res.Document.Status)
	assert.Equal(t, 1, f.budget.calls)
}

func TestAttemptTransitionOrdonnancementSignature(t *testing.T) {
	liq := testDoc(KindLiquidation, StatusValide, 2_000_000)
	ord := testDoc(KindOrdonnancement, StatusSoumis, 2_000_000, func(d *Document) {
		d.PredecessorID = &liq.ID
	})
	f := newEngineFixture(t, liq, ord)

	res, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: ord.ID,
		Action:     ActionValidate,
		Actor:      actor("daaf-1", permission.RoleDAAF),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusEnSignature, res.Document.Status)

	res, err = f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: ord.ID,
		Action:     ActionSign,
		Actor:      actor("dg-1", permission.RoleDG),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSigne, res.Document.Status)
	assert.True(t, IsTerminal(KindOrdonnancement, res.Document.Status))
}

func TestAttemptTransitionReglementPayAndClose(t *testing.T) {
	ord := testDoc(KindOrdonnancement, StatusSigne, 2_000_000)
	reg := testDoc(KindReglement, StatusSoumis, 2_000_000, func(d *Document) {
		d.PredecessorID = &ord.ID
	})
	f := newEngineFixture(t, ord, reg)

	res, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: reg.ID,
		Action:     ActionPay,
		Actor:      actor("tres-1", permission.RoleTresorerie),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPaye, res.Document.Status)

	res, err = f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: reg.ID,
		Action:     ActionClose,
		Actor:      actor("tres-1", permission.RoleTresorerie),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCloture, res.Document.Status)
	assert.True(t, IsTerminal(KindReglement, res.Document.Status))
}

func TestAttemptTransitionRejectedDocumentCanBeRevised(t *testing.T) {
	doc := testDoc(KindExpressionBesoin, StatusRejete, 1_000_000)
	f := newEngineFixture(t, doc)

	res, err := f.engine.AttemptTransition(context.Background(), TransitionRequest{
		DocumentID: doc.ID,
		Action:     ActionRevise,
		Actor:      actor("user-1", permission.RoleAgent),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusBrouillon, res.Document.Status)
}
