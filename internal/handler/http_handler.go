package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sygfp/spendchain/internal/apperr"
	"github.com/sygfp/spendchain/internal/permission"
	"github.com/sygfp/spendchain/internal/sequence"
	"github.com/sygfp/spendchain/internal/service"
	"github.com/sygfp/spendchain/internal/workflow"
)

// RolesProvider resolves a user's role codes when the gateway did not put
// them on the request.
type RolesProvider interface {
	GetUserRoles(ctx context.Context, userID string) ([]string, error)
}

// HTTPHandler exposes the chain over REST. Identity arrives from the gateway
// as X-User-Id and X-User-Roles headers; the roles provider is the fallback.
type HTTPHandler struct {
	documents *service.DocumentService
	chain     *service.ChainService
	sequences *sequence.Generator
	roles     RolesProvider
	log       zerolog.Logger
}

// NewHTTPHandler creates a new HTTP handler. roles may be nil.
func NewHTTPHandler(documents *service.DocumentService, chain *service.ChainService, sequences *sequence.Generator, roles RolesProvider, log zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		documents: documents,
		chain:     chain,
		sequences: sequences,
		roles:     roles,
		log:       log,
	}
}

// Routes mounts the API onto a chi router.
func (h *HTTPHandler) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/documents", func(r chi.Router) {
			r.Post("/", h.CreateDocument)
			r.Get("/", h.ListDocuments)
			r.Get("/{id}", h.GetDocument)
			r.Post("/{id}/transition", h.TransitionDocument)
			r.Get("/{id}/history", h.GetHistory)
			r.Get("/{id}/actions", h.GetAvailableActions)
		})
		r.Get("/approvals/pending", h.ListPendingApprovals)
		r.Get("/kinds/{kind}/statuses", h.ListStatuses)
		r.Post("/sequences/sync", h.SyncSequence)
	})
}

// ── request/response payloads ─────────────────────────────────────────────────

type createDocumentPayload struct {
	Kind           string  `json:"kind"`
	Objet          string  `json:"objet"`
	Montant        string  `json:"montant"`
	ImputationCode *string `json:"imputation_code,omitempty"`
	PredecessorID  *string `json:"predecessor_id,omitempty"`
	DossierID      *string `json:"dossier_id,omitempty"`
	DirectionID    *string `json:"direction_id,omitempty"`
	ExerciseID     string  `json:"exercice_id,omitempty"`
}

type transitionPayload struct {
	Action        string  `json:"action"`
	Justification string  `json:"justification,omitempty"`
	ResumeDate    *string `json:"resume_date,omitempty"`
	OperationID   string  `json:"operation_id,omitempty"`
}

type documentResponse struct {
	ID                string     `json:"id"`
	Kind              string     `json:"kind"`
	Numero            string     `json:"numero"`
	Status            string     `json:"statut"`
	StatusLabel       string     `json:"statut_label"`
	ExerciseID        string     `json:"exercice_id"`
	Objet             string     `json:"objet"`
	Montant           string     `json:"montant"`
	ImputationCode    *string    `json:"imputation_code,omitempty"`
	ImputationWarning *string    `json:"imputation_warning,omitempty"`
	PredecessorID     *string    `json:"predecessor_id,omitempty"`
	DossierID         *string    `json:"dossier_id,omitempty"`
	DirectionID       *string    `json:"direction_id,omitempty"`
	Version           int64      `json:"version"`
	CreatedBy         string     `json:"created_by"`
	SubmittedAt       *time.Time `json:"submitted_at,omitempty"`
	ValidatedAt       *time.Time `json:"validated_at,omitempty"`
	RejectedAt        *time.Time `json:"rejected_at,omitempty"`
	RejectionReason   *string    `json:"rejection_reason,omitempty"`
	DeferredAt        *time.Time `json:"deferred_at,omitempty"`
	DeferMotif        *string    `json:"defer_motif,omitempty"`
	DeferredUntil     *time.Time `json:"deferred_until,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

type eventResponse struct {
	ID               string    `json:"id"`
	DocumentID       string    `json:"document_id"`
	FromStatus       string    `json:"from_statut"`
	ToStatus         string    `json:"to_statut"`
	Action           string    `json:"action"`
	ActorID          string    `json:"actor_id"`
	EffectiveActorID string    `json:"effective_actor_id"`
	Justification    *string   `json:"justification,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

type transitionResponse struct {
	Document  *documentResponse `json:"document"`
	Event     *eventResponse    `json:"event"`
	Warning   *string           `json:"warning,omitempty"`
	Duplicate bool              `json:"duplicate,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

// ── handlers ──────────────────────────────────────────────────────────────────

// CreateDocument handles POST /api/v1/documents.
func (h *HTTPHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(w, r)
	if !ok {
		return
	}

	var payload createDocumentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, apperr.InvalidInput("body", "invalid request body"))
		return
	}

	montant := decimal.Zero
	if strings.TrimSpace(payload.Montant) != "" {
		var err error
		montant, err = decimal.NewFromString(payload.Montant)
		if err != nil {
			h.writeError(w, apperr.InvalidInput("montant", "invalid decimal amount"))
			return
		}
	}

	doc, err := h.documents.CreateDocument(r.Context(), &service.CreateDocumentRequest{
		Kind:           workflow.Kind(payload.Kind),
		Objet:          payload.Objet,
		Montant:        montant,
		ImputationCode: payload.ImputationCode,
		PredecessorID:  payload.PredecessorID,
		DossierID:      payload.DossierID,
		DirectionID:    payload.DirectionID,
		ExerciseID:     payload.ExerciseID,
		Actor:          actor,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toDocumentResponse(doc))
}

// GetDocument handles GET /api/v1/documents/{id}.
func (h *HTTPHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.documents.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toDocumentResponse(doc))
}

// ListDocuments handles GET /api/v1/documents.
func (h *HTTPHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	docs, total, err := h.documents.ListDocuments(r.Context(), &service.ListDocumentsRequest{
		Kind:        optional(q.Get("kind")),
		Status:      optional(q.Get("statut")),
		ExerciseID:  optional(q.Get("exercice_id")),
		DirectionID: optional(q.Get("direction_id")),
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]*documentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentResponse(d))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"documents": out,
		"total":     total,
	})
}

// TransitionDocument handles POST /api/v1/documents/{id}/transition.
func (h *HTTPHandler) TransitionDocument(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(w, r)
	if !ok {
		return
	}

	var payload transitionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, apperr.InvalidInput("body", "invalid request body"))
		return
	}

	var resumeDate *time.Time
	if payload.ResumeDate != nil {
		t, err := time.Parse("2006-01-02", *payload.ResumeDate)
		if err != nil {
			h.writeError(w, apperr.InvalidInput("resume_date", "invalid date format, expected YYYY-MM-DD"))
			return
		}
		resumeDate = &t
	}

	result, err := h.chain.Transition(r.Context(), &service.TransitionDocumentRequest{
		DocumentID:    chi.URLParam(r, "id"),
		Action:        payload.Action,
		Actor:         actor,
		Justification: payload.Justification,
		ResumeDate:    resumeDate,
		OperationID:   payload.OperationID,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := &transitionResponse{
		Document:  toDocumentResponse(result.Document),
		Event:     toEventResponse(result.Event),
		Duplicate: result.Duplicate,
	}
	if result.Warning != nil {
		warning := string(result.Warning.Status)
		resp.Warning = &warning
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// GetHistory handles GET /api/v1/documents/{id}/history.
func (h *HTTPHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	events, err := h.chain.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]*eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, toEventResponse(ev))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

// GetAvailableActions handles GET /api/v1/documents/{id}/actions.
func (h *HTTPHandler) GetAvailableActions(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(w, r)
	if !ok {
		return
	}
	actions, err := h.chain.AvailableActions(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

// ListPendingApprovals handles GET /api/v1/approvals/pending.
func (h *HTTPHandler) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(w, r)
	if !ok {
		return
	}
	docs, err := h.chain.PendingApprovals(r.Context(), actor)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]*documentResponse, 0, len(docs))
	for _, d := range docs {
		out = append(out, toDocumentResponse(d))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

// ListStatuses handles GET /api/v1/kinds/{kind}/statuses.
func (h *HTTPHandler) ListStatuses(w http.ResponseWriter, r *http.Request) {
	kind := workflow.Kind(chi.URLParam(r, "kind"))
	if !workflow.KnownKind(kind) {
		h.writeError(w, apperr.InvalidInput("kind", "unknown document kind: "+string(kind)))
		return
	}
	descriptors := workflow.ListStatuses(kind)
	out := make([]map[string]any, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, map[string]any{
			"statut":   d.Status,
			"label":    d.Label,
			"terminal": d.Terminal,
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"statuses": out})
}

// SyncSequence handles POST /api/v1/sequences/sync. Used when importing
// historical documents: advances a counter past an externally issued number
// so future references never collide. ADMIN only.
func (h *HTTPHandler) SyncSequence(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actorFrom(w, r)
	if !ok {
		return
	}
	admin := false
	for _, role := range actor.Roles {
		if role == permission.RoleAdmin {
			admin = true
			break
		}
	}
	if !admin {
		h.writeError(w, apperr.New(apperr.ErrCodeUnauthorized, "sequence sync is reserved to ADMIN"))
		return
	}

	var payload struct {
		DocType  string `json:"doc_type"`
		Annee    int    `json:"annee"`
		Scope    string `json:"scope,omitempty"`
		Imported int64  `json:"imported"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, apperr.InvalidInput("body", "invalid request body"))
		return
	}

	if err := h.sequences.SyncFromImport(r.Context(), payload.DocType, payload.Annee, payload.Scope, payload.Imported); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

// ── helpers ───────────────────────────────────────────────────────────────────

// actorFrom builds the acting user from gateway headers, falling back to the
// identity service when the roles header is absent.
func (h *HTTPHandler) actorFrom(w http.ResponseWriter, r *http.Request) (permission.Actor, bool) {
	userID := strings.TrimSpace(r.Header.Get("X-User-Id"))
	if userID == "" {
		h.writeError(w, apperr.New(apperr.ErrCodeUnauthorized, "X-User-Id header is required"))
		return permission.Actor{}, false
	}

	var roles []string
	if raw := strings.TrimSpace(r.Header.Get("X-User-Roles")); raw != "" {
		for _, role := range strings.Split(raw, ",") {
			if role = strings.TrimSpace(role); role != "" {
				roles = append(roles, role)
			}
		}
	} else if h.roles != nil {
		fetched, err := h.roles.GetUserRoles(r.Context(), userID)
		if err != nil {
			h.log.Warn().Err(err).Str("user_id", userID).Msg("failed to fetch user roles")
			h.writeError(w, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to resolve user roles"))
			return permission.Actor{}, false
		}
		roles = fetched
	}

	return permission.Actor{ID: userID, Roles: roles}, true
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("failed to encode response")
	}
}

// writeError maps workflow outcomes and coded errors onto HTTP statuses.
func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	var te *workflow.TransitionError
	if errors.As(err, &te) {
		status := http.StatusConflict
		code := "CONFLICT"
		switch {
		case errors.Is(err, workflow.ErrUnauthorized):
			status, code = http.StatusForbidden, "FORBIDDEN"
		case errors.Is(err, workflow.ErrPrerequisiteFailed):
			status, code = http.StatusUnprocessableEntity, "PREREQUISITE_FAILED"
		case errors.Is(err, workflow.ErrIllegalTransition):
			code = "ILLEGAL_TRANSITION"
		case errors.Is(err, workflow.ErrExerciseReadOnly):
			code = "EXERCISE_READ_ONLY"
		case errors.Is(err, workflow.ErrConcurrencyConflict):
			code = "CONCURRENCY_CONFLICT"
		}
		h.writeJSON(w, status, &errorResponse{Code: code, Reason: te.Reason, Message: te.Message})
		return
	}

	status := http.StatusInternalServerError
	switch apperr.CodeOf(err) {
	case apperr.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case apperr.ErrCodeNotFound:
		status = http.StatusNotFound
	case apperr.ErrCodeConflict:
		status = http.StatusConflict
	case apperr.ErrCodeUnauthorized:
		status = http.StatusForbidden
	}
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("request failed")
	}
	h.writeJSON(w, status, &errorResponse{Code: string(apperr.CodeOf(err)), Message: err.Error()})
}

func toDocumentResponse(doc *workflow.Document) *documentResponse {
	return &documentResponse{
		ID:                doc.ID,
		Kind:              string(doc.Kind),
		Numero:            doc.Numero,
		Status:            string(doc.Status),
		StatusLabel:       workflow.Label(doc.Status),
		ExerciseID:        doc.ExerciseID,
		Objet:             doc.Objet,
		Montant:           doc.Montant.String(),
		ImputationCode:    doc.ImputationCode,
		ImputationWarning: doc.ImputationWarning,
		PredecessorID:     doc.PredecessorID,
		DossierID:         doc.DossierID,
		DirectionID:       doc.DirectionID,
		Version:           doc.Version,
		CreatedBy:         doc.CreatedBy,
		SubmittedAt:       doc.SubmittedAt,
		ValidatedAt:       doc.ValidatedAt,
		RejectedAt:        doc.RejectedAt,
		RejectionReason:   doc.RejectionReason,
		DeferredAt:        doc.DeferredAt,
		DeferMotif:        doc.DeferMotif,
		DeferredUntil:     doc.DeferredUntil,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}
}

func toEventResponse(ev *workflow.TransitionEvent) *eventResponse {
	return &eventResponse{
		ID:               ev.ID,
		DocumentID:       ev.DocumentID,
		FromStatus:       string(ev.FromStatus),
		ToStatus:         string(ev.ToStatus),
		Action:           string(ev.Action),
		ActorID:          ev.ActorID,
		EffectiveActorID: ev.EffectiveActorID,
		Justification:    ev.Justification,
		OccurredAt:       ev.OccurredAt,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
