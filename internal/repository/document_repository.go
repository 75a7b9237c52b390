package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sygfp/spendchain/internal/apperr"
	"github.com/sygfp/spendchain/internal/database"
	"github.com/sygfp/spendchain/internal/workflow"
)

const documentColumns = `
	id, kind, numero, statut, exercice_id, objet, montant,
	imputation_code, imputation_warning,
	predecessor_id, dossier_id, direction_id, version,
	created_by, submitted_by, submitted_at,
	validated_by, validated_at,
	rejected_by, rejected_at, rejection_reason,
	deferred_by, deferred_at, defer_motif, deferred_until,
	created_at, updated_at`

// DocumentRepository persists chain documents and their transition events.
// It implements workflow.Store: the status update and the history append
// are committed in one transaction, guarded by the version column.
type DocumentRepository struct {
	db *database.DB
}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(db *database.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Create inserts a new document in brouillon.
func (r *DocumentRepository) Create(ctx context.Context, doc *workflow.Document) error {
	query := `
		INSERT INTO documents
		    (kind, numero, statut, exercice_id, objet, montant,
		     imputation_code, imputation_warning,
		     predecessor_id, dossier_id, direction_id, created_by)
		VALUES ($1, $2, $3, $4, $5, $6,
		        $7, $8,
		        $9, $10, $11, $12)
		RETURNING id, version, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		doc.Kind,
		doc.Numero,
		doc.Status,
		doc.ExerciseID,
		doc.Objet,
		doc.Montant,
		doc.ImputationCode,
		doc.ImputationWarning,
		doc.PredecessorID,
		doc.DossierID,
		doc.DirectionID,
		doc.CreatedBy,
	).Scan(&doc.ID, &doc.Version, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "documents_numero_key") {
			return apperr.Conflict("document reference " + doc.Numero + " already exists")
		}
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to create document")
	}
	return nil
}

// GetDocument retrieves a document by its primary key.
func (r *DocumentRepository) GetDocument(ctx context.Context, id string) (*workflow.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`

	doc, err := r.scanDocument(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("document", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to get document")
	}
	return doc, nil
}

// List returns documents matching the optional filters, newest first,
// with the unpaginated total.
func (r *DocumentRepository) List(
	ctx context.Context,
	kind, status, exerciseID, directionID *string,
	limit, offset int,
) ([]*workflow.Document, int64, error) {
	where := " WHERE 1=1"
	args := []any{}
	n := 0
	add := func(clause string, v any) {
		n++
		where += fmt.Sprintf(" AND %s = $%d", clause, n)
		args = append(args, v)
	}
	if kind != nil {
		add("kind", *kind)
	}
	if status != nil {
		add("statut", *status)
	}
	if exerciseID != nil {
		add("exercice_id", *exerciseID)
	}
	if directionID != nil {
		add("direction_id", *directionID)
	}

	var total int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM documents"+where, args...).Scan(&total); err != nil {
		return nil, 0, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to count documents")
	}

	query := "SELECT " + documentColumns + " FROM documents" + where +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", n+1, n+2)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to list documents")
	}
	defer rows.Close()

	var docs []*workflow.Document
	for rows.Next() {
		doc, err := r.scanDocument(rows)
		if err != nil {
			return nil, 0, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to scan document")
		}
		docs = append(docs, doc)
	}
	return docs, total, nil
}

// ListPending returns documents of the given kinds sitting in actionable
// (non-draft, non-terminal) statuses, oldest submission first.
func (r *DocumentRepository) ListPending(ctx context.Context, kinds []string, statuses []string) ([]*workflow.Document, error) {
	query := `SELECT ` + documentColumns + `
		FROM documents
		WHERE kind = ANY($1) AND statut = ANY($2)
		ORDER BY submitted_at ASC NULLS LAST, created_at ASC`

	rows, err := r.db.Query(ctx, query, kinds, statuses)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to list pending documents")
	}
	defer rows.Close()

	var docs []*workflow.Document
	for rows.Next() {
		doc, err := r.scanDocument(rows)
		if err != nil {
			return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to scan document")
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// CommitTransition applies a transition atomically: the compare-and-swap
// status update and the event append succeed together or not at all.
// doc.Version holds the version the caller read; a stale version yields
// workflow.ErrConcurrencyConflict, an operation-id collision yields
// workflow.ErrDuplicateOperation.
func (r *DocumentRepository) CommitTransition(ctx context.Context, doc *workflow.Document, event *workflow.TransitionEvent) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		update := `
			UPDATE documents
			SET statut             = $3,
			    imputation_warning = $4,
			    submitted_by       = $5,
			    submitted_at       = $6,
			    validated_by       = $7,
			    validated_at       = $8,
			    rejected_by        = $9,
			    rejected_at        = $10,
			    rejection_reason   = $11,
			    deferred_by        = $12,
			    deferred_at        = $13,
			    defer_motif        = $14,
			    deferred_until     = $15,
			    version            = version + 1,
			    updated_at         = NOW()
			WHERE id = $1 AND version = $2
			RETURNING version, updated_at
		`

		err := tx.QueryRow(ctx, update,
			doc.ID,
			doc.Version,
			doc.Status,
			doc.ImputationWarning,
			doc.SubmittedBy,
			doc.SubmittedAt,
			doc.ValidatedBy,
			doc.ValidatedAt,
			doc.RejectedBy,
			doc.RejectedAt,
			doc.RejectionReason,
			doc.DeferredBy,
			doc.DeferredAt,
			doc.DeferMotif,
			doc.DeferredUntil,
		).Scan(&doc.Version, &doc.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return workflow.ErrConcurrencyConflict
		}
		if err != nil {
			return err
		}

		insert := `
			INSERT INTO transition_events
			    (id, document_id, from_statut, to_statut, action,
			     actor_id, effective_actor_id, justification,
			     operation_id, occurred_at)
			VALUES ($1, $2, $3, $4, $5,
			        $6, $7, $8,
			        NULLIF($9, ''), $10)
		`

		_, err = tx.Exec(ctx, insert,
			event.ID,
			event.DocumentID,
			event.FromStatus,
			event.ToStatus,
			event.Action,
			event.ActorID,
			event.EffectiveActorID,
			event.Justification,
			event.OperationID,
			event.OccurredAt,
		)
		if isUniqueViolation(err, "transition_events_operation_key") {
			return workflow.ErrDuplicateOperation
		}
		return err
	})
}

// HasValidatedDocument reports whether the dossier holds a document of the
// kind in a validated status.
func (r *DocumentRepository) HasValidatedDocument(ctx context.Context, dossierID string, kind workflow.Kind) (bool, error) {
	statuses := make([]string, 0, 8)
	for _, s := range workflow.ValidatedStatuses() {
		statuses = append(statuses, string(s))
	}

	query := `
		SELECT EXISTS(
			SELECT 1 FROM documents
			WHERE dossier_id = $1 AND kind = $2 AND statut = ANY($3)
		)
	`

	var exists bool
	if err := r.db.QueryRow(ctx, query, dossierID, kind, statuses).Scan(&exists); err != nil {
		return false, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to check dossier prerequisite")
	}
	return exists, nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type documentScanner interface {
	Scan(dest ...any) error
}

func (r *DocumentRepository) scanDocument(sc documentScanner) (*workflow.Document, error) {
	doc := &workflow.Document{}
	err := sc.Scan(
		&doc.ID,
		&doc.Kind,
		&doc.Numero,
		&doc.Status,
		&doc.ExerciseID,
		&doc.Objet,
		&doc.Montant,
		&doc.ImputationCode,
		&doc.ImputationWarning,
		&doc.PredecessorID,
		&doc.DossierID,
		&doc.DirectionID,
		&doc.Version,
		&doc.CreatedBy,
		&doc.SubmittedBy,
		&doc.SubmittedAt,
		&doc.ValidatedBy,
		&doc.ValidatedAt,
		&doc.RejectedBy,
		&doc.RejectedAt,
		&doc.RejectionReason,
		&doc.DeferredBy,
		&doc.DeferredAt,
		&doc.DeferMotif,
		&doc.DeferredUntil,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// isUniqueViolation matches a Postgres unique violation on the named
// constraint ("" matches any).
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
