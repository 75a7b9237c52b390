package repository

import (
	"context"

	"github.com/sygfp/spendchain/internal/apperr"
	"github.com/sygfp/spendchain/internal/database"
)

// SequenceRepository implements sequence.CounterStore on a counters table.
// Both statements increment server-side under the row lock; the application
// never computes the next number itself.
type SequenceRepository struct {
	db *database.DB
}

// NewSequenceRepository creates a new SequenceRepository.
func NewSequenceRepository(db *database.DB) *SequenceRepository {
	return &SequenceRepository{db: db}
}

// NextNumber atomically increments and returns the counter for
// (docType, year, scope), creating it at 1 when absent.
func (r *SequenceRepository) NextNumber(ctx context.Context, docType string, year int, scope string) (int64, error) {
	query := `
		INSERT INTO sequence_counters (doc_type, annee, scope, last_number)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (doc_type, annee, scope)
		DO UPDATE SET last_number = sequence_counters.last_number + 1, updated_at = NOW()
		RETURNING last_number
	`

	var n int64
	if err := r.db.QueryRow(ctx, query, docType, year, scope).Scan(&n); err != nil {
		return 0, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to increment sequence counter")
	}
	return n, nil
}

// AdvanceTo raises the counter to at least n; it never moves backward.
func (r *SequenceRepository) AdvanceTo(ctx context.Context, docType string, year int, scope string, n int64) error {
	query := `
		INSERT INTO sequence_counters (doc_type, annee, scope, last_number)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (doc_type, annee, scope)
		DO UPDATE SET last_number = GREATEST(sequence_counters.last_number, EXCLUDED.last_number),
		              updated_at  = NOW()
	`

	if _, err := r.db.Exec(ctx, query, docType, year, scope, n); err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to advance sequence counter")
	}
	return nil
}
