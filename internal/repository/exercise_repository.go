package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/sygfp/spendchain/internal/apperr"
	"github.com/sygfp/spendchain/internal/database"
	"github.com/sygfp/spendchain/internal/exercise"
)

// ExerciseRepository reads fiscal exercises for the write guard.
type ExerciseRepository struct {
	db *database.DB
}

// NewExerciseRepository creates a new ExerciseRepository.
func NewExerciseRepository(db *database.DB) *ExerciseRepository {
	return &ExerciseRepository{db: db}
}

// GetExercise retrieves a fiscal exercise by id.
func (r *ExerciseRepository) GetExercise(ctx context.Context, id string) (*exercise.Exercise, error) {
	query := `SELECT id, annee, statut, actif FROM exercices WHERE id = $1`

	ex := &exercise.Exercise{}
	err := r.db.QueryRow(ctx, query, id).Scan(&ex.ID, &ex.Annee, &ex.Status, &ex.Actif)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("exercise", id)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to get exercise")
	}
	return ex, nil
}

// GetActiveExercise returns the exercise flagged active, used as the default
// when document creation does not name one.
func (r *ExerciseRepository) GetActiveExercise(ctx context.Context) (*exercise.Exercise, error) {
	query := `SELECT id, annee, statut, actif FROM exercices WHERE actif = TRUE ORDER BY annee DESC LIMIT 1`

	ex := &exercise.Exercise{}
	err := r.db.QueryRow(ctx, query).Scan(&ex.ID, &ex.Annee, &ex.Status, &ex.Actif)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("exercise", "active")
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to get active exercise")
	}
	return ex, nil
}
