package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/sygfp/spendchain/internal/apperr"
	"github.com/sygfp/spendchain/internal/budget"
	"github.com/sygfp/spendchain/internal/database"
)

// BudgetLineRepository resolves imputation codes against the budget lines
// of an exercise.
type BudgetLineRepository struct {
	db *database.DB
}

// NewBudgetLineRepository creates a new BudgetLineRepository.
func NewBudgetLineRepository(db *database.DB) *BudgetLineRepository {
	return &BudgetLineRepository{db: db}
}

// FindByCode looks up the budget line carrying the code within the exercise.
func (r *BudgetLineRepository) FindByCode(ctx context.Context, code, exerciseID string) (*budget.BudgetLine, error) {
	query := `
		SELECT id, code, exercice_id, libelle, actif, dotation, consomme
		FROM budget_lines
		WHERE code = $1 AND exercice_id = $2
	`

	line := &budget.BudgetLine{}
	err := r.db.QueryRow(ctx, query, code, exerciseID).Scan(
		&line.ID,
		&line.Code,
		&line.ExerciseID,
		&line.Label,
		&line.Actif,
		&line.Dotation,
		&line.Consomme,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("budget line", code)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to get budget line")
	}
	return line, nil
}

// AddConsumption records consumption against a line after a document reaches
// its validated state. The update is a single statement so concurrent
// validations never lose increments.
func (r *BudgetLineRepository) AddConsumption(ctx context.Context, code, exerciseID string, amount decimal.Decimal) error {
	query := `
		UPDATE budget_lines
		SET consomme = consomme + $3, updated_at = NOW()
		WHERE code = $1 AND exercice_id = $2
	`

	tag, err := r.db.Exec(ctx, query, code, exerciseID, amount)
	if err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to record budget consumption")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("budget line", code)
	}
	return nil
}
