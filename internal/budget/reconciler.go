package budget

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/sygfp/spendchain/internal/apperr"
)

// CheckStatus classifies an imputation check outcome. Everything except
// CheckOK is a warning classification — whether it blocks is the caller's
// policy, not the reconciler's.
type CheckStatus string

const (
	CheckOK             CheckStatus = "ok"
	CheckNotFound       CheckStatus = "not_found"
	CheckInactive       CheckStatus = "inactive"
	CheckAmountExceeded CheckStatus = "amount_exceeds_available"
)

// ImputationCheck is the result of reconciling a declared imputation against
// the budget lines of an exercise.
type ImputationCheck struct {
	Status    CheckStatus
	Available decimal.Decimal
	Consumed  decimal.Decimal
}

// Blocking reports whether the check should stop a transition under a
// hard-block policy. Only amount overruns escalate; a missing or inactive
// line stays a warning even then.
func (c ImputationCheck) Blocking(hardBlock bool) bool {
	return hardBlock && c.Status == CheckAmountExceeded
}

// BudgetLine is one line of the budget for a fiscal exercise.
type BudgetLine struct {
	ID         string
	Code       string
	ExerciseID string
	Label      string
	Actif      bool
	Dotation   decimal.Decimal
	Consomme   decimal.Decimal
}

// Available returns the remaining balance on the line.
func (l BudgetLine) Available() decimal.Decimal {
	return l.Dotation.Sub(l.Consomme)
}

// LineSource looks up budget lines. Returns a not-found coded error when the
// code does not resolve for the exercise.
type LineSource interface {
	FindByCode(ctx context.Context, code, exerciseID string) (*BudgetLine, error)
}

// Reconciler validates declared imputations. Reads are advisory: balances
// may be transiently stale, by design, so document creation is not
// serialized behind budget locks.
type Reconciler struct {
	lines LineSource
	log   zerolog.Logger
}

func NewReconciler(lines LineSource, log zerolog.Logger) *Reconciler {
	return &Reconciler{lines: lines, log: log}
}

// ValidateImputation resolves the code against the exercise's budget lines
// and compares the declared amount to the remaining balance.
func (r *Reconciler) ValidateImputation(ctx context.Context, code, exerciseID string, declared decimal.Decimal) (ImputationCheck, error) {
	parts := Split(code)
	if !parts.Valid {
		return ImputationCheck{Status: CheckNotFound}, nil
	}

	line, err := r.lines.FindByCode(ctx, parts.Complete, exerciseID)
	if err != nil {
		if apperr.IsNotFound(err) {
			r.log.Debug().Str("code", parts.Complete).Str("exercise_id", exerciseID).
				Msg("imputation code did not resolve to a budget line")
			return ImputationCheck{Status: CheckNotFound}, nil
		}
		return ImputationCheck{}, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to look up budget line")
	}

	check := ImputationCheck{
		Status:    CheckOK,
		Available: line.Available(),
		Consumed:  line.Consomme,
	}
	if !line.Actif {
		check.Status = CheckInactive
		return check, nil
	}
	if declared.GreaterThan(line.Available()) {
		check.Status = CheckAmountExceeded
	}
	return check, nil
}
