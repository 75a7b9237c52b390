package workflow

import (
	"errors"
	"fmt"
)

// Sentinel errors for the transition outcome taxonomy. Business-rule
// failures are returned as *TransitionError values wrapping one of these;
// infrastructure failures are returned as ordinary wrapped errors and are
// never one of them.
var (
	ErrExerciseReadOnly    = errors.New("fiscal exercise is read-only")
	ErrIllegalTransition   = errors.New("illegal transition")
	ErrUnauthorized        = errors.New("actor not authorized for this step")
	ErrPrerequisiteFailed  = errors.New("transition prerequisite failed")
	ErrConcurrencyConflict = errors.New("document was modified concurrently")
)

// Prerequisite sub-reasons carried by PrerequisiteFailed outcomes.
const (
	ReasonMissingJustification = "missing_justification"
	ReasonMissingPredecessor   = "missing_predecessor"
	ReasonMissingAttachment    = "missing_attachment"
	ReasonBudgetExceeded       = "budget_exceeded"
	ReasonImputationInvalid    = "imputation_invalid"
)

// TransitionError is a typed business-rule failure of AttemptTransition.
type TransitionError struct {
	kind    error  // one of the sentinels above
	Reason  string // sub-reason for prerequisite failures
	Message string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%v (%s): %s", e.kind, e.Reason, e.Message)
	}
	return fmt.Sprintf("%v: %s", e.kind, e.Message)
}

func (e *TransitionError) Unwrap() error { return e.kind }

func newTransitionError(kind error, message string) *TransitionError {
	return &TransitionError{kind: kind, Message: message}
}

func newPrerequisiteError(reason, message string) *TransitionError {
	return &TransitionError{kind: ErrPrerequisiteFailed, Reason: reason, Message: message}
}

// IsBusinessFailure reports whether err is a typed workflow outcome rather
// than an infrastructure error, so callers can target retries correctly.
func IsBusinessFailure(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}
