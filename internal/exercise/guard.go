// Package exercise gates mutating operations behind the state of the
// fiscal exercise they are dated to.
package exercise

import (
	"context"
	"errors"
	"fmt"
)

// ErrReadOnly marks a mutating operation attempted against a closed or
// archived exercise. Match with errors.Is.
var ErrReadOnly = errors.New("fiscal exercise is read-only")

// Status of a fiscal exercise.
type Status string

const (
	StatusOuvert  Status = "ouvert"
	StatusCloture Status = "cloture"
	StatusArchive Status = "archive"
)

// Exercise is a budget year.
type Exercise struct {
	ID     string
	Annee  int
	Status Status
	Actif  bool
}

// Writable reports whether documents dated to the exercise may be mutated.
func (e Exercise) Writable() bool { return e.Status == StatusOuvert }

// Source looks up exercises by id.
type Source interface {
	GetExercise(ctx context.Context, id string) (*Exercise, error)
}

// Guard wraps every mutating entry point of the chain.
type Guard struct {
	source Source
}

func NewGuard(source Source) *Guard {
	return &Guard{source: source}
}

// AssertWritable fails with a not-found error for unknown exercises and
// ErrReadOnly for closed or archived ones, independent of the actor's role.
func (g *Guard) AssertWritable(ctx context.Context, exerciseID string) error {
	ex, err := g.source.GetExercise(ctx, exerciseID)
	if err != nil {
		return err
	}
	if !ex.Writable() {
		return fmt.Errorf("%w: exercise %s is %s", ErrReadOnly, exerciseID, ex.Status)
	}
	return nil
}
