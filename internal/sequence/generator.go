// Package sequence produces collision-free, monotonically increasing
// document reference codes scoped by document type, fiscal year and
// optionally an organizational unit.
package sequence

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/sygfp/spendchain/internal/apperr"
)

// orgPrefix heads every reference code.
const orgPrefix = "ARTI"

// ScopeGlobal is the scope used when references are not per-direction.
const ScopeGlobal = "global"

// padWidth is the zero-padding of the numeric suffix.
const padWidth = 4

// Ref is a generated document reference.
type Ref struct {
	Prefix   string // document type code, e.g. "ENG"
	Year     int
	Scope    string
	Number   int64
	Padded   string
	FullCode string
}

// CounterStore provides the atomic counter primitive. Implementations must
// increment server-side (single statement, row lock); a read-then-write
// client-side increment races and is forbidden.
type CounterStore interface {
	// NextNumber atomically increments and returns the counter for
	// (docType, year, scope), creating it at 1 when absent.
	NextNumber(ctx context.Context, docType string, year int, scope string) (int64, error)
	// AdvanceTo raises the counter to at least n, never lowering it.
	AdvanceTo(ctx context.Context, docType string, year int, scope string, n int64) error
}

// Generator issues references backed by an atomic counter store.
type Generator struct {
	store CounterStore
}

func NewGenerator(store CounterStore) *Generator {
	return &Generator{store: store}
}

// Next issues the next reference for (docType, year, scope).
func (g *Generator) Next(ctx context.Context, docType string, year int, scope string) (Ref, error) {
	if docType == "" {
		return Ref{}, apperr.InvalidInput("doc_type", "document type code is required")
	}
	if scope == "" {
		scope = ScopeGlobal
	}
	n, err := g.store.NextNumber(ctx, docType, year, scope)
	if err != nil {
		return Ref{}, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to increment sequence counter")
	}
	return makeRef(docType, year, scope, n), nil
}

// SyncFromImport advances the counter past an externally supplied historical
// number so future references never collide with imported documents.
// The counter never moves backward.
func (g *Generator) SyncFromImport(ctx context.Context, docType string, year int, scope string, imported int64) error {
	if imported <= 0 {
		return apperr.InvalidInput("imported", "imported number must be positive")
	}
	if scope == "" {
		scope = ScopeGlobal
	}
	if err := g.store.AdvanceTo(ctx, docType, year, scope, imported); err != nil {
		return apperr.Wrap(err, apperr.ErrCodeInternal, "failed to sync sequence counter")
	}
	return nil
}

func makeRef(docType string, year int, scope string, n int64) Ref {
	padded := fmt.Sprintf("%0*d", padWidth, n)
	var full string
	if scope == ScopeGlobal {
		full = fmt.Sprintf("%s/%s/%d/%s", orgPrefix, docType, year, padded)
	} else {
		full = fmt.Sprintf("%s/%s/%s/%d/%s", orgPrefix, docType, scope, year, padded)
	}
	return Ref{Prefix: docType, Year: year, Scope: scope, Number: n, Padded: padded, FullCode: full}
}

// Parse is the left inverse of reference formatting:
// Parse(r.FullCode) reproduces r's components for any generated r.
func Parse(code string) (Ref, error) {
	parts := strings.Split(strings.TrimSpace(code), "/")
	if len(parts) < 4 || parts[0] != orgPrefix {
		return Ref{}, apperr.InvalidInput("code", "not a recognized reference code: "+code)
	}

	var (
		docType, scope, yearStr, numStr string
	)
	switch len(parts) {
	case 4:
		docType, scope, yearStr, numStr = parts[1], ScopeGlobal, parts[2], parts[3]
	case 5:
		docType, scope, yearStr, numStr = parts[1], parts[2], parts[3], parts[4]
	default:
		return Ref{}, apperr.InvalidInput("code", "malformed reference code: "+code)
	}

	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return Ref{}, apperr.InvalidInput("code", "invalid year in reference code: "+code)
	}
	n, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return Ref{}, apperr.InvalidInput("code", "invalid number in reference code: "+code)
	}
	return makeRef(docType, year, scope, n), nil
}
