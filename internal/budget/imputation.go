// Package budget handles imputation codes and budget-line reconciliation.
package budget

import "strings"

// prefixLen is the display split point of an imputation code: the first ten
// characters carry the organizational-action coordinate, the suite carries
// the remaining segments.
const prefixLen = 10

const placeholder = "-"

// ImputationParts is the decomposition of an imputation code.
type ImputationParts struct {
	Prefix   string // first 10 characters ("-" when invalid)
	Suite    string // remainder ("-" when empty or invalid)
	Complete string // the full trimmed code ("" when invalid)
	Valid    bool
}

// Split decomposes a combined imputation code. Split and Build are inverse
// operations: Build(Split(x)) == x for any well-formed (trimmed, non-empty)
// code x.
func Split(code string) ImputationParts {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return ImputationParts{Prefix: placeholder, Suite: placeholder}
	}
	if len(trimmed) <= prefixLen {
		return ImputationParts{Prefix: trimmed, Suite: placeholder, Complete: trimmed, Valid: true}
	}
	return ImputationParts{
		Prefix:   trimmed[:prefixLen],
		Suite:    trimmed[prefixLen:],
		Complete: trimmed,
		Valid:    true,
	}
}

// Build reassembles a code from its parts. Inverse of Split.
func Build(p ImputationParts) string {
	if !p.Valid {
		return ""
	}
	if p.Suite == placeholder {
		return p.Prefix
	}
	return p.Prefix + p.Suite
}

// Segments returns the dash-separated coordinates of a code
// (OS, action, sous-action, nature…).
func Segments(code string) []string {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "-")
}

// Format truncates a code for display, appending an ellipsis when the code
// exceeds maxLen. maxLen <= 0 means no limit. Empty codes render as "-".
func Format(code string, maxLen int) string {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return placeholder
	}
	if maxLen > 0 && len(trimmed) > maxLen {
		if maxLen <= 3 {
			return trimmed[:maxLen]
		}
		return trimmed[:maxLen-3] + "..."
	}
	return trimmed
}
