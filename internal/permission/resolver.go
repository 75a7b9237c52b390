package permission

import (
	"context"
	"time"

	"github.com/sygfp/spendchain/internal/apperr"
)

// Mode says how an allow decision was obtained.
type Mode string

const (
	ModeDirect     Mode = "direct"
	ModeDelegation Mode = "delegation"
	ModeInterim    Mode = "interim"
	ModeNone       Mode = "none"
)

// GrantType distinguishes the two substitution mechanisms.
type GrantType string

const (
	GrantDelegation GrantType = "delegation"
	GrantInterim    GrantType = "interim"
)

// Grant is a time-bounded assignment of a titulaire's role authority to a
// substitute user.
type Grant struct {
	ID           string
	Type         GrantType
	TitulaireID  string
	SubstituteID string
	Roles        []string
	StartsAt     time.Time
	EndsAt       *time.Time
}

// ActiveAt reports whether the grant covers the instant t.
func (g Grant) ActiveAt(t time.Time) bool {
	if t.Before(g.StartsAt) {
		return false
	}
	return g.EndsAt == nil || !t.After(*g.EndsAt)
}

// Actor is the acting user with their direct role set.
type Actor struct {
	ID    string
	Roles []string
}

// Decision is the outcome of a permission resolution.
type Decision struct {
	Allowed bool
	Mode    Mode
	// ActingOnBehalfOf is the titulaire's user id when Mode is delegation
	// or interim, so the engine can record the effective actor.
	ActingOnBehalfOf *string
}

// GrantSource supplies the active delegation/interim grants for a substitute.
// Read fresh on every resolution; the identity store is the cache.
type GrantSource interface {
	GrantsForSubstitute(ctx context.Context, userID string) ([]Grant, error)
}

// Resolver combines the step matrix with delegation and interim grants.
type Resolver struct {
	grants GrantSource
	now    func() time.Time
}

func NewResolver(grants GrantSource) *Resolver {
	return &Resolver{grants: grants, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve decides whether actor may perform action at the given chain step.
// Precedence: direct role, then delegation, then interim — direct authority
// is never shadowed by a substitute mode. A normal deny returns
// {Allowed: false, Mode: none} with a nil error; only malformed input
// (unknown role code) yields an error.
func (r *Resolver) Resolve(ctx context.Context, actor Actor, action, step string) (Decision, error) {
	return r.ResolveRoles(ctx, actor, AuthorizedRoles(step, action))
}

// ResolveRoles decides against an explicit allowed-role list instead of the
// step matrix, with the same precedence and error contract as Resolve. Used
// for transitions restricted to named roles.
func (r *Resolver) ResolveRoles(ctx context.Context, actor Actor, allowed []string) (Decision, error) {
	for _, role := range actor.Roles {
		if !KnownRole(role) {
			return Decision{}, apperr.InvalidInput("role", "unknown role code: "+role)
		}
	}

	// 1. Direct roles; ADMIN bypasses the allowed list entirely.
	for _, role := range actor.Roles {
		if role == RoleAdmin || containsRole(allowed, role) {
			return Decision{Allowed: true, Mode: ModeDirect}, nil
		}
	}

	grants, err := r.grants.GrantsForSubstitute(ctx, actor.ID)
	if err != nil {
		return Decision{}, apperr.Wrap(err, apperr.ErrCodeInternal, "failed to load role grants")
	}

	now := r.now()

	// 2. Delegation, then 3. interim. Overlapping grants are tolerated:
	// the most recently started matching grant wins.
	for _, gt := range []GrantType{GrantDelegation, GrantInterim} {
		if g := bestMatch(grants, gt, allowed, now); g != nil {
			mode := ModeDelegation
			if gt == GrantInterim {
				mode = ModeInterim
			}
			titulaire := g.TitulaireID
			return Decision{Allowed: true, Mode: mode, ActingOnBehalfOf: &titulaire}, nil
		}
	}

	return Decision{Allowed: false, Mode: ModeNone}, nil
}

func bestMatch(grants []Grant, gt GrantType, allowed []string, now time.Time) *Grant {
	var best *Grant
	for i := range grants {
		g := &grants[i]
		if g.Type != gt || !g.ActiveAt(now) {
			continue
		}
		if !rolesIntersect(g.Roles, allowed) {
			continue
		}
		if best == nil || g.StartsAt.After(best.StartsAt) {
			best = g
		}
	}
	return best
}

func containsRole(set []string, role string) bool {
	for _, r := range set {
		if r == role {
			return true
		}
	}
	return false
}

func rolesIntersect(a, b []string) bool {
	for _, r := range a {
		if r == RoleAdmin || containsRole(b, r) {
			return true
		}
	}
	return false
}
