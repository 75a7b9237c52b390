package permission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sygfp/spendchain/internal/apperr"
)

type stubGrants struct {
	grants []Grant
	err    error
}

func (s *stubGrants) GrantsForSubstitute(ctx context.Context, userID string) ([]Grant, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []Grant
	for _, g := range s.grants {
		if g.SubstituteID == userID {
			out = append(out, g)
		}
	}
	return out, nil
}

var testNow = time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

func newTestResolver(grants ...Grant) *Resolver {
	return NewResolver(&stubGrants{grants: grants}).WithClock(func() time.Time { return testNow })
}

func grant(gt GrantType, titulaire, substitute string, roles []string, startsAt time.Time, endsAt *time.Time) Grant {
	return Grant{
		ID:           "grant-" + titulaire + "-" + substitute,
		Type:         gt,
		TitulaireID:  titulaire,
		SubstituteID: substitute,
		Roles:        roles,
		StartsAt:     startsAt,
		EndsAt:       endsAt,
	}
}

func TestResolveDirectRole(t *testing.T) {
	r := newTestResolver()

	d, err := r.Resolve(context.Background(), Actor{ID: "dg-1", Roles: []string{RoleDG}}, ActionValidate, "note_sef")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, ModeDirect, d.Mode)
	assert.Nil(t, d.ActingOnBehalfOf)
}

func TestResolveAdminBypassesMatrix(t *testing.T) {
	r := newTestResolver()

	// The matrix lists no role at all for this pair; ADMIN passes anyway.
	d, err := r.Resolve(context.Background(), Actor{ID: "admin-1", Roles: []string{RoleAdmin}}, ActionSign, "note_sef")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, ModeDirect, d.Mode)
}

func TestResolveDenyWithoutError(t *testing.T) {
	r := newTestResolver()

	d, err := r.Resolve(context.Background(), Actor{ID: "op-1", Roles: []string{RoleOperateur}}, ActionValidate, "note_sef")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ModeNone, d.Mode)
}

func TestResolveUnknownRoleIsAnError(t *testing.T) {
	r := newTestResolver()

	_, err := r.Resolve(context.Background(), Actor{ID: "u-1", Roles: []string{"SUPERVISEUR"}}, ActionValidate, "note_sef")
	require.Error(t, err)
	assert.Equal(t, apperr.ErrCodeInvalidInput, apperr.CodeOf(err))
}

func TestResolveDelegation(t *testing.T) {
	r := newTestResolver(
		grant(GrantDelegation, "dg-1", "adjoint-1", []string{RoleDG}, testNow.Add(-24*time.Hour), nil),
	)

	d, err := r.Resolve(context.Background(), Actor{ID: "adjoint-1"}, ActionValidate, "note_sef")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, ModeDelegation, d.Mode)
	require.NotNil(t, d.ActingOnBehalfOf)
	assert.Equal(t, "dg-1", *d.ActingOnBehalfOf)
}

func TestResolveInterim(t *testing.T) {
	r := newTestResolver(
		grant(GrantInterim, "cb-1", "agent-1", []string{RoleCB}, testNow.Add(-time.Hour), nil),
	)

	d, err := r.Resolve(context.Background(), Actor{ID: "agent-1", Roles: []string{RoleAgent}}, ActionImpute, "imputation")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, ModeInterim, d.Mode)
	require.NotNil(t, d.ActingOnBehalfOf)
	assert.Equal(t, "cb-1", *d.ActingOnBehalfOf)
}

func TestResolveDirectBeatsDelegation(t *testing.T) {
	r := newTestResolver(
		grant(GrantDelegation, "dg-1", "directeur-1", []string{RoleDG}, testNow.Add(-time.Hour), nil),
	)

	// The actor's own DIRECTEUR role already authorizes note_aef validation;
	// the decision must not be attributed to the delegation.
	d, err := r.Resolve(context.Background(), Actor{ID: "directeur-1", Roles: []string{RoleDirecteur}}, ActionValidate, "note_aef")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, ModeDirect, d.Mode)
	assert.Nil(t, d.ActingOnBehalfOf)
}

func TestResolveDelegationBeatsInterim(t *testing.T) {
	r := newTestResolver(
		grant(GrantInterim, "dg-2", "u-1", []string{RoleDG}, testNow.Add(-time.Hour), nil),
		grant(GrantDelegation, "dg-1", "u-1", []string{RoleDG}, testNow.Add(-2*time.Hour), nil),
	)

	d, err := r.Resolve(context.Background(), Actor{ID: "u-1"}, ActionValidate, "note_sef")
	require.NoError(t, err)
	assert.Equal(t, ModeDelegation, d.Mode)
	assert.Equal(t, "dg-1", *d.ActingOnBehalfOf)
}

func TestResolveExpiredGrantIgnored(t *testing.T) {
	ended := testNow.Add(-time.Hour)
	r := newTestResolver(
		grant(GrantDelegation, "dg-1", "u-1", []string{RoleDG}, testNow.Add(-48*time.Hour), &ended),
	)

	d, err := r.Resolve(context.Background(), Actor{ID: "u-1"}, ActionValidate, "note_sef")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestResolveFutureGrantIgnored(t *testing.T) {
	r := newTestResolver(
		grant(GrantDelegation, "dg-1", "u-1", []string{RoleDG}, testNow.Add(time.Hour), nil),
	)

	d, err := r.Resolve(context.Background(), Actor{ID: "u-1"}, ActionValidate, "note_sef")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestResolveOverlappingGrantsLatestStartWins(t *testing.T) {
	r := newTestResolver(
		grant(GrantDelegation, "dg-old", "u-1", []string{RoleDG}, testNow.Add(-72*time.Hour), nil),
		grant(GrantDelegation, "dg-new", "u-1", []string{RoleDG}, testNow.Add(-time.Hour), nil),
	)

	d, err := r.Resolve(context.Background(), Actor{ID: "u-1"}, ActionValidate, "note_sef")
	require.NoError(t, err)
	assert.Equal(t, "dg-new", *d.ActingOnBehalfOf)
}

func TestResolveGrantRolesMustMatchStep(t *testing.T) {
	r := newTestResolver(
		grant(GrantDelegation, "cb-1", "u-1", []string{RoleCB}, testNow.Add(-time.Hour), nil),
	)

	// A CB delegation does not unlock DG-only validation of a note SEF.
	d, err := r.Resolve(context.Background(), Actor{ID: "u-1"}, ActionValidate, "note_sef")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestResolveRolesExplicitList(t *testing.T) {
	r := newTestResolver()

	d, err := r.ResolveRoles(context.Background(), Actor{ID: "dg-1", Roles: []string{RoleDG}}, []string{RoleDG})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, ModeDirect, d.Mode)

	// A role outside the list is denied even when the step matrix would
	// allow it elsewhere.
	d, err = r.ResolveRoles(context.Background(), Actor{ID: "daaf-1", Roles: []string{RoleDAAF}}, []string{RoleDG})
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = r.ResolveRoles(context.Background(), Actor{ID: "admin-1", Roles: []string{RoleAdmin}}, []string{RoleDG})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestResolveRolesThroughDelegation(t *testing.T) {
	r := newTestResolver(
		grant(GrantDelegation, "dg-1", "adjoint-1", []string{RoleDG}, testNow.Add(-time.Hour), nil),
	)

	d, err := r.ResolveRoles(context.Background(), Actor{ID: "adjoint-1"}, []string{RoleDG})
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, ModeDelegation, d.Mode)
	require.NotNil(t, d.ActingOnBehalfOf)
	assert.Equal(t, "dg-1", *d.ActingOnBehalfOf)
}

func TestGrantActiveAtBounds(t *testing.T) {
	end := testNow.Add(time.Hour)
	g := grant(GrantDelegation, "t", "s", []string{RoleDG}, testNow, &end)

	assert.True(t, g.ActiveAt(testNow))
	assert.True(t, g.ActiveAt(end), "end bound is inclusive")
	assert.False(t, g.ActiveAt(testNow.Add(-time.Second)))
	assert.False(t, g.ActiveAt(end.Add(time.Second)))
}

func TestAuthorizedRoles(t *testing.T) {
	assert.ElementsMatch(t, []string{RoleDG}, AuthorizedRoles("note_sef", ActionValidate))
	assert.Nil(t, AuthorizedRoles("facture", ActionValidate))
	assert.Nil(t, AuthorizedRoles("note_sef", ActionExecute))
}
