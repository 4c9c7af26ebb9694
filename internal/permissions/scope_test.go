package permissions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/casedesk/internal/models"
)

type staticHolder map[string]bool

func (h staticHolder) HasPermissionAsync(_ context.Context, name string) bool {
	return h[name]
}

type teamStub struct {
	shared map[string]bool
	err    error
}

func (s teamStub) SharesTeam(_ context.Context, userID, other string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.shared[userID+"|"+other], nil
}

func subject(userID string, perms ...string) Subject {
	holder := staticHolder{}
	for _, perm := range perms {
		holder[perm] = true
	}
	return Subject{UserID: userID, RoleName: "Investigator", Permissions: holder}
}

func TestScopeResolverPriority(t *testing.T) {
	resolver := NewScopeResolver()
	ctx := context.Background()

	admin := Subject{UserID: "u1", RoleName: models.AdministratorRoleName}
	require.True(t, resolver.Check(ctx, admin, "cases", "edit", "someone-else"))

	all := subject("u1", "cases.edit.all")
	require.True(t, resolver.Check(ctx, all, "cases", "edit", "someone-else"))

	team := subject("u1", "cases.edit.team")
	require.True(t, resolver.Check(ctx, team, "cases", "edit", "someone-else"))

	none := subject("u1", "cases.view.all")
	require.False(t, resolver.Check(ctx, none, "cases", "edit", ""))
}

func TestScopeResolverOwnTargeting(t *testing.T) {
	resolver := NewScopeResolver()
	ctx := context.Background()
	own := subject("u1", "cases.view.own")

	require.True(t, resolver.Check(ctx, own, "cases", "view", ""))
	require.True(t, resolver.Check(ctx, own, "cases", "view", "u1"))
	require.False(t, resolver.Check(ctx, own, "cases", "view", "u2"))
}

func TestScopeResolverTeamNarrowing(t *testing.T) {
	teams := teamStub{shared: map[string]bool{"u1|u2": true}}
	resolver := NewScopeResolver(WithTeamNarrowing(teams))
	ctx := context.Background()
	require.True(t, resolver.NarrowsTeams())

	team := subject("u1", "cases.view.team")
	require.True(t, resolver.Check(ctx, team, "cases", "view", "u2"))
	require.False(t, resolver.Check(ctx, team, "cases", "view", "u3"))
	require.True(t, resolver.Check(ctx, team, "cases", "view", ""))

	teamAndOwn := subject("u1", "cases.view.team", "cases.view.own")
	require.True(t, resolver.Check(ctx, teamAndOwn, "cases", "view", "u1"))

	failing := NewScopeResolver(WithTeamNarrowing(teamStub{err: errors.New("db down")}))
	require.False(t, failing.Check(ctx, team, "cases", "view", "u2"))
}

func TestScopeResolverBroadestScope(t *testing.T) {
	resolver := NewScopeResolver()
	ctx := context.Background()

	require.Equal(t, models.ScopeAll, resolver.Scope(ctx, Subject{RoleName: models.AdministratorRoleName}, "cases", "view"))
	require.Equal(t, models.ScopeTeam, resolver.Scope(ctx, subject("u1", "cases.view.own", "cases.view.team"), "cases", "view"))
	require.Equal(t, models.ScopeOwn, resolver.Scope(ctx, subject("u1", "cases.view.own"), "cases", "view"))
	require.Empty(t, resolver.Scope(ctx, subject("u1"), "cases", "view"))
	require.Empty(t, resolver.Scope(ctx, Subject{UserID: "u1"}, "cases", "view"))
}
