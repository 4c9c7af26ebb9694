package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/casedesk/internal/models"
	"github.com/charlesng35/casedesk/internal/oracle"
	"github.com/charlesng35/casedesk/internal/permissions"
)

// stubOracle answers from a fixed grant set, evaluating modules against their
// declared permission lists.
type stubOracle struct {
	grants   map[string]bool
	readyErr error
	asked    []string
}

func newStub(grants ...string) *stubOracle {
	s := &stubOracle{grants: make(map[string]bool)}
	for _, g := range grants {
		s.grants[g] = true
	}
	return s
}

func (s *stubOracle) HasPermissionAsync(_ context.Context, name string) bool {
	s.asked = append(s.asked, name)
	return s.grants[name]
}

func (s *stubOracle) CanAccessModuleAsync(_ context.Context, module string) bool {
	perms, ok := permissions.ModulePermissions(module)
	if !ok {
		return false
	}
	if len(perms) == 0 {
		return true
	}
	for _, p := range perms {
		if s.grants[p] {
			return true
		}
	}
	return false
}

func (s *stubOracle) WaitReady(context.Context) error { return s.readyErr }

var member = Subject{Authenticated: true, UserID: "u1", RoleName: "User"}

func TestEvaluateOrder(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		subject Subject
		oracle  *stubOracle
		req     Requirement
		want    Decision
	}{
		{
			name:    "unauthenticated goes to login",
			subject: Subject{},
			oracle:  newStub("cases.view.all"),
			req:     Requirement{RequiredPermission: "cases.view.all"},
			want:    Decision{Redirect: LoginPath, Reason: ReasonUnauthenticated},
		},
		{
			name:    "admin only rejects other roles",
			subject: member,
			oracle:  newStub("users.view.all"),
			req:     Requirement{AdminOnly: true},
			want:    Decision{Redirect: UnauthorizedPath, Reason: ReasonAdminOnly},
		},
		{
			name:    "admin only accepts administrators",
			subject: Subject{Authenticated: true, RoleName: models.AdministratorRoleName},
			oracle:  newStub(),
			req:     Requirement{AdminOnly: true},
			want:    Decision{Allowed: true},
		},
		{
			name:    "missing single permission",
			subject: member,
			oracle:  newStub(),
			req:     Requirement{RequiredPermission: "cases.edit.own"},
			want:    Decision{Redirect: UnauthorizedPath, Reason: ReasonMissingPermission},
		},
		{
			name:    "all-of requires every permission",
			subject: member,
			oracle:  newStub("roles.view.all"),
			req:     Requirement{RequiredPermissions: []string{"roles.view.all", "roles.assign.all"}},
			want:    Decision{Redirect: UnauthorizedPath, Reason: ReasonMissingPermission},
		},
		{
			name:    "module denied",
			subject: member,
			oracle:  newStub("cases.view.own"),
			req:     Requirement{RequiredModule: permissions.ModuleArchive},
			want:    Decision{Redirect: UnauthorizedPath, Reason: ReasonModuleDenied},
		},
		{
			name:    "everything satisfied",
			subject: member,
			oracle:  newStub("roles.view.all", "roles.assign.all", "cases.view.own"),
			req: Requirement{
				RequiredPermission:  "roles.view.all",
				RequiredPermissions: []string{"roles.assign.all"},
				RequiredModule:      permissions.ModuleCases,
			},
			want: Decision{Allowed: true},
		},
		{
			name:    "no requirement allows authenticated callers",
			subject: member,
			oracle:  newStub(),
			want:    Decision{Allowed: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Evaluate(ctx, tt.subject, tt.oracle, tt.req))
		})
	}
}

func TestEvaluateWithoutOracleFailsClosed(t *testing.T) {
	d := Evaluate(context.Background(), member, nil, Requirement{RequiredModule: permissions.ModuleCases})
	require.False(t, d.Allowed)
	require.Equal(t, UnauthorizedPath, d.Redirect)

	require.True(t, Evaluate(context.Background(), member, nil, Requirement{}).Allowed)
}

func TestFilterNavigationHidesRestrictedItems(t *testing.T) {
	items := []NavItem{
		{Key: "profile", Path: "/profile"},
		{Key: "dashboard", Path: "/dashboard"},
		{Key: "users", Label: "Usuarios", Path: "/users", RequiredPermission: "users.view.all"},
		{Key: "cases", Path: "/cases", RequiredModule: permissions.ModuleCases},
		{Key: "reports", Path: "/reports"},
	}

	got := FilterNavigation(context.Background(), newStub(), items)
	require.Equal(t, []string{"profile", "dashboard"}, keys(got))

	got = FilterNavigation(context.Background(), newStub("cases.view.own", "users.view.all"), items)
	require.Equal(t, []string{"profile", "dashboard", "users", "cases"}, keys(got))
}

func TestNavigatorAllowListIsCheckedFirst(t *testing.T) {
	stub := newStub()
	nav := NewNavigator([]NavItem{{Key: "reports", RequiredPermission: "audit.view.all"}}, []string{"reports"})

	require.Len(t, nav.Filter(context.Background(), stub), 1)
	require.Empty(t, stub.asked, "allow-listed items never consult the oracle")

	empty := NewNavigator(DefaultNavigation(), []string{})
	require.False(t, empty.IsPublic(permissions.ModuleDashboard))
}

func TestNavigationIsMonotonic(t *testing.T) {
	nav := NewNavigator(DefaultNavigation(), nil)
	ctx := context.Background()

	grants := []string{}
	previous := keys(nav.Filter(ctx, newStub(grants...)))
	for _, extra := range []string{"cases.view.own", "knowledge.view.team", "users.view.all", "archive.view.all"} {
		grants = append(grants, extra)
		current := keys(nav.Filter(ctx, newStub(grants...)))
		require.Subset(t, current, previous)
		previous = current
	}
}

func TestLanding(t *testing.T) {
	ctx := context.Background()

	require.Equal(t, "/dashboard", Landing(ctx, newStub("dashboard.view.own", "cases.view.own")))
	require.Equal(t, "/cases", Landing(ctx, newStub("cases.view.team")))
	require.Equal(t, "/case-control", Landing(ctx, newStub("case-control.view.team", "users.view.all")))
	require.Equal(t, UnauthorizedPath, Landing(ctx, newStub("users.view.all")))
	require.Equal(t, UnauthorizedPath, Landing(ctx, nil))

	notReady := newStub("dashboard.view.all")
	notReady.readyErr = oracle.ErrDisposed
	require.Equal(t, UnauthorizedPath, Landing(ctx, notReady))
}

func TestLandingWaitsForFirstPopulation(t *testing.T) {
	transport := &countingTransport{grants: map[string]bool{"notes.view.own": true}}
	o, err := oracle.New(transport, oracle.Options{})
	require.NoError(t, err)
	t.Cleanup(o.Dispose)
	require.NoError(t, o.Start())

	require.Equal(t, "/notes", Landing(context.Background(), o))
}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(map[string]Requirement{
		"GET /api/cases": {RequiredModule: permissions.ModuleCases},
		"PUT /api/roles": {RequiredPermissions: []string{"roles.edit.all", "roles.assign.all"}},
	}, DefaultNavigation()))

	err := Validate(map[string]Requirement{
		"GET /x": {RequiredPermission: "cases.view_all", RequiredModule: "billing"},
	}, []NavItem{
		{Key: "bad", RequiredPermission: "cases:view:own", RequiredModule: "cases"},
		{Key: "ghost", RequiredPermission: "ghost.view.all"},
	})
	require.Error(t, err)
	require.ErrorIs(t, err, permissions.ErrNonCanonicalName)
	require.ErrorIs(t, err, permissions.ErrUnknownPermission)
	require.Contains(t, err.Error(), `unknown module "billing"`)
	require.Contains(t, err.Error(), "declares both")
}

type countingTransport struct {
	grants map[string]bool
}

func (c *countingTransport) CheckPermission(_ context.Context, name string) (bool, error) {
	return c.grants[name], nil
}

func (c *countingTransport) CheckModuleAccess(_ context.Context, module string) (bool, error) {
	perms, ok := permissions.ModulePermissions(module)
	if !ok {
		return false, errors.New("unknown module")
	}
	for _, p := range perms {
		if c.grants[p] {
			return true, nil
		}
	}
	return len(perms) == 0, nil
}

func keys(items []NavItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Key)
	}
	return out
}
