package permissions

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestRegisterPreventsDuplicates(t *testing.T) {
	name := "testing.unique.all"
	require.NoError(t, Register(&Permission{Name: name}))
	t.Cleanup(func() { unregister(name) })

	err := Register(&Permission{Name: name})
	require.ErrorIs(t, err, errDuplicateName)
}

func TestRegisterDerivesComponents(t *testing.T) {
	name := "testing.export.team"
	require.NoError(t, Register(&Permission{Name: name, Module: "testing"}))
	t.Cleanup(func() { unregister(name) })

	perm, ok := Get(name)
	require.True(t, ok)
	require.Equal(t, "testing", perm.Module)
	require.Equal(t, "export", perm.Action)
	require.Equal(t, "team", perm.Scope)
}

func TestRegisterRejectsBadDefinitions(t *testing.T) {
	require.ErrorIs(t, Register(nil), errNilPermission)
	require.ErrorIs(t, Register(&Permission{Name: "testing.view_all"}), ErrNonCanonicalName)
	require.ErrorIs(t, Register(&Permission{Name: "testing.view.all", Module: "other"}), errModuleMismatch)
}

func TestBuiltinCatalog(t *testing.T) {
	for _, name := range []string{"cases.view.own", "cases.view.team", "cases.view.all", "dashboard.view.all", "roles.assign.all", "audit.view.all"} {
		_, ok := Get(name)
		require.True(t, ok, name)
	}

	cases := GetByModule(ModuleCases)
	require.Len(t, cases, 12)
	require.Equal(t, "cases.create.all", cases[0].Name)
}

func TestBuiltinModules(t *testing.T) {
	perms, ok := ModulePermissions(ModuleCases)
	require.True(t, ok)
	require.Equal(t, []string{"cases.view.own", "cases.view.team", "cases.view.all"}, perms)

	admin, ok := ModulePermissions(ModulePermissionsAdmin)
	require.True(t, ok)
	require.Equal(t, []string{"permissions.view.all"}, admin)

	profile, ok := GetModule(ModuleProfile)
	require.True(t, ok)
	require.Empty(t, profile.Permissions)
	require.Equal(t, "/profile", profile.Path)

	_, ok = GetModule("billing")
	require.False(t, ok)

	modules := Modules()
	require.Equal(t, ModuleDashboard, modules[0].Name)
	require.Equal(t, ModuleProfile, modules[len(modules)-1].Name)
}

func TestRegisterModuleDuplicate(t *testing.T) {
	require.NoError(t, RegisterModule(Module{Name: "testing-module"}))
	t.Cleanup(func() { unregisterModule("testing-module") })

	require.ErrorIs(t, RegisterModule(Module{Name: "testing-module"}), errDuplicateModule)
}

func TestValidateReferencesBuiltinsAreConsistent(t *testing.T) {
	require.NoError(t, ValidateReferences(ModuleReferences()...))
}

func TestValidateReferencesAggregatesEveryProblem(t *testing.T) {
	err := ValidateReferences(
		Reference{Source: "route /cases", Permission: "cases.view.all"},
		Reference{Source: "route /legacy", Permission: "cases.view_all"},
		Reference{Source: "nav reports", Permission: "reports.view.all"},
		Reference{Source: "nav broken", Permission: "reports"},
	)
	require.Error(t, err)

	errs := multierr.Errors(err)
	require.Len(t, errs, 3)
	require.ErrorIs(t, errs[0], ErrNonCanonicalName)
	require.ErrorIs(t, errs[1], ErrUnknownPermission)
	require.ErrorIs(t, errs[2], ErrInvalidName)
	require.Contains(t, errs[1].Error(), "nav reports")
}
