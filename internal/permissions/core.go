package permissions

import (
	"fmt"

	"github.com/charlesng35/casedesk/internal/models"
)

// Built-in module keys.
const (
	ModuleDashboard        = "dashboard"
	ModuleCases            = "cases"
	ModuleTodos            = "todos"
	ModuleNotes            = "notes"
	ModuleKnowledge        = "knowledge"
	ModuleCaseControl      = "case-control"
	ModuleDispositions     = "dispositions"
	ModuleArchive          = "archive"
	ModuleUsers            = "users"
	ModuleRoles            = "roles"
	ModulePermissionsAdmin = "permissions"
	ModuleTeams            = "teams"
	ModuleAudit            = "audit"
	ModuleProfile          = "profile"
)

// Actions.
const (
	ActionView   = "view"
	ActionCreate = "create"
	ActionEdit   = "edit"
	ActionDelete = "delete"
	ActionAssign = "assign"
)

var (
	crud        = []string{ActionView, ActionCreate, ActionEdit, ActionDelete}
	allScopes   = []string{models.ScopeOwn, models.ScopeTeam, models.ScopeAll}
	globalScope = []string{models.ScopeAll}
)

type catalogModule struct {
	module  string
	label   string
	actions []string
	scopes  []string
}

var builtinCatalog = []catalogModule{
	{ModuleDashboard, "Dashboard", []string{ActionView}, allScopes},
	{ModuleCases, "Cases", crud, allScopes},
	{ModuleTodos, "Todos", crud, allScopes},
	{ModuleNotes, "Notes", crud, allScopes},
	{ModuleKnowledge, "Knowledge base", crud, []string{models.ScopeTeam, models.ScopeAll}},
	{ModuleCaseControl, "Case control", []string{ActionView, ActionEdit}, []string{models.ScopeTeam, models.ScopeAll}},
	{ModuleDispositions, "Dispositions", crud, globalScope},
	{ModuleArchive, "Archive", []string{ActionView, ActionEdit}, allScopes},
	{ModuleUsers, "Users", crud, globalScope},
	{ModuleRoles, "Roles", append(append([]string(nil), crud...), ActionAssign), globalScope},
	{ModulePermissionsAdmin, "Permissions", crud, globalScope},
	{ModuleTeams, "Teams", crud, globalScope},
	{ModuleAudit, "Audit log", []string{ActionView}, globalScope},
}

func init() {
	for _, entry := range builtinCatalog {
		for _, action := range entry.actions {
			for _, scope := range entry.scopes {
				perm := &Permission{
					Name:        Join(entry.module, action, scope),
					Description: fmt.Sprintf("%s %s (%s scope)", titleAction(action), entry.label, scope),
				}
				if err := Register(perm); err != nil {
					panic(fmt.Errorf("register %s: %w", perm.Name, err))
				}
			}
		}

		decl := Module{Name: entry.module, Label: entry.label}
		for _, scope := range entry.scopes {
			decl.Permissions = append(decl.Permissions, Join(entry.module, ActionView, scope))
		}
		if err := RegisterModule(decl); err != nil {
			panic(err)
		}
	}

	if err := RegisterModule(Module{Name: ModuleProfile, Label: "Profile"}); err != nil {
		panic(err)
	}
}

func titleAction(action string) string {
	switch action {
	case ActionView:
		return "View"
	case ActionCreate:
		return "Create"
	case ActionEdit:
		return "Edit"
	case ActionDelete:
		return "Delete"
	case ActionAssign:
		return "Assign"
	}
	return action
}
