package gate

import (
	"context"
	"strings"

	"github.com/charlesng35/casedesk/internal/models"
	"github.com/charlesng35/casedesk/internal/permissions"
)

// NavItem is one navigation entry. It declares a permission or a module, not both.
type NavItem struct {
	Key                string `json:"key"`
	Label              string `json:"label"`
	Path               string `json:"path"`
	RequiredPermission string `json:"required_permission,omitempty"`
	RequiredModule     string `json:"required_module,omitempty"`
}

// DefaultPublicModules are visible without a declared restriction.
func DefaultPublicModules() []string {
	return []string{permissions.ModuleProfile, permissions.ModuleDashboard}
}

// LandingOrder is the priority list used to pick the post-login destination.
var LandingOrder = []string{
	permissions.ModuleDashboard,
	permissions.ModuleCases,
	permissions.ModuleTodos,
	permissions.ModuleNotes,
	permissions.ModuleKnowledge,
	permissions.ModuleCaseControl,
	permissions.ModuleDispositions,
	permissions.ModuleArchive,
}

// Navigator filters a fixed navigation list for a session.
type Navigator struct {
	items  []NavItem
	public map[string]struct{}
}

// NewNavigator builds a navigator. A nil public list falls back to DefaultPublicModules.
func NewNavigator(items []NavItem, public []string) *Navigator {
	if public == nil {
		public = DefaultPublicModules()
	}
	set := make(map[string]struct{}, len(public))
	for _, key := range public {
		if key = strings.TrimSpace(key); key != "" {
			set[key] = struct{}{}
		}
	}
	return &Navigator{items: append([]NavItem(nil), items...), public: set}
}

// Items returns the unfiltered navigation list.
func (n *Navigator) Items() []NavItem {
	return append([]NavItem(nil), n.items...)
}

// IsPublic reports whether key is on the allow-list.
func (n *Navigator) IsPublic(key string) bool {
	_, ok := n.public[key]
	return ok
}

// Filter keeps, in order, the items the oracle approves. Allow-listed keys are
// kept first; unrestricted items outside the allow-list are hidden.
func (n *Navigator) Filter(ctx context.Context, oracle Oracle) []NavItem {
	out := make([]NavItem, 0, len(n.items))
	for _, item := range n.items {
		if n.visible(ctx, oracle, item) {
			out = append(out, item)
		}
	}
	return out
}

func (n *Navigator) visible(ctx context.Context, oracle Oracle, item NavItem) bool {
	if n.IsPublic(item.Key) {
		return true
	}
	if oracle == nil {
		return false
	}
	switch {
	case item.RequiredPermission != "":
		return oracle.HasPermissionAsync(ctx, item.RequiredPermission)
	case item.RequiredModule != "":
		return oracle.CanAccessModuleAsync(ctx, item.RequiredModule)
	}
	return false
}

// FilterNavigation filters items with the default allow-list.
func FilterNavigation(ctx context.Context, oracle Oracle, items []NavItem) []NavItem {
	return NewNavigator(items, nil).Filter(ctx, oracle)
}

// Landing waits for the oracle's first population and returns the path of the
// first accessible module in LandingOrder, or UnauthorizedPath.
func Landing(ctx context.Context, oracle Oracle) string {
	if oracle == nil {
		return UnauthorizedPath
	}
	if err := oracle.WaitReady(ctx); err != nil {
		return UnauthorizedPath
	}
	for _, module := range LandingOrder {
		if !oracle.CanAccessModuleAsync(ctx, module) {
			continue
		}
		if m, ok := permissions.GetModule(module); ok {
			return m.Path
		}
	}
	return UnauthorizedPath
}

// DefaultNavigation is the application's sidebar, in display order.
func DefaultNavigation() []NavItem {
	var items []NavItem
	for _, m := range permissions.Modules() {
		item := NavItem{Key: m.Name, Label: m.Label, Path: m.Path}
		switch m.Name {
		case permissions.ModuleProfile:
		case permissions.ModuleUsers, permissions.ModuleRoles, permissions.ModulePermissionsAdmin,
			permissions.ModuleTeams, permissions.ModuleAudit:
			item.RequiredPermission = permissions.Join(m.Name, permissions.ActionView, models.ScopeAll)
		default:
			item.RequiredModule = m.Name
		}
		items = append(items, item)
	}
	return items
}
