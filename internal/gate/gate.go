// Package gate turns route and navigation declarations into allow or redirect
// decisions backed by a session's permission oracle.
package gate

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/multierr"

	"github.com/charlesng35/casedesk/internal/models"
	"github.com/charlesng35/casedesk/internal/permissions"
	"github.com/charlesng35/casedesk/pkg/metrics"
)

// Redirect targets.
const (
	LoginPath        = "/login"
	UnauthorizedPath = "/unauthorized"
)

// Decision reasons.
const (
	ReasonUnauthenticated   = "unauthenticated"
	ReasonAdminOnly         = "admin_only"
	ReasonMissingPermission = "missing_permission"
	ReasonModuleDenied      = "module_denied"
)

// Oracle is the slice of the session oracle the gate consults.
type Oracle interface {
	HasPermissionAsync(ctx context.Context, name string) bool
	CanAccessModuleAsync(ctx context.Context, module string) bool
	WaitReady(ctx context.Context) error
}

// Subject is the caller a decision is made for.
type Subject struct {
	Authenticated bool
	UserID        string
	RoleName      string
}

// IsAdministrator reports whether the subject holds the Administrator role.
func (s Subject) IsAdministrator() bool {
	return s.RoleName == models.AdministratorRoleName
}

// Requirement declares what a route needs.
type Requirement struct {
	RequiredPermission string `json:"required_permission,omitempty"`
	// RequiredPermissions must all hold.
	RequiredPermissions []string `json:"required_permissions,omitempty"`
	RequiredModule      string   `json:"required_module,omitempty"`
	AdminOnly           bool     `json:"admin_only,omitempty"`
}

// References lists the permission names the requirement mentions.
func (r Requirement) References(source string) []permissions.Reference {
	var refs []permissions.Reference
	if r.RequiredPermission != "" {
		refs = append(refs, permissions.Reference{Source: source, Permission: r.RequiredPermission})
	}
	for _, name := range r.RequiredPermissions {
		refs = append(refs, permissions.Reference{Source: source, Permission: name})
	}
	return refs
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Allowed  bool   `json:"allowed"`
	Redirect string `json:"redirect,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func allow() Decision { return Decision{Allowed: true} }

func deny(redirect, reason string) Decision {
	return Decision{Redirect: redirect, Reason: reason}
}

// Evaluate decides whether subject may enter a route declaring req. Checks run
// in order: authentication, admin-only, required permission, all-of
// permissions, required module.
func Evaluate(ctx context.Context, subject Subject, oracle Oracle, req Requirement) Decision {
	d := evaluate(ctx, subject, oracle, req)
	metrics.GateDecisions.WithLabelValues(strconv.FormatBool(d.Allowed), d.Redirect).Inc()
	return d
}

func evaluate(ctx context.Context, subject Subject, oracle Oracle, req Requirement) Decision {
	if !subject.Authenticated {
		return deny(LoginPath, ReasonUnauthenticated)
	}
	if req.AdminOnly && !subject.IsAdministrator() {
		return deny(UnauthorizedPath, ReasonAdminOnly)
	}

	needsOracle := req.RequiredPermission != "" || len(req.RequiredPermissions) > 0 || req.RequiredModule != ""
	if needsOracle && oracle == nil {
		return deny(UnauthorizedPath, ReasonMissingPermission)
	}

	if req.RequiredPermission != "" && !oracle.HasPermissionAsync(ctx, req.RequiredPermission) {
		return deny(UnauthorizedPath, ReasonMissingPermission)
	}
	for _, name := range req.RequiredPermissions {
		if !oracle.HasPermissionAsync(ctx, name) {
			return deny(UnauthorizedPath, ReasonMissingPermission)
		}
	}
	if req.RequiredModule != "" && !oracle.CanAccessModuleAsync(ctx, req.RequiredModule) {
		return deny(UnauthorizedPath, ReasonModuleDenied)
	}
	return allow()
}

// Validate checks every permission and module named by route requirements and
// navigation items against the catalog, reporting all problems at once.
func Validate(routes map[string]Requirement, items []NavItem) error {
	var (
		refs []permissions.Reference
		errs error
	)

	for source, req := range routes {
		refs = append(refs, req.References("route "+source)...)
		errs = multierr.Append(errs, checkModule("route "+source, req.RequiredModule))
	}
	for _, item := range items {
		source := "navigation " + item.Key
		if item.RequiredPermission != "" && item.RequiredModule != "" {
			errs = multierr.Append(errs, fmt.Errorf("%s: declares both a permission and a module", source))
		}
		if item.RequiredPermission != "" {
			refs = append(refs, permissions.Reference{Source: source, Permission: item.RequiredPermission})
		}
		errs = multierr.Append(errs, checkModule(source, item.RequiredModule))
	}

	return multierr.Append(errs, permissions.ValidateReferences(refs...))
}

func checkModule(source, module string) error {
	module = strings.TrimSpace(module)
	if module == "" {
		return nil
	}
	if _, ok := permissions.GetModule(module); !ok {
		return fmt.Errorf("%s: unknown module %q", source, module)
	}
	return nil
}
