package permissions

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/multierr"
)

// Module declares a navigable module and the permissions that grant access to
// it. Access is an OR over Permissions; an empty list means always accessible.
type Module struct {
	Name        string
	Label       string
	Path        string
	Permissions []string
}

type moduleRegistry struct {
	mu      sync.RWMutex
	order   []string
	modules map[string]Module
}

var globalModules = &moduleRegistry{
	modules: make(map[string]Module),
}

var errDuplicateModule = errors.New("permission: module already declared")

// RegisterModule declares a module. Permission references are checked later by
// ValidateReferences so declarations may precede catalog registration.
func RegisterModule(m Module) error {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return errors.New("permission: module name is required")
	}
	if m.Path == "" {
		m.Path = "/" + m.Name
	}
	m.Permissions = append([]string(nil), m.Permissions...)

	globalModules.mu.Lock()
	defer globalModules.mu.Unlock()

	if _, exists := globalModules.modules[m.Name]; exists {
		return fmt.Errorf("%w: %s", errDuplicateModule, m.Name)
	}
	globalModules.modules[m.Name] = m
	globalModules.order = append(globalModules.order, m.Name)
	return nil
}

// GetModule returns a copy of a declared module.
func GetModule(name string) (Module, bool) {
	globalModules.mu.RLock()
	defer globalModules.mu.RUnlock()

	m, ok := globalModules.modules[strings.TrimSpace(name)]
	if !ok {
		return Module{}, false
	}
	m.Permissions = append([]string(nil), m.Permissions...)
	return m, true
}

// ModulePermissions returns the OR-list for a module and whether it is declared.
func ModulePermissions(name string) ([]string, bool) {
	m, ok := GetModule(name)
	if !ok {
		return nil, false
	}
	return m.Permissions, true
}

// Modules returns every declared module in declaration order.
func Modules() []Module {
	globalModules.mu.RLock()
	defer globalModules.mu.RUnlock()

	out := make([]Module, 0, len(globalModules.order))
	for _, name := range globalModules.order {
		m := globalModules.modules[name]
		m.Permissions = append([]string(nil), m.Permissions...)
		out = append(out, m)
	}
	return out
}

func unregisterModule(name string) {
	globalModules.mu.Lock()
	defer globalModules.mu.Unlock()

	delete(globalModules.modules, name)
	for i, existing := range globalModules.order {
		if existing == name {
			globalModules.order = append(globalModules.order[:i], globalModules.order[i+1:]...)
			break
		}
	}
}

// Reference is a permission name used somewhere outside the catalog, such as a
// module declaration, a route requirement or a navigation item.
type Reference struct {
	Source     string
	Permission string
}

// ModuleReferences lists every permission referenced by module declarations.
func ModuleReferences() []Reference {
	var refs []Reference
	for _, m := range Modules() {
		for _, perm := range m.Permissions {
			refs = append(refs, Reference{Source: "module " + m.Name, Permission: perm})
		}
	}
	return refs
}

// ValidateReferences checks that every reference is canonical and registered in
// the catalog. Every problem is reported, not only the first.
func ValidateReferences(refs ...Reference) error {
	var errs error
	for _, ref := range refs {
		if _, err := ParseName(ref.Permission); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", ref.Source, err))
			continue
		}
		if _, ok := Get(ref.Permission); !ok {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w %q", ref.Source, ErrUnknownPermission, ref.Permission))
		}
	}
	return errs
}
