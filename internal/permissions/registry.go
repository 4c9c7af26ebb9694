package permissions

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Permission describes a built-in catalog entry.
type Permission struct {
	Name        string
	Module      string
	Action      string
	Scope       string
	Description string
}

type permissionRegistry struct {
	mu          sync.RWMutex
	permissions map[string]*Permission
}

var globalRegistry = &permissionRegistry{
	permissions: make(map[string]*Permission),
}

var (
	errNilPermission  = errors.New("permission: nil definition")
	errDuplicateName  = errors.New("permission: already registered")
	errModuleMismatch = errors.New("permission: module does not match name")
)

// Register adds a permission definition to the built-in catalog. The name must be canonical;
// Module, Action and Scope are derived from it.
func Register(perm *Permission) error {
	if perm == nil {
		return errNilPermission
	}

	name, err := ParseName(perm.Name)
	if err != nil {
		return err
	}

	module := strings.TrimSpace(perm.Module)
	if module != "" && module != name.Module {
		return fmt.Errorf("%w: %s declares module %q", errModuleMismatch, name, module)
	}

	def := &Permission{
		Name:        name.String(),
		Module:      name.Module,
		Action:      name.Action,
		Scope:       name.Scope,
		Description: strings.TrimSpace(perm.Description),
	}

	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()

	if _, exists := globalRegistry.permissions[def.Name]; exists {
		return fmt.Errorf("%w: %s", errDuplicateName, def.Name)
	}

	globalRegistry.permissions[def.Name] = def
	return nil
}

// Get returns a copy of the permission definition when registered.
func Get(name string) (*Permission, bool) {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	perm, ok := globalRegistry.permissions[strings.TrimSpace(name)]
	if !ok {
		return nil, false
	}
	cp := *perm
	return &cp, true
}

// GetAll returns a copy of all registered permissions keyed by name.
func GetAll() map[string]*Permission {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	out := make(map[string]*Permission, len(globalRegistry.permissions))
	for name, perm := range globalRegistry.permissions {
		cp := *perm
		out[name] = &cp
	}
	return out
}

// GetByModule gathers permissions registered under the module, sorted by name.
func GetByModule(module string) []*Permission {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	module = strings.TrimSpace(module)
	var perms []*Permission
	for _, perm := range globalRegistry.permissions {
		if perm.Module == module {
			cp := *perm
			perms = append(perms, &cp)
		}
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].Name < perms[j].Name })
	return perms
}

// Names returns every registered permission name in sorted order.
func Names() []string {
	globalRegistry.mu.RLock()
	defer globalRegistry.mu.RUnlock()

	names := make([]string, 0, len(globalRegistry.permissions))
	for name := range globalRegistry.permissions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func unregister(name string) {
	globalRegistry.mu.Lock()
	defer globalRegistry.mu.Unlock()
	delete(globalRegistry.permissions, name)
}
