package permissions

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/charlesng35/casedesk/internal/models"
)

var (
	// ErrUnknownPermission indicates a permission that is not part of the active catalog.
	ErrUnknownPermission = errors.New("permission: unknown permission")
	// ErrNonCanonicalName is returned for legacy module.action_scope or module:action:scope names.
	ErrNonCanonicalName = errors.New("permission: non-canonical name")
	// ErrInvalidName is returned for names that cannot be read as module.action.scope at all.
	ErrInvalidName = errors.New("permission: invalid name")
)

const separator = "."

var segmentPattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// scopes in ascending breadth.
var scopes = []string{models.ScopeOwn, models.ScopeTeam, models.ScopeAll}

// Name is a parsed canonical permission name.
type Name struct {
	Module string
	Action string
	Scope  string
}

func (n Name) String() string {
	return n.Module + separator + n.Action + separator + n.Scope
}

// Join builds the canonical name for the given components without validating them.
func Join(module, action, scope string) string {
	return Name{Module: module, Action: action, Scope: scope}.String()
}

// ValidScope reports whether scope is one of own, team or all.
func ValidScope(scope string) bool {
	return ScopeRank(scope) > 0
}

// ScopeRank orders scopes by breadth: own=1, team=2, all=3, unknown=0.
func ScopeRank(scope string) int {
	for i, s := range scopes {
		if s == scope {
			return i + 1
		}
	}
	return 0
}

// Scopes returns the known scopes from narrowest to broadest.
func Scopes() []string {
	return append([]string(nil), scopes...)
}

// ParseName accepts only the canonical module.action.scope form. Legacy forms
// are rejected with ErrNonCanonicalName and a suggested replacement; nothing is
// rewritten silently.
func ParseName(raw string) (Name, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Name{}, fmt.Errorf("%w: empty", ErrInvalidName)
	}

	if strings.Contains(s, ":") {
		parts := strings.Split(s, ":")
		if len(parts) == 3 {
			return Name{}, fmt.Errorf("%w %q, use %q", ErrNonCanonicalName, s, strings.Join(parts, separator))
		}
		return Name{}, fmt.Errorf("%w %q", ErrInvalidName, s)
	}

	parts := strings.Split(s, separator)
	if len(parts) == 2 {
		if idx := strings.LastIndex(parts[1], "_"); idx > 0 && ValidScope(parts[1][idx+1:]) {
			suggestion := Join(parts[0], parts[1][:idx], parts[1][idx+1:])
			return Name{}, fmt.Errorf("%w %q, use %q", ErrNonCanonicalName, s, suggestion)
		}
	}
	if len(parts) != 3 {
		return Name{}, fmt.Errorf("%w %q: expected module.action.scope", ErrInvalidName, s)
	}

	name := Name{Module: parts[0], Action: parts[1], Scope: parts[2]}
	if !segmentPattern.MatchString(name.Module) {
		return Name{}, fmt.Errorf("%w %q: bad module %q", ErrInvalidName, s, name.Module)
	}
	if !segmentPattern.MatchString(name.Action) {
		return Name{}, fmt.Errorf("%w %q: bad action %q", ErrInvalidName, s, name.Action)
	}
	if !ValidScope(name.Scope) {
		return Name{}, fmt.Errorf("%w %q: scope must be one of %s", ErrInvalidName, s, strings.Join(scopes, ", "))
	}
	return name, nil
}

// IsCanonical reports whether raw parses as a canonical name.
func IsCanonical(raw string) bool {
	_, err := ParseName(raw)
	return err == nil
}
