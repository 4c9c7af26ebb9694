package permissions

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/charlesng35/casedesk/internal/models"
	"github.com/charlesng35/casedesk/pkg/logger"
)

// Holder answers whether a subject holds a permission. The session oracle and
// Checker.Holder both satisfy it.
type Holder interface {
	HasPermissionAsync(ctx context.Context, name string) bool
}

// TeamMembership reports whether two users share at least one team.
type TeamMembership interface {
	SharesTeam(ctx context.Context, userID, otherUserID string) (bool, error)
}

// Subject is the acting identity for a scope decision.
type Subject struct {
	UserID      string
	RoleName    string
	Permissions Holder
}

// IsAdministrator reports whether the subject holds the Administrator role.
func (s Subject) IsAdministrator() bool {
	return s.RoleName == models.AdministratorRoleName
}

func (s Subject) holds(ctx context.Context, name string) bool {
	if s.Permissions == nil {
		return false
	}
	return s.Permissions.HasPermissionAsync(ctx, name)
}

// ScopeResolver decides whether a scoped permission covers a resource instance.
type ScopeResolver struct {
	teams       TeamMembership
	narrowTeams bool
}

// ScopeOption customises a ScopeResolver.
type ScopeOption func(*ScopeResolver)

// WithTeamNarrowing restricts team scope to targets sharing a team with the
// subject. Without it, team scope grants access to any target.
func WithTeamNarrowing(teams TeamMembership) ScopeOption {
	return func(r *ScopeResolver) {
		if teams != nil {
			r.teams = teams
			r.narrowTeams = true
		}
	}
}

// NewScopeResolver builds a resolver.
func NewScopeResolver(opts ...ScopeOption) *ScopeResolver {
	r := &ScopeResolver{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Check applies the scope rules in priority order; the first match wins:
// Administrator, then .all, then .team, then .own (empty target or self), else deny.
func (r *ScopeResolver) Check(ctx context.Context, subject Subject, resource, action, targetUserID string) bool {
	ctx = ensureContext(ctx)
	targetUserID = strings.TrimSpace(targetUserID)

	if subject.IsAdministrator() {
		return true
	}
	if subject.holds(ctx, Join(resource, action, models.ScopeAll)) {
		return true
	}
	if subject.holds(ctx, Join(resource, action, models.ScopeTeam)) {
		if r.teamCovers(ctx, subject, targetUserID) {
			return true
		}
	}
	if subject.holds(ctx, Join(resource, action, models.ScopeOwn)) {
		return targetUserID == "" || targetUserID == subject.UserID
	}
	return false
}

// Scope returns the broadest scope the subject holds for resource/action, or ""
// when none. Administrators always receive the all scope.
func (r *ScopeResolver) Scope(ctx context.Context, subject Subject, resource, action string) string {
	ctx = ensureContext(ctx)
	if subject.IsAdministrator() {
		return models.ScopeAll
	}
	for i := len(scopes) - 1; i >= 0; i-- {
		if subject.holds(ctx, Join(resource, action, scopes[i])) {
			return scopes[i]
		}
	}
	return ""
}

// NarrowsTeams reports whether team scope is restricted to team mates.
func (r *ScopeResolver) NarrowsTeams() bool {
	return r != nil && r.narrowTeams
}

func (r *ScopeResolver) teamCovers(ctx context.Context, subject Subject, targetUserID string) bool {
	if !r.narrowTeams {
		return true
	}
	if targetUserID == "" || targetUserID == subject.UserID {
		return true
	}
	shared, err := r.teams.SharesTeam(ctx, subject.UserID, targetUserID)
	if err != nil {
		logger.WithModule("permissions").Warn("team membership lookup failed",
			zap.String("user_id", subject.UserID),
			zap.String("target_user_id", targetUserID),
			zap.Error(err))
		return false
	}
	return shared
}
