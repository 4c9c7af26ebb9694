package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/casedesk/internal/gate"
	"github.com/charlesng35/casedesk/internal/permissions"
	apperrors "github.com/charlesng35/casedesk/pkg/errors"
	"github.com/charlesng35/casedesk/pkg/metrics"
	"github.com/charlesng35/casedesk/pkg/response"
)

// GateSubject derives the gate subject and oracle for the request. Requests
// without an Auth session yield an unauthenticated subject and a nil oracle.
func GateSubject(c *gin.Context) (gate.Subject, gate.Oracle) {
	session, ok := CurrentSession(c)
	if !ok {
		return gate.Subject{}, nil
	}
	identity := session.Identity()
	subject := gate.Subject{
		Authenticated: true,
		UserID:        identity.UserID,
		RoleName:      identity.RoleName,
	}
	return subject, session.Oracle
}

// ScopeSubject builds the scope resolver subject backed by the session oracle.
func ScopeSubject(c *gin.Context) (permissions.Subject, bool) {
	session, ok := CurrentSession(c)
	if !ok {
		return permissions.Subject{}, false
	}
	identity := session.Identity()
	return permissions.Subject{
		UserID:      identity.UserID,
		RoleName:    identity.RoleName,
		Permissions: session.Oracle,
	}, true
}

// Guard enforces a route requirement through the session oracle. Denials
// carry the redirect target chosen by the gate.
func Guard(req gate.Requirement) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !enter(c, req) {
			return
		}
		c.Next()
	}
}

// RequirePermission guards a route with a single permission.
func RequirePermission(name string) gin.HandlerFunc {
	req := gate.Requirement{RequiredPermission: name}
	return func(c *gin.Context) {
		allowed := enter(c, req)
		result := "denied"
		if allowed {
			result = "allowed"
		}
		metrics.PermissionChecks.WithLabelValues(name, result).Inc()
		if allowed {
			c.Next()
		}
	}
}

// RequireModule guards a route with module access.
func RequireModule(module string) gin.HandlerFunc {
	return Guard(gate.Requirement{RequiredModule: module})
}

// AdminOnly restricts a route to the Administrator role.
func AdminOnly() gin.HandlerFunc {
	return Guard(gate.Requirement{AdminOnly: true})
}

func enter(c *gin.Context, req gate.Requirement) bool {
	subject, oracle := GateSubject(c)
	decision := gate.Evaluate(c.Request.Context(), subject, oracle, req)
	if decision.Allowed {
		return true
	}
	response.Abort(c, Denial(decision))
	return false
}

// Denial converts a refused gate decision into the HTTP error sent to clients.
func Denial(d gate.Decision) *apperrors.AppError {
	if d.Redirect == gate.LoginPath {
		return apperrors.ErrUnauthorized.WithRedirect(d.Redirect)
	}
	return apperrors.ErrForbidden.WithRedirect(d.Redirect)
}
