package api

import (
	"github.com/charlesng35/casedesk/internal/gate"
	"github.com/charlesng35/casedesk/internal/handlers"
)

func registerAuditRoutes(api *routeTable, handler *handlers.AuditHandler, security *handlers.SecurityHandler) {
	api.GET("/audit", permission("audit.view.all"), handler.List)
	api.GET("/security/review", gate.Requirement{AdminOnly: true}, security.Review)
}
