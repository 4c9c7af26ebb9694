package api

import (
	"github.com/charlesng35/casedesk/internal/handlers"
	"github.com/charlesng35/casedesk/internal/permissions"
)

// Case routes only require module access; the case service applies the
// own/team/all scope for each record.
func registerCaseRoutes(api *routeTable, handler *handlers.CaseHandler) {
	access := module(permissions.ModuleCases)

	cases := api.sub("/cases")
	cases.GET("", access, handler.List)
	cases.POST("", access, handler.Create)
	cases.GET("/:id", access, handler.Get)
	cases.PATCH("/:id", access, handler.Update)
	cases.DELETE("/:id", access, handler.Delete)
}
