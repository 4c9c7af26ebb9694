package api

import (
	"github.com/charlesng35/casedesk/internal/handlers"
)

func registerTeamRoutes(api *routeTable, handler *handlers.TeamHandler) {
	view := permission("teams.view.all")
	edit := permission("teams.edit.all")

	teams := api.sub("/teams")
	teams.GET("", view, handler.List)
	teams.GET("/:id", view, handler.Get)
	teams.POST("", permission("teams.create.all"), handler.Create)
	teams.PATCH("/:id", edit, handler.Update)
	teams.DELETE("/:id", permission("teams.delete.all"), handler.Delete)
	teams.GET("/:id/members", view, handler.ListMembers)
	teams.POST("/:id/members", edit, handler.AddMember)
	teams.DELETE("/:id/members/:userID", edit, handler.RemoveMember)
}
