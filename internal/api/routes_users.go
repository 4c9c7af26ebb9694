package api

import (
	"github.com/charlesng35/casedesk/internal/gate"
	"github.com/charlesng35/casedesk/internal/handlers"
)

func registerUserRoutes(api *routeTable, handler *handlers.UserHandler) {
	edit := permission("users.edit.all")

	users := api.sub("/users")
	users.GET("", permission("users.view.all"), handler.List)
	users.POST("", permission("users.create.all"), handler.Create)
	users.GET("/:id", permission("users.view.all"), handler.Get)
	users.PATCH("/:id", edit, handler.Update)
	users.DELETE("/:id", permission("users.delete.all"), handler.Delete)
	users.POST("/:id/activate", edit, handler.Activate)
	users.POST("/:id/deactivate", edit, handler.Deactivate)
	users.PUT("/:id/password", edit, handler.ChangePassword)
	users.PUT("/:id/role", gate.Requirement{RequiredPermissions: []string{"users.edit.all", "roles.assign.all"}}, handler.SetRole)
}
