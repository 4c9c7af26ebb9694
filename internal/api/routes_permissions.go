package api

import (
	"github.com/charlesng35/casedesk/internal/handlers"
)

func registerPermissionRoutes(api *routeTable, handler *handlers.PermissionHandler) {
	view := permission("permissions.view.all")

	perms := api.sub("/permissions")
	perms.GET("/check", authenticated, handler.Check)
	perms.GET("/modules", authenticated, handler.Modules)
	perms.GET("/modules/:module/access", authenticated, handler.ModuleAccess)
	perms.GET("/my", authenticated, handler.My)
	perms.POST("/refresh", authenticated, handler.Refresh)
	perms.GET("/scope", authenticated, handler.Scope)

	perms.GET("/registry", view, handler.Registry)
	perms.GET("", view, handler.List)
	perms.GET("/:id", view, handler.Get)
	perms.POST("", permission("permissions.create.all"), handler.Create)
	perms.PATCH("/:id", permission("permissions.edit.all"), handler.Update)
	perms.DELETE("/:id", permission("permissions.delete.all"), handler.Delete)
}

func registerRoleRoutes(api *routeTable, handler *handlers.RoleHandler) {
	roles := api.sub("/roles")
	roles.GET("", permission("roles.view.all"), handler.List)
	roles.GET("/:id", permission("roles.view.all"), handler.Get)
	roles.POST("", permission("roles.create.all"), handler.Create)
	roles.PATCH("/:id", permission("roles.edit.all"), handler.Update)
	roles.PUT("/:id/permissions", permission("roles.edit.all"), handler.SetPermissions)
	roles.DELETE("/:id", permission("roles.delete.all"), handler.Delete)
}
