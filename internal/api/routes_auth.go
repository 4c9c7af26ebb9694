package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/casedesk/internal/handlers"
)

func registerAuthRoutes(public *gin.RouterGroup, api *routeTable, handler *handlers.AuthHandler, loginLimit gin.HandlerFunc) {
	auth := public.Group("/auth")
	{
		auth.POST("/login", loginLimit, handler.Login)
		auth.POST("/refresh", loginLimit, handler.Refresh)
	}

	api.GET("/auth/me", authenticated, handler.Me)
	api.POST("/auth/logout", authenticated, handler.Logout)
}
