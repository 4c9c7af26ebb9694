package api

import (
	"github.com/charlesng35/casedesk/internal/handlers"
)

func registerNavigationRoutes(api *routeTable, nav *handlers.NavigationHandler, realtime *handlers.RealtimeHandler) {
	api.GET("/navigation", authenticated, nav.List)
	api.GET("/navigation/landing", authenticated, nav.Landing)
	api.POST("/navigation/evaluate", authenticated, nav.Evaluate)

	api.GET("/realtime", authenticated, realtime.Stream)
	api.GET("/realtime/:stream", authenticated, realtime.Stream)
}
