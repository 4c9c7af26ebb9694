package api

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/casedesk/internal/gate"
	"github.com/charlesng35/casedesk/internal/middleware"
)

// routeTable registers guarded routes and remembers each route's requirement
// so the whole table can be validated against the permission catalog.
type routeTable struct {
	group        *gin.RouterGroup
	requirements map[string]gate.Requirement
}

func newRouteTable(group *gin.RouterGroup) *routeTable {
	return &routeTable{group: group, requirements: make(map[string]gate.Requirement)}
}

func (t *routeTable) sub(path string) *routeTable {
	return &routeTable{group: t.group.Group(path), requirements: t.requirements}
}

func (t *routeTable) handle(method, path string, req gate.Requirement, handlers ...gin.HandlerFunc) {
	key := method + " " + joinPath(t.group.BasePath(), path)
	t.requirements[key] = req

	guard := middleware.Guard(req)
	if req.RequiredPermission != "" && len(req.RequiredPermissions) == 0 && req.RequiredModule == "" && !req.AdminOnly {
		guard = middleware.RequirePermission(req.RequiredPermission)
	}
	t.group.Handle(method, path, append([]gin.HandlerFunc{guard}, handlers...)...)
}

func (t *routeTable) GET(path string, req gate.Requirement, h gin.HandlerFunc) {
	t.handle(http.MethodGet, path, req, h)
}

func (t *routeTable) POST(path string, req gate.Requirement, h gin.HandlerFunc) {
	t.handle(http.MethodPost, path, req, h)
}

func (t *routeTable) PUT(path string, req gate.Requirement, h gin.HandlerFunc) {
	t.handle(http.MethodPut, path, req, h)
}

func (t *routeTable) PATCH(path string, req gate.Requirement, h gin.HandlerFunc) {
	t.handle(http.MethodPatch, path, req, h)
}

func (t *routeTable) DELETE(path string, req gate.Requirement, h gin.HandlerFunc) {
	t.handle(http.MethodDelete, path, req, h)
}

// Keys lists the registered routes in a stable order.
func (t *routeTable) Keys() []string {
	keys := make([]string, 0, len(t.requirements))
	for key := range t.requirements {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func joinPath(base, path string) string {
	if path == "" {
		return base
	}
	if base == "/" {
		return path
	}
	return base + path
}

// authenticated requires a session and nothing else.
var authenticated = gate.Requirement{}

func permission(name string) gate.Requirement {
	return gate.Requirement{RequiredPermission: name}
}

func module(name string) gate.Requirement {
	return gate.Requirement{RequiredModule: name}
}
