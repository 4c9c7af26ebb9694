package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/casedesk/internal/permissions"
	"github.com/charlesng35/casedesk/internal/services"
	apperrors "github.com/charlesng35/casedesk/pkg/errors"
	"github.com/charlesng35/casedesk/pkg/metrics"
	"github.com/charlesng35/casedesk/pkg/response"
	appValidator "github.com/charlesng35/casedesk/pkg/validator"
)

var (
	errUnknownPermission = apperrors.New("PERMISSION_UNKNOWN", "Permission is not in the active catalog", http.StatusNotFound)
	errUnknownModule     = apperrors.New("MODULE_UNKNOWN", "Module is not declared", http.StatusNotFound)
)

// PermissionHandler serves permission checks for the current session and the
// permission catalog.
type PermissionHandler struct {
	checker *permissions.Checker
	scope   *permissions.ScopeResolver
	catalog *services.PermissionService
}

// NewPermissionHandler wires the permission endpoints.
func NewPermissionHandler(checker *permissions.Checker, scope *permissions.ScopeResolver, catalog *services.PermissionService) *PermissionHandler {
	return &PermissionHandler{checker: checker, scope: scope, catalog: catalog}
}

type checkResponse struct {
	Name    string `json:"name"`
	Allowed bool   `json:"allowed"`
}

type moduleResponse struct {
	Name        string   `json:"name"`
	Label       string   `json:"label"`
	Path        string   `json:"path"`
	Permissions []string `json:"permissions"`
	Allowed     bool     `json:"allowed"`
}

// GET /api/permissions/check?name=
func (h *PermissionHandler) Check(c *gin.Context) {
	session, ok := currentSession(c)
	if !ok {
		return
	}
	name, err := permissions.ParseName(c.Query("name"))
	if err != nil {
		response.Error(c, apperrors.NewBadRequest(err.Error()))
		return
	}

	allowed, err := h.checker.Check(requestContext(c), session.Identity().UserID, name.String())
	switch {
	case errors.Is(err, permissions.ErrUnknownPermission):
		metrics.PermissionChecks.WithLabelValues(name.String(), "unknown").Inc()
		response.Error(c, errUnknownPermission)
		return
	case err != nil:
		metrics.PermissionChecks.WithLabelValues(name.String(), "error").Inc()
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	metrics.PermissionChecks.WithLabelValues(name.String(), resultLabel(allowed)).Inc()
	response.Success(c, http.StatusOK, checkResponse{Name: name.String(), Allowed: allowed})
}

// GET /api/permissions/modules
func (h *PermissionHandler) Modules(c *gin.Context) {
	session, ok := currentSession(c)
	if !ok {
		return
	}
	ctx := requestContext(c)

	declared := permissions.Modules()
	out := make([]moduleResponse, 0, len(declared))
	for _, m := range declared {
		out = append(out, moduleResponse{
			Name:        m.Name,
			Label:       m.Label,
			Path:        m.Path,
			Permissions: m.Permissions,
			Allowed:     session.Oracle.CanAccessModuleAsync(ctx, m.Name),
		})
	}
	response.Success(c, http.StatusOK, out)
}

// GET /api/permissions/modules/:module/access
func (h *PermissionHandler) ModuleAccess(c *gin.Context) {
	session, ok := currentSession(c)
	if !ok {
		return
	}
	module := strings.TrimSpace(c.Param("module"))
	if _, declared := permissions.GetModule(module); !declared {
		response.Error(c, errUnknownModule)
		return
	}

	allowed, err := h.checker.CheckModule(requestContext(c), session.Identity().UserID, module)
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"module": module, "allowed": allowed})
}

// GET /api/permissions/my
func (h *PermissionHandler) My(c *gin.Context) {
	session, ok := currentSession(c)
	if !ok {
		return
	}
	perms, err := h.checker.GetUserPermissions(requestContext(c), session.Identity().UserID)
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}
	response.Success(c, http.StatusOK, perms)
}

// POST /api/permissions/refresh re-fetches every cached answer of the session oracle.
func (h *PermissionHandler) Refresh(c *gin.Context) {
	session, ok := currentSession(c)
	if !ok {
		return
	}
	if err := session.Oracle.Refresh(requestContext(c)); err != nil {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"granted": session.Oracle.Granted()})
}

// GET /api/permissions/scope?resource=&action=&target=
func (h *PermissionHandler) Scope(c *gin.Context) {
	subject, ok := scopeSubject(c)
	if !ok {
		return
	}
	resource := strings.TrimSpace(c.Query("resource"))
	action := strings.TrimSpace(c.Query("action"))
	if appValidator.ValidateVar(resource, "required,slug") != nil || appValidator.ValidateVar(action, "required,slug") != nil {
		response.Error(c, apperrors.NewBadRequest("resource and action must be lower-case identifiers"))
		return
	}
	ctx := requestContext(c)

	response.Success(c, http.StatusOK, gin.H{
		"resource": resource,
		"action":   action,
		"target":   c.Query("target"),
		"allowed":  h.scope.Check(ctx, subject, resource, action, c.Query("target")),
		"scope":    h.scope.Scope(ctx, subject, resource, action),
	})
}

// GET /api/permissions/registry lists the built-in catalog.
func (h *PermissionHandler) Registry(c *gin.Context) {
	response.Success(c, http.StatusOK, permissions.GetAll())
}

type createPermissionRequest struct {
	Name        string `json:"name" validate:"required,permission"`
	Description string `json:"description" validate:"omitempty,max=255"`
	IsActive    *bool  `json:"is_active"`
}

type updatePermissionRequest struct {
	Name        *string `json:"name" validate:"omitempty,permission"`
	Description *string `json:"description" validate:"omitempty,max=255"`
	IsActive    *bool   `json:"is_active"`
}

// GET /api/permissions
func (h *PermissionHandler) List(c *gin.Context) {
	perms, err := h.catalog.List(requestContext(c), services.PermissionFilters{
		Module:   c.Query("module"),
		Scope:    c.Query("scope"),
		IsActive: parseBoolQuery(c, "is_active"),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, perms)
}

// GET /api/permissions/:id
func (h *PermissionHandler) Get(c *gin.Context) {
	perm, err := h.catalog.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, perm)
}

// POST /api/permissions
func (h *PermissionHandler) Create(c *gin.Context) {
	var body createPermissionRequest
	if !bindAndValidate(c, &body) {
		return
	}
	perm, err := h.catalog.Create(requestContext(c), services.CreatePermissionInput{
		Name:        body.Name,
		Description: body.Description,
		IsActive:    body.IsActive,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, perm)
}

// PATCH /api/permissions/:id
func (h *PermissionHandler) Update(c *gin.Context) {
	var body updatePermissionRequest
	if !bindAndValidate(c, &body) {
		return
	}
	perm, err := h.catalog.Update(requestContext(c), c.Param("id"), services.UpdatePermissionInput{
		Name:        body.Name,
		Description: body.Description,
		IsActive:    body.IsActive,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, perm)
}

// DELETE /api/permissions/:id
func (h *PermissionHandler) Delete(c *gin.Context) {
	if err := h.catalog.Delete(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

func resultLabel(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}
