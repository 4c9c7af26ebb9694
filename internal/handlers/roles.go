package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/casedesk/internal/services"
	"github.com/charlesng35/casedesk/pkg/response"
)

type RoleHandler struct {
	svc *services.RoleService
}

type createRoleRequest struct {
	Name        string   `json:"name" validate:"required,min=2,max=64"`
	Description string   `json:"description" validate:"omitempty,max=255"`
	Permissions []string `json:"permissions" validate:"omitempty,dive,permission"`
}

type updateRoleRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=2,max=64"`
	Description *string `json:"description" validate:"omitempty,max=255"`
}

type setRolePermissionsRequest struct {
	Permissions []string `json:"permissions" validate:"dive,permission"`
}

func NewRoleHandler(svc *services.RoleService) *RoleHandler {
	return &RoleHandler{svc: svc}
}

// GET /api/roles
func (h *RoleHandler) List(c *gin.Context) {
	roles, err := h.svc.List(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, roles)
}

// GET /api/roles/:id
func (h *RoleHandler) Get(c *gin.Context) {
	role, err := h.svc.Get(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, role)
}

// POST /api/roles
func (h *RoleHandler) Create(c *gin.Context) {
	var body createRoleRequest
	if !bindAndValidate(c, &body) {
		return
	}
	role, err := h.svc.Create(requestContext(c), services.CreateRoleInput{
		Name:        body.Name,
		Description: body.Description,
		Permissions: body.Permissions,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, role)
}

// PATCH /api/roles/:id
func (h *RoleHandler) Update(c *gin.Context) {
	var body updateRoleRequest
	if !bindAndValidate(c, &body) {
		return
	}
	role, err := h.svc.Update(requestContext(c), c.Param("id"), services.UpdateRoleInput{
		Name:        body.Name,
		Description: body.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, role)
}

// PUT /api/roles/:id/permissions replaces the role's grants.
func (h *RoleHandler) SetPermissions(c *gin.Context) {
	var body setRolePermissionsRequest
	if !bindAndValidate(c, &body) {
		return
	}
	role, err := h.svc.SetPermissions(requestContext(c), c.Param("id"), body.Permissions)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, role)
}

// DELETE /api/roles/:id
func (h *RoleHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
