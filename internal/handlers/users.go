package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/casedesk/internal/services"
	"github.com/charlesng35/casedesk/pkg/response"
)

type UserHandler struct {
	svc *services.UserService
}

type createUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"full_name" validate:"omitempty,max=128"`
	Password string `json:"password" validate:"required,min=8"`
	RoleID   string `json:"role_id" validate:"required"`
	IsActive *bool  `json:"is_active"`
}

type updateUserRequest struct {
	Email    *string `json:"email" validate:"omitempty,email"`
	FullName *string `json:"full_name" validate:"omitempty,max=128"`
}

type setUserRoleRequest struct {
	RoleID string `json:"role_id" validate:"required"`
}

type changePasswordRequest struct {
	Password string `json:"password" validate:"required,min=8"`
}

func NewUserHandler(svc *services.UserService) *UserHandler {
	return &UserHandler{svc: svc}
}

// GET /api/users
func (h *UserHandler) List(c *gin.Context) {
	page, perPage := pageParams(c)

	users, total, err := h.svc.List(requestContext(c), services.ListUsersOptions{
		Page:     page,
		PageSize: perPage,
		Filters: services.UserFilters{
			IsActive: parseBoolQuery(c, "is_active"),
			RoleID:   c.Query("role_id"),
			Query:    c.Query("q"),
		},
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, users, response.NewMeta(page, perPage, total))
}

// GET /api/users/:id
func (h *UserHandler) Get(c *gin.Context) {
	user, err := h.svc.GetByID(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// POST /api/users
func (h *UserHandler) Create(c *gin.Context) {
	var body createUserRequest
	if !bindAndValidate(c, &body) {
		return
	}

	user, err := h.svc.Create(requestContext(c), services.CreateUserInput{
		Email:    body.Email,
		FullName: body.FullName,
		Password: body.Password,
		RoleID:   body.RoleID,
		IsActive: body.IsActive,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, user)
}

// PATCH /api/users/:id
func (h *UserHandler) Update(c *gin.Context) {
	var body updateUserRequest
	if !bindAndValidate(c, &body) {
		return
	}

	user, err := h.svc.Update(requestContext(c), c.Param("id"), services.UpdateUserInput{
		Email:    body.Email,
		FullName: body.FullName,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// PUT /api/users/:id/role
func (h *UserHandler) SetRole(c *gin.Context) {
	var body setUserRoleRequest
	if !bindAndValidate(c, &body) {
		return
	}

	user, err := h.svc.SetRole(requestContext(c), c.Param("id"), body.RoleID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// POST /api/users/:id/activate
func (h *UserHandler) Activate(c *gin.Context) {
	h.setActive(c, true)
}

// POST /api/users/:id/deactivate
func (h *UserHandler) Deactivate(c *gin.Context) {
	h.setActive(c, false)
}

func (h *UserHandler) setActive(c *gin.Context, active bool) {
	if err := h.svc.SetActive(requestContext(c), c.Param("id"), active); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"is_active": active})
}

// PUT /api/users/:id/password
func (h *UserHandler) ChangePassword(c *gin.Context) {
	var body changePasswordRequest
	if !bindAndValidate(c, &body) {
		return
	}
	if err := h.svc.ChangePassword(requestContext(c), c.Param("id"), body.Password); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"updated": true})
}

// DELETE /api/users/:id
func (h *UserHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
