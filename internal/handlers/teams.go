package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/casedesk/internal/services"
	"github.com/charlesng35/casedesk/pkg/response"
)

type TeamHandler struct {
	svc *services.TeamService
}

type createTeamRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=128"`
	Description string `json:"description" validate:"omitempty,max=512"`
}

type updateTeamRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=2,max=128"`
	Description *string `json:"description" validate:"omitempty,max=512"`
}

type teamMemberRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

func NewTeamHandler(svc *services.TeamService) *TeamHandler {
	return &TeamHandler{svc: svc}
}

// GET /api/teams
func (h *TeamHandler) List(c *gin.Context) {
	teams, err := h.svc.List(requestContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, teams)
}

// GET /api/teams/:id
func (h *TeamHandler) Get(c *gin.Context) {
	team, err := h.svc.GetByID(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, team)
}

// POST /api/teams
func (h *TeamHandler) Create(c *gin.Context) {
	var body createTeamRequest
	if !bindAndValidate(c, &body) {
		return
	}
	team, err := h.svc.Create(requestContext(c), services.CreateTeamInput{
		Name:        body.Name,
		Description: body.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, team)
}

// PATCH /api/teams/:id
func (h *TeamHandler) Update(c *gin.Context) {
	var body updateTeamRequest
	if !bindAndValidate(c, &body) {
		return
	}
	team, err := h.svc.Update(requestContext(c), c.Param("id"), services.UpdateTeamInput{
		Name:        body.Name,
		Description: body.Description,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, team)
}

// DELETE /api/teams/:id
func (h *TeamHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(requestContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}

// GET /api/teams/:id/members
func (h *TeamHandler) ListMembers(c *gin.Context) {
	members, err := h.svc.ListMembers(requestContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, members)
}

// POST /api/teams/:id/members
func (h *TeamHandler) AddMember(c *gin.Context) {
	var body teamMemberRequest
	if !bindAndValidate(c, &body) {
		return
	}
	if err := h.svc.AddMember(requestContext(c), c.Param("id"), body.UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"team_id": c.Param("id"), "user_id": body.UserID})
}

// DELETE /api/teams/:id/members/:userID
func (h *TeamHandler) RemoveMember(c *gin.Context) {
	if err := h.svc.RemoveMember(requestContext(c), c.Param("id"), c.Param("userID")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"removed": true})
}
