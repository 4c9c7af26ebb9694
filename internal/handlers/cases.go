package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/casedesk/internal/services"
	"github.com/charlesng35/casedesk/pkg/response"
)

// CaseHandler exposes cases. Scope filtering happens in the service using the
// caller's session oracle.
type CaseHandler struct {
	svc *services.CaseService
}

type createCaseRequest struct {
	Title       string `json:"title" validate:"required,max=255"`
	Description string `json:"description" validate:"omitempty,max=4096"`
	Status      string `json:"status"`
	OwnerID     string `json:"owner_id"`
}

type updateCaseRequest struct {
	Title       *string `json:"title" validate:"omitempty,max=255"`
	Description *string `json:"description" validate:"omitempty,max=4096"`
	Status      *string `json:"status"`
	OwnerID     *string `json:"owner_id"`
}

func NewCaseHandler(svc *services.CaseService) *CaseHandler {
	return &CaseHandler{svc: svc}
}

// GET /api/cases
func (h *CaseHandler) List(c *gin.Context) {
	subject, ok := scopeSubject(c)
	if !ok {
		return
	}
	page, perPage := pageParams(c)

	cases, total, err := h.svc.List(requestContext(c), subject, services.ListCasesOptions{
		Page:     page,
		PageSize: perPage,
		Filters: services.CaseFilters{
			Status:  c.Query("status"),
			OwnerID: c.Query("owner_id"),
		},
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, cases, response.NewMeta(page, perPage, total))
}

// GET /api/cases/:id
func (h *CaseHandler) Get(c *gin.Context) {
	subject, ok := scopeSubject(c)
	if !ok {
		return
	}
	record, err := h.svc.Get(requestContext(c), subject, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, record)
}

// POST /api/cases
func (h *CaseHandler) Create(c *gin.Context) {
	subject, ok := scopeSubject(c)
	if !ok {
		return
	}
	var body createCaseRequest
	if !bindAndValidate(c, &body) {
		return
	}

	record, err := h.svc.Create(requestContext(c), subject, services.CreateCaseInput{
		Title:       body.Title,
		Description: body.Description,
		Status:      body.Status,
		OwnerID:     body.OwnerID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, record)
}

// PATCH /api/cases/:id
func (h *CaseHandler) Update(c *gin.Context) {
	subject, ok := scopeSubject(c)
	if !ok {
		return
	}
	var body updateCaseRequest
	if !bindAndValidate(c, &body) {
		return
	}

	record, err := h.svc.Update(requestContext(c), subject, c.Param("id"), services.UpdateCaseInput{
		Title:       body.Title,
		Description: body.Description,
		Status:      body.Status,
		OwnerID:     body.OwnerID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, record)
}

// DELETE /api/cases/:id
func (h *CaseHandler) Delete(c *gin.Context) {
	subject, ok := scopeSubject(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(requestContext(c), subject, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"deleted": true})
}
