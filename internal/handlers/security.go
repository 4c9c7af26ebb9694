package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/casedesk/internal/security"
	"github.com/charlesng35/casedesk/pkg/response"
)

type SecurityHandler struct {
	reviewer *security.Reviewer
}

func NewSecurityHandler(reviewer *security.Reviewer) *SecurityHandler {
	return &SecurityHandler{reviewer: reviewer}
}

// GET /api/security/review
func (h *SecurityHandler) Review(c *gin.Context) {
	response.Success(c, http.StatusOK, h.reviewer.Run(requestContext(c)))
}
