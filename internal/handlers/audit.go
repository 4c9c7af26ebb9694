package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/casedesk/internal/services"
	apperrors "github.com/charlesng35/casedesk/pkg/errors"
	"github.com/charlesng35/casedesk/pkg/response"
)

type AuditHandler struct {
	svc *services.AuditService
}

func NewAuditHandler(svc *services.AuditService) *AuditHandler {
	return &AuditHandler{svc: svc}
}

// GET /api/audit
func (h *AuditHandler) List(c *gin.Context) {
	page, perPage := pageParams(c)

	filters := services.AuditFilters{
		UserID:   c.Query("user_id"),
		Action:   c.Query("action"),
		Result:   c.Query("result"),
		Resource: c.Query("resource"),
	}

	var ok bool
	if filters.Since, ok = parseTimeQuery(c, "since"); !ok {
		return
	}
	if filters.Until, ok = parseTimeQuery(c, "until"); !ok {
		return
	}

	logs, total, err := h.svc.List(requestContext(c), services.AuditListOptions{Page: page, PageSize: perPage, Filters: filters})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, logs, response.NewMeta(page, perPage, total))
}

// parseTimeQuery reads an RFC3339 timestamp. A malformed value writes a 400.
func parseTimeQuery(c *gin.Context, key string) (*time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		response.Error(c, apperrors.NewBadRequest(key+" must be an RFC3339 timestamp"))
		return nil, false
	}
	return &t, true
}
