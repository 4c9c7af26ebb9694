package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/casedesk/internal/health"
	"github.com/charlesng35/casedesk/pkg/response"
)

// Health runs the readiness probes. A down dependency answers 503.
func Health(probes *health.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		report := probes.Evaluate(requestContext(c))
		if !report.Healthy() {
			c.JSON(http.StatusServiceUnavailable, response.Response{Success: false, Data: report})
			return
		}
		response.Success(c, http.StatusOK, report)
	}
}

// Live answers as long as the process serves requests.
func Live(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{"status": health.StatusUp})
}
