package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/casedesk/internal/gate"
	"github.com/charlesng35/casedesk/internal/middleware"
	"github.com/charlesng35/casedesk/pkg/response"
)

// NavigationHandler answers the client's route guard and sidebar questions
// with the session oracle, so the server and client agree on every decision.
type NavigationHandler struct {
	navigator *gate.Navigator
	wait      time.Duration
}

type evaluateRequest struct {
	Path        string           `json:"path"`
	Requirement gate.Requirement `json:"requirement"`
}

type evaluateResponse struct {
	Path string `json:"path,omitempty"`
	gate.Decision
}

func NewNavigationHandler(navigator *gate.Navigator) *NavigationHandler {
	if navigator == nil {
		navigator = gate.NewNavigator(gate.DefaultNavigation(), nil)
	}
	return &NavigationHandler{navigator: navigator, wait: landingWait}
}

// GET /api/navigation
func (h *NavigationHandler) List(c *gin.Context) {
	_, oracle := middleware.GateSubject(c)
	ctx, cancel := h.waitContext(c)
	defer cancel()

	if oracle != nil {
		_ = oracle.WaitReady(ctx)
	}
	response.Success(c, http.StatusOK, h.navigator.Filter(ctx, oracle))
}

// GET /api/navigation/landing
func (h *NavigationHandler) Landing(c *gin.Context) {
	_, oracle := middleware.GateSubject(c)
	ctx, cancel := h.waitContext(c)
	defer cancel()

	response.Success(c, http.StatusOK, gin.H{"path": gate.Landing(ctx, oracle)})
}

// POST /api/navigation/evaluate runs a route requirement for the caller.
func (h *NavigationHandler) Evaluate(c *gin.Context) {
	var body evaluateRequest
	if !bindAndValidate(c, &body) {
		return
	}
	subject, oracle := middleware.GateSubject(c)
	ctx, cancel := h.waitContext(c)
	defer cancel()

	if oracle != nil {
		_ = oracle.WaitReady(ctx)
	}
	decision := gate.Evaluate(ctx, subject, oracle, body.Requirement)
	response.Success(c, http.StatusOK, evaluateResponse{Path: body.Path, Decision: decision})
}

func (h *NavigationHandler) waitContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(requestContext(c), h.wait)
}
