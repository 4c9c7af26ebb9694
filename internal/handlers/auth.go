package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/casedesk/internal/auth"
	"github.com/charlesng35/casedesk/internal/gate"
	"github.com/charlesng35/casedesk/internal/models"
	"github.com/charlesng35/casedesk/internal/oracle"
	"github.com/charlesng35/casedesk/internal/permissions"
	"github.com/charlesng35/casedesk/internal/realtime"
	"github.com/charlesng35/casedesk/internal/services"
	apperrors "github.com/charlesng35/casedesk/pkg/errors"
	"github.com/charlesng35/casedesk/pkg/logger"
	"github.com/charlesng35/casedesk/pkg/metrics"
	"github.com/charlesng35/casedesk/pkg/response"
)

// landingWait bounds how long login waits for the new oracle to populate.
const landingWait = 5 * time.Second

var (
	errAccountLocked   = apperrors.New("ACCOUNT_LOCKED", "Too many failed attempts, try again later", http.StatusTooManyRequests)
	errAccountDisabled = apperrors.New("ACCOUNT_DISABLED", "Account is disabled", http.StatusForbidden)
)

// AuthHandler manages login, token refresh, logout and the current user.
type AuthHandler struct {
	local    *iauth.LocalAuthenticator
	sessions *iauth.SessionService
	registry *oracle.Registry
	checker  *permissions.Checker
	users    *services.UserService
	hub      services.Broadcaster
	audit    *services.AuditService
}

// NewAuthHandler wires the authentication endpoints.
func NewAuthHandler(local *iauth.LocalAuthenticator, sessions *iauth.SessionService, registry *oracle.Registry,
	checker *permissions.Checker, users *services.UserService, hub services.Broadcaster, audit *services.AuditService) *AuthHandler {
	return &AuthHandler{
		local:    local,
		sessions: sessions,
		registry: registry,
		checker:  checker,
		users:    users,
		hub:      hub,
		audit:    audit,
	}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type userPayload struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	RoleID   string `json:"role_id"`
	RoleName string `json:"role_name"`
	IsActive bool   `json:"is_active"`
}

type loginResponse struct {
	Tokens      iauth.TokenPair `json:"tokens"`
	User        userPayload     `json:"user"`
	Permissions []string        `json:"permissions"`
	Landing     string          `json:"landing"`
}

func toUserPayload(u *models.User) userPayload {
	return userPayload{
		ID:       u.ID,
		Email:    u.Email,
		FullName: u.FullName,
		RoleID:   u.RoleID,
		RoleName: u.RoleName(),
		IsActive: u.IsActive,
	}
}

// POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindAndValidate(c, &req) {
		return
	}
	ctx := requestContext(c)

	user, err := h.local.Authenticate(ctx, iauth.AuthenticateInput{
		Email:     req.Email,
		Password:  req.Password,
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		h.recordLogin(ctx, c, nil, req.Email, models.AuditResultFailure)
		switch {
		case errors.Is(err, iauth.ErrAccountLocked):
			response.Error(c, errAccountLocked)
		case errors.Is(err, iauth.ErrAccountDisabled):
			response.Error(c, errAccountDisabled)
		case errors.Is(err, iauth.ErrInvalidCredentials):
			response.Error(c, apperrors.ErrInvalidCredentials)
		default:
			response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		}
		return
	}

	pair, session, err := h.sessions.CreateSession(ctx, user.ID, iauth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	opened, err := h.registry.Open(oracle.Identity{
		SessionID: session.ID,
		UserID:    user.ID,
		Email:     user.Email,
		RoleID:    user.RoleID,
		RoleName:  user.RoleName(),
	})
	if err != nil {
		_ = h.sessions.RevokeSession(ctx, session.ID)
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	h.recordLogin(ctx, c, &user.ID, user.Email, models.AuditResultSuccess)

	perms, err := h.checker.GetUserPermissions(ctx, user.ID)
	if err != nil {
		logger.WithModule("http.auth").Warn("load permissions after login", zap.String("user_id", user.ID), zap.Error(err))
		perms = []string{}
	}

	waitCtx, cancel := context.WithTimeout(ctx, landingWait)
	defer cancel()

	response.Success(c, http.StatusOK, loginResponse{
		Tokens:      pair,
		User:        toUserPayload(user),
		Permissions: perms,
		Landing:     gate.Landing(waitCtx, opened.Oracle),
	})
}

// POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	pair, _, err := h.sessions.RefreshSession(requestContext(c), req.RefreshToken)
	if err != nil {
		response.Error(c, apperrors.ErrSessionExpired.WithRedirect(gate.LoginPath))
		return
	}
	response.Success(c, http.StatusOK, pair)
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	session, ok := currentSession(c)
	if !ok {
		return
	}
	identity := session.Identity()

	if err := h.sessions.RevokeSession(requestContext(c), identity.SessionID); err != nil &&
		!errors.Is(err, iauth.ErrSessionNotFound) && !errors.Is(err, iauth.ErrSessionRevoked) {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}
	h.registry.Close(identity.SessionID)

	if h.hub != nil {
		h.hub.BroadcastToUser(realtime.StreamPermissions, identity.UserID, realtime.Message{
			Event: realtime.EventSessionLogout,
			Data:  gin.H{"session_id": identity.SessionID},
		})
	}

	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	session, ok := currentSession(c)
	if !ok {
		return
	}
	ctx := requestContext(c)
	identity := session.Identity()

	user, err := h.users.GetByID(ctx, identity.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	perms, err := h.checker.GetUserPermissions(ctx, user.ID)
	if err != nil {
		response.Error(c, apperrors.ErrInternalServer.WithInternal(err))
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"user":        toUserPayload(user),
		"permissions": perms,
		"session_id":  identity.SessionID,
	})
}

func (h *AuthHandler) recordLogin(ctx context.Context, c *gin.Context, userID *string, email, result string) {
	if h.audit == nil {
		return
	}
	err := h.audit.Log(ctx, services.AuditEntry{
		UserID:    userID,
		Actor:     email,
		Action:    "auth.login",
		Result:    result,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		logger.WithModule("http.auth").Warn("audit login", zap.Error(err))
	}
}
