package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/casedesk/internal/auditctx"
	iauth "github.com/charlesng35/casedesk/internal/auth"
	"github.com/charlesng35/casedesk/internal/gate"
	"github.com/charlesng35/casedesk/internal/models"
	"github.com/charlesng35/casedesk/internal/oracle"
	apperrors "github.com/charlesng35/casedesk/pkg/errors"
	"github.com/charlesng35/casedesk/pkg/logger"
	"github.com/charlesng35/casedesk/pkg/response"
)

const (
	CtxClaimsKey    = "authClaims"
	CtxUserIDKey    = "userID"
	CtxSessionIDKey = "sessionID"
	CtxSessionKey   = "oracleSession"
)

var errSessionMismatch = errors.New("auth: token does not belong to session")

// TokenValidator validates bearer access tokens.
type TokenValidator interface {
	ValidateAccessToken(token string) (*iauth.Claims, error)
}

// SessionResolver rebuilds the identity behind a session that has no oracle yet.
type SessionResolver interface {
	Resolve(ctx context.Context, sessionID, userID string) (*models.Session, *models.User, error)
}

// SessionRegistry holds the per-session permission oracles.
type SessionRegistry interface {
	Get(sessionID string) (*oracle.Session, bool)
	Ensure(identity oracle.Identity) (*oracle.Session, error)
}

// Auth validates the bearer token and attaches the session's permission
// oracle to the request. A session the process has not seen yet (after a
// restart, or on another replica) is resolved from the database and opened.
func Auth(tokens TokenValidator, sessions SessionResolver, registry SessionRegistry) gin.HandlerFunc {
	log := logger.WithModule("http.auth")

	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			unauthorized(c)
			return
		}

		claims, err := tokens.ValidateAccessToken(token)
		if err != nil || claims.SessionID == "" {
			unauthorized(c)
			return
		}

		session, err := attachSession(c.Request.Context(), claims, sessions, registry)
		if err != nil {
			log.Debug("session rejected",
				zap.String("session_id", claims.SessionID),
				zap.String("user_id", claims.UserID),
				zap.Error(err))
			c.Header("WWW-Authenticate", "Bearer")
			response.Abort(c, apperrors.ErrSessionExpired.WithRedirect(gate.LoginPath))
			return
		}

		identity := session.Identity()
		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, identity.UserID)
		c.Set(CtxSessionIDKey, identity.SessionID)
		c.Set(CtxSessionKey, session)

		ctx := auditctx.WithActor(c.Request.Context(), auditctx.Actor{
			UserID:    identity.UserID,
			Email:     identity.Email,
			SessionID: identity.SessionID,
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

func attachSession(ctx context.Context, claims *iauth.Claims, sessions SessionResolver, registry SessionRegistry) (*oracle.Session, error) {
	if existing, ok := registry.Get(claims.SessionID); ok {
		if existing.Identity().UserID != claims.UserID {
			return nil, errSessionMismatch
		}
		return existing, nil
	}

	_, user, err := sessions.Resolve(ctx, claims.SessionID, claims.UserID)
	if err != nil {
		return nil, err
	}
	return registry.Ensure(oracle.Identity{
		SessionID: claims.SessionID,
		UserID:    user.ID,
		Email:     user.Email,
		RoleID:    user.RoleID,
		RoleName:  user.RoleName(),
	})
}

// bearerToken reads the Authorization header. Websocket upgrades may pass the
// token as the access_token query parameter since browsers cannot set headers.
func bearerToken(c *gin.Context) (string, bool) {
	authz := c.GetHeader("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "Bearer ") {
		token := strings.TrimSpace(authz[7:])
		return token, token != ""
	}
	if websocket.IsWebSocketUpgrade(c.Request) {
		token := strings.TrimSpace(c.Query("access_token"))
		return token, token != ""
	}
	return "", false
}

func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	response.Abort(c, apperrors.ErrUnauthorized.WithRedirect(gate.LoginPath))
}

// CurrentSession returns the oracle session attached by Auth.
func CurrentSession(c *gin.Context) (*oracle.Session, bool) {
	v, ok := c.Get(CtxSessionKey)
	if !ok {
		return nil, false
	}
	session, ok := v.(*oracle.Session)
	return session, ok && session != nil
}
