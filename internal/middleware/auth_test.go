package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/casedesk/internal/auditctx"
	"github.com/charlesng35/casedesk/internal/gate"
	"github.com/charlesng35/casedesk/internal/oracle"
	"github.com/charlesng35/casedesk/pkg/response"
)

func TestAuthRejectsMissingAndInvalidTokens(t *testing.T) {
	f := newAuthFixture(t, nil)

	r := gin.New()
	r.GET("/secure", f.auth(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/secure", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))

	var payload response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Equal(t, gate.LoginPath, payload.Error.Redirect)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthOpensOracleAndPropagatesIdentity(t *testing.T) {
	f := newAuthFixture(t, nil)
	token := f.login(t, "sess-1", "user-1", "Clerk")

	r := gin.New()
	r.GET("/secure", f.auth(), func(c *gin.Context) {
		session, ok := CurrentSession(c)
		require.True(t, ok)
		actor, ok := auditctx.FromContext(c.Request.Context())
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{
			"user_id":    c.GetString(CtxUserIDKey),
			"session_id": c.GetString(CtxSessionIDKey),
			"role":       session.Identity().RoleName,
			"actor":      actor.Email,
		})
	})

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/secure", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)

		var payload map[string]string
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
		require.Equal(t, "user-1", payload["user_id"])
		require.Equal(t, "sess-1", payload["session_id"])
		require.Equal(t, "Clerk", payload["role"])
		require.Equal(t, "user-1@example.com", payload["actor"])
	}

	// the second request is served from the registry
	require.Equal(t, 1, f.resolver.Calls())
	require.Equal(t, 1, f.registry.Len())
}

func TestAuthRejectsUnknownSession(t *testing.T) {
	f := newAuthFixture(t, nil)
	token, err := f.jwt.GenerateAccessToken("user-1", "ghost")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/secure", f.auth(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	var payload response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Equal(t, "SESSION_EXPIRED", payload.Error.Code)
	require.Zero(t, f.registry.Len())
}

func TestAuthRejectsTokenForAnotherUsersSession(t *testing.T) {
	f := newAuthFixture(t, nil)
	_, err := f.registry.Open(oracle.Identity{SessionID: "sess-1", UserID: "owner"})
	require.NoError(t, err)

	token, err := f.jwt.GenerateAccessToken("intruder", "sess-1")
	require.NoError(t, err)

	r := gin.New()
	r.GET("/secure", f.auth(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthAcceptsQueryTokenOnlyForWebsocketUpgrade(t *testing.T) {
	f := newAuthFixture(t, nil)
	token := f.login(t, "sess-ws", "user-ws", "Clerk")

	r := gin.New()
	r.GET("/ws", f.auth(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?access_token="+token, nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ws?access_token="+token, nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}
