package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/casedesk/internal/app"
	"github.com/charlesng35/casedesk/internal/gate"
	"github.com/charlesng35/casedesk/internal/handlers/testutil"
	"github.com/charlesng35/casedesk/internal/models"
)

func TestAuthHandler_LoginRefreshLogout(t *testing.T) {
	env := testutil.NewEnv(t)

	login := env.Login(testutil.AdminEmail, testutil.AdminPassword)
	require.Equal(t, "/dashboard", login.Landing)
	require.Equal(t, models.AdministratorRoleName, login.User.RoleName)
	require.Contains(t, login.Permissions, "users.view.all")

	token := login.Tokens.AccessToken

	me := env.Request(http.MethodGet, "/api/auth/me", nil, token)
	require.Equal(t, http.StatusOK, me.Code, me.Body.String())
	var meData struct {
		User        testutil.UserPayload `json:"user"`
		Permissions []string             `json:"permissions"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, me).Data, &meData)
	require.Equal(t, login.User.ID, meData.User.ID)
	require.Equal(t, testutil.AdminEmail, meData.User.Email)
	require.NotEmpty(t, meData.Permissions)

	refresh := env.Request(http.MethodPost, "/api/auth/refresh", map[string]string{
		"refresh_token": login.Tokens.RefreshToken,
	}, "")
	require.Equal(t, http.StatusOK, refresh.Code, refresh.Body.String())
	var refreshed testutil.TokenPair
	testutil.DecodeInto(t, testutil.DecodeResponse(t, refresh).Data, &refreshed)
	require.NotEmpty(t, refreshed.AccessToken)
	require.NotEmpty(t, refreshed.RefreshToken)
	require.NotEqual(t, login.Tokens.RefreshToken, refreshed.RefreshToken)

	logout := env.Request(http.MethodPost, "/api/auth/logout", nil, refreshed.AccessToken)
	require.Equal(t, http.StatusOK, logout.Code, logout.Body.String())

	after := env.Request(http.MethodGet, "/api/auth/me", nil, refreshed.AccessToken)
	require.Equal(t, http.StatusUnauthorized, after.Code)
	decoded := testutil.DecodeResponse(t, after)
	require.NotNil(t, decoded.Error)
	require.Equal(t, gate.LoginPath, decoded.Error.Redirect)
}

func TestAuthHandler_LoginValidation(t *testing.T) {
	env := testutil.NewEnv(t)

	resp := env.Request(http.MethodPost, "/api/auth/login", map[string]any{
		"email":    "not-an-email",
		"password": "",
	}, "")
	require.Equal(t, http.StatusBadRequest, resp.Code)
	decoded := testutil.DecodeResponse(t, resp)
	require.False(t, decoded.Success)
	require.NotNil(t, decoded.Error)
	require.Equal(t, "BAD_REQUEST", decoded.Error.Code)
}

func TestAuthHandler_InvalidCredentials(t *testing.T) {
	env := testutil.NewEnv(t)

	resp := env.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    testutil.AdminEmail,
		"password": "wrong-password",
	}, "")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	decoded := testutil.DecodeResponse(t, resp)
	require.Equal(t, "INVALID_CREDENTIALS", decoded.Error.Code)
}

func TestAuthHandler_UnauthenticatedRedirectsToLogin(t *testing.T) {
	env := testutil.NewEnv(t)

	resp := env.Request(http.MethodGet, "/api/auth/me", nil, "")
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	require.Equal(t, "Bearer", resp.Header().Get("WWW-Authenticate"))
	decoded := testutil.DecodeResponse(t, resp)
	require.Equal(t, gate.LoginPath, decoded.Error.Redirect)

	garbage := env.Request(http.MethodGet, "/api/auth/me", nil, "not-a-token")
	require.Equal(t, http.StatusUnauthorized, garbage.Code)
}

func TestAuthHandler_UserLandsOnDashboard(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateUser("agent@example.com", "AgentPassw0rd!", models.UserRoleID)

	login := env.Login("agent@example.com", "AgentPassw0rd!")
	require.Equal(t, "/dashboard", login.Landing)
	require.Contains(t, login.Permissions, "cases.view.own")
	require.NotContains(t, login.Permissions, "users.view.all")
}

func TestAuthHandler_LoginRateLimit(t *testing.T) {
	env := testutil.NewEnv(t, func(cfg *app.Config) {
		cfg.Server.LoginRateLimit.Requests = 2
	})

	payload := map[string]string{"email": testutil.AdminEmail, "password": "wrong-password"}
	for i := 0; i < 2; i++ {
		resp := env.Request(http.MethodPost, "/api/auth/login", payload, "")
		require.Equal(t, http.StatusUnauthorized, resp.Code)
	}

	limited := env.Request(http.MethodPost, "/api/auth/login", payload, "")
	require.Equal(t, http.StatusTooManyRequests, limited.Code)
	require.NotEmpty(t, limited.Header().Get("Retry-After"))
	require.Equal(t, "RATE_LIMITED", testutil.DecodeResponse(t, limited).Error.Code)
}
