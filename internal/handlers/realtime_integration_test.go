package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/casedesk/internal/handlers/testutil"
	"github.com/charlesng35/casedesk/internal/models"
	"github.com/charlesng35/casedesk/internal/realtime"
)

func TestRealtimeHandler_RejectsUnknownStream(t *testing.T) {
	env := testutil.NewEnv(t)
	token := env.LoginAdmin()

	resp := env.Request(http.MethodGet, "/api/realtime/bogus", nil, token)
	require.Equal(t, http.StatusNotFound, resp.Code)
	require.Equal(t, "STREAM_UNKNOWN", testutil.DecodeResponse(t, resp).Error.Code)
}

func TestRealtimeHandler_RequiresToken(t *testing.T) {
	env := testutil.NewEnv(t)

	srv := httptest.NewServer(env.Router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/realtime"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if conn != nil {
		conn.Close()
	}
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRealtimeHandler_PushesRoleChanges(t *testing.T) {
	env := testutil.NewEnv(t)
	env.CreateUser("agent@example.com", "AgentPassw0rd!", models.UserRoleID)
	agent := env.Login("agent@example.com", "AgentPassw0rd!").Tokens.AccessToken
	admin := env.LoginAdmin()

	require.Equal(t, http.StatusOK, env.Request(http.MethodGet, "/api/cases", nil, agent).Code)

	srv := httptest.NewServer(env.Router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/realtime?access_token=" + agent
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return env.Server.Hub.Subscribers(realtime.StreamPermissions) == 1
	}, 2*time.Second, 10*time.Millisecond)

	update := env.Request(http.MethodPut, "/api/roles/"+models.UserRoleID+"/permissions", map[string]any{
		"permissions": []string{"dashboard.view.own"},
	}, admin)
	require.Equal(t, http.StatusOK, update.Code, update.Body.String())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var msg realtime.Message
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, realtime.StreamPermissions, msg.Stream)
	require.Equal(t, realtime.EventPermissionsChanged, msg.Event)

	data, ok := msg.Data.(map[string]any)
	require.True(t, ok)
	require.Equal(t, models.UserRoleID, data["role_id"])

	// The agent's session oracle was refreshed before the event went out.
	denied := env.Request(http.MethodGet, "/api/cases", nil, agent)
	require.Equal(t, http.StatusForbidden, denied.Code)
}
