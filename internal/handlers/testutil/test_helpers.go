package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/casedesk/internal/api"
	"github.com/charlesng35/casedesk/internal/app"
	iauth "github.com/charlesng35/casedesk/internal/auth"
	"github.com/charlesng35/casedesk/internal/cache"
	sharedtestutil "github.com/charlesng35/casedesk/internal/database/testutil"
	"github.com/charlesng35/casedesk/internal/models"
	"github.com/charlesng35/casedesk/pkg/crypto"
	"github.com/charlesng35/casedesk/pkg/response"
)

// Bootstrap administrator credentials seeded into every Env.
const (
	AdminEmail    = "admin@example.com"
	AdminPassword = "Admin-Password-123"
)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Config   *app.Config
	Server   *api.Server
	Router   *gin.Engine
	JWT      *iauth.JWTService
	Sessions *iauth.SessionService
}

// NewEnv provisions a fresh handler test environment with migrations, seed
// data and a bootstrap administrator. Options adjust the configuration before
// the server is built.
func NewEnv(t *testing.T, opts ...func(*app.Config)) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithBootstrapAdmin(AdminEmail, AdminPassword))

	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Auth.JWT.Secret = "test-suite-super-secret-key-32-bytes!!"
	cfg.Auth.JWT.Issuer = "test-suite"
	cfg.Auth.JWT.TTL = time.Hour
	cfg.Server.LoginRateLimit.Requests = 0
	for _, opt := range opts {
		opt(cfg)
	}

	jwtSvc, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	store := cache.NewDatabaseStore(db)
	sessionCfg := cfg.Auth.SessionServiceConfig()
	sessionCfg.Cache = iauth.NewSessionCache(store)
	sessionSvc, err := iauth.NewSessionService(db, jwtSvc, sessionCfg)
	require.NoError(t, err)

	server, err := api.NewServer(api.Dependencies{
		DB:       db,
		Config:   cfg,
		JWT:      jwtSvc,
		Sessions: sessionSvc,
		Cache:    store,
	})
	require.NoError(t, err)
	t.Cleanup(server.Close)

	return &Env{
		T:        t,
		DB:       db,
		Config:   cfg,
		Server:   server,
		Router:   server.Router,
		JWT:      jwtSvc,
		Sessions: sessionSvc,
	}
}

// CreateUser inserts an active user with the given role and returns the record.
func (e *Env) CreateUser(email, password, roleID string) *models.User {
	e.T.Helper()

	hashed, err := crypto.HashPassword(password)
	require.NoError(e.T, err)

	user := &models.User{
		Email:    email,
		FullName: "Test " + roleID,
		Password: hashed,
		RoleID:   roleID,
		IsActive: true,
	}
	require.NoError(e.T, e.DB.Create(user).Error)
	return user
}

// Admin returns the bootstrap administrator.
func (e *Env) Admin() *models.User {
	e.T.Helper()

	var user models.User
	require.NoError(e.T, e.DB.Where("email = ?", AdminEmail).First(&user).Error)
	return &user
}

// TokenPair mirrors the issued token pair.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// UserPayload captures the user fields returned from auth endpoints.
type UserPayload struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	RoleID   string `json:"role_id"`
	RoleName string `json:"role_name"`
	IsActive bool   `json:"is_active"`
}

// LoginResult bundles the JSON response from POST /api/auth/login.
type LoginResult struct {
	Tokens      TokenPair   `json:"tokens"`
	User        UserPayload `json:"user"`
	Permissions []string    `json:"permissions"`
	Landing     string      `json:"landing"`
}

// Login authenticates with email and password and returns the login payload.
func (e *Env) Login(email, password string) LoginResult {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result LoginResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.Tokens.AccessToken)
	require.NotEmpty(e.T, result.Tokens.RefreshToken)
	require.Equal(e.T, email, result.User.Email)

	return result
}

// LoginAdmin logs in as the bootstrap administrator and returns the access token.
func (e *Env) LoginAdmin() string {
	e.T.Helper()
	return e.Login(AdminEmail, AdminPassword).Tokens.AccessToken
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(e.T, json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, path, &buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
