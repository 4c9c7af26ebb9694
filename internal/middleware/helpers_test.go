package middleware

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	iauth "github.com/charlesng35/casedesk/internal/auth"
	"github.com/charlesng35/casedesk/internal/models"
	"github.com/charlesng35/casedesk/internal/oracle"
	"github.com/charlesng35/casedesk/internal/permissions"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// grantTransport answers from a fixed grant set.
type grantTransport struct {
	grants map[string]bool
}

func (g grantTransport) CheckPermission(_ context.Context, name string) (bool, error) {
	return g.grants[name], nil
}

func (g grantTransport) CheckModuleAccess(_ context.Context, module string) (bool, error) {
	perms, ok := permissions.ModulePermissions(module)
	if !ok {
		return false, nil
	}
	if len(perms) == 0 {
		return true, nil
	}
	for _, perm := range perms {
		if g.grants[perm] {
			return true, nil
		}
	}
	return false, nil
}

type resolverStub struct {
	mu    sync.Mutex
	users map[string]*models.User
	calls int
}

func (r *resolverStub) Resolve(_ context.Context, sessionID, userID string) (*models.Session, *models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	user, ok := r.users[sessionID]
	if !ok || user.ID != userID {
		return nil, nil, iauth.ErrSessionNotFound
	}
	return &models.Session{UserID: userID}, user, nil
}

func (r *resolverStub) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

type authFixture struct {
	jwt      *iauth.JWTService
	resolver *resolverStub
	registry *oracle.Registry
}

func newAuthFixture(t *testing.T, grants map[string]map[string]bool) *authFixture {
	t.Helper()

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "middleware-secret",
		Issuer:         "casedesk-test",
		AccessTokenTTL: time.Minute,
	})
	require.NoError(t, err)

	registry, err := oracle.NewRegistry(func(id oracle.Identity) (*oracle.Oracle, error) {
		return oracle.New(grantTransport{grants: grants[id.UserID]}, oracle.Options{
			Permissions: []string{},
			ModuleKeys:  []string{},
		})
	})
	require.NoError(t, err)
	t.Cleanup(registry.Shutdown)

	return &authFixture{
		jwt:      jwtSvc,
		resolver: &resolverStub{users: map[string]*models.User{}},
		registry: registry,
	}
}

// login registers a resolvable session and returns an access token for it.
func (f *authFixture) login(t *testing.T, sessionID, userID, roleName string) string {
	t.Helper()
	f.resolver.mu.Lock()
	f.resolver.users[sessionID] = &models.User{
		BaseModel: models.BaseModel{ID: userID},
		Email:     userID + "@example.com",
		IsActive:  true,
		Role:      &models.Role{Name: roleName},
	}
	f.resolver.mu.Unlock()

	token, err := f.jwt.GenerateAccessToken(userID, sessionID)
	require.NoError(t, err)
	return token
}

func (f *authFixture) auth() gin.HandlerFunc {
	return Auth(f.jwt, f.resolver, f.registry)
}
