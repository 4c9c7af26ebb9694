package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/casedesk/internal/cache"
	"github.com/charlesng35/casedesk/internal/database/testutil"
	"github.com/charlesng35/casedesk/internal/models"
	"github.com/charlesng35/casedesk/pkg/crypto"
)

func TestCreateSessionStoresDigest(t *testing.T) {
	db, svc, clock := setupSessionService(t, false)
	user := createTestUser(t, db, "create")

	tokens, session, err := svc.CreateSession(context.Background(), user.ID, SessionMetadata{
		IPAddress: "10.0.0.1 ",
		UserAgent: "unit-test",
	})
	require.NoError(t, err)
	require.NotEmpty(t, tokens.AccessToken)
	require.NotEmpty(t, tokens.RefreshToken)
	require.Equal(t, "10.0.0.1", session.IPAddress)

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.NotEqual(t, tokens.RefreshToken, reloaded.RefreshToken)
	require.Equal(t, crypto.HashToken(tokens.RefreshToken), reloaded.RefreshToken)
	require.True(t, reloaded.ExpiresAt.After(clock.Now()))

	claims, err := svc.jwt.ValidateAccessToken(tokens.AccessToken)
	require.NoError(t, err)
	require.Equal(t, session.ID, claims.SessionID)
}

func TestRefreshSessionRotatesToken(t *testing.T) {
	for _, cached := range []bool{false, true} {
		db, svc, clock := setupSessionService(t, cached)
		user := createTestUser(t, db, "refresh")
		ctx := context.Background()

		tokens, session, err := svc.CreateSession(ctx, user.ID, SessionMetadata{})
		require.NoError(t, err)

		clock.Advance(5 * time.Minute)

		next, updated, err := svc.RefreshSession(ctx, tokens.RefreshToken)
		require.NoError(t, err)
		require.NotEqual(t, tokens.RefreshToken, next.RefreshToken)
		require.Equal(t, session.ID, updated.ID)
		require.True(t, updated.LastUsedAt.Equal(clock.Now()))

		_, _, err = svc.RefreshSession(ctx, tokens.RefreshToken)
		require.ErrorIs(t, err, ErrSessionNotFound, "old token is single use")

		_, _, err = svc.RefreshSession(ctx, next.RefreshToken)
		require.NoError(t, err)
	}
}

func TestRefreshSessionExpired(t *testing.T) {
	db, svc, clock := setupSessionService(t, false)
	user := createTestUser(t, db, "expired")

	tokens, _, err := svc.CreateSession(context.Background(), user.ID, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(3 * time.Hour)
	_, _, err = svc.RefreshSession(context.Background(), tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionExpired)

	_, _, err = svc.RefreshSession(context.Background(), " ")
	require.ErrorIs(t, err, ErrSessionInvalidToken)
}

func TestRevokeSessionPreventsRefreshAndResolve(t *testing.T) {
	db, svc, _ := setupSessionService(t, true)
	user := createTestUser(t, db, "revoke")
	ctx := context.Background()

	tokens, session, err := svc.CreateSession(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)

	_, resolved, err := svc.Resolve(ctx, session.ID, user.ID)
	require.NoError(t, err)
	require.Equal(t, models.UserRoleID, resolved.RoleID)
	require.NotNil(t, resolved.Role)

	require.NoError(t, svc.RevokeSession(ctx, session.ID))
	require.ErrorIs(t, svc.RevokeSession(ctx, session.ID), ErrSessionRevoked)
	require.ErrorIs(t, svc.RevokeSession(ctx, "missing"), ErrSessionNotFound)

	_, _, err = svc.RefreshSession(ctx, tokens.RefreshToken)
	require.ErrorIs(t, err, ErrSessionRevoked)

	_, _, err = svc.Resolve(ctx, session.ID, user.ID)
	require.ErrorIs(t, err, ErrSessionRevoked)
}

func TestResolveRejectsInactiveUserAndMismatch(t *testing.T) {
	db, svc, _ := setupSessionService(t, false)
	user := createTestUser(t, db, "inactive")
	ctx := context.Background()

	_, session, err := svc.CreateSession(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)

	_, _, err = svc.Resolve(ctx, session.ID, "someone-else")
	require.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, db.Model(user).Update("is_active", false).Error)
	_, _, err = svc.Resolve(ctx, session.ID, user.ID)
	require.ErrorIs(t, err, ErrUserInactive)
}

func TestRevokeUserSessionsAndCleanup(t *testing.T) {
	db, svc, clock := setupSessionService(t, true)
	user := createTestUser(t, db, "many")
	other := createTestUser(t, db, "other")
	ctx := context.Background()

	_, first, err := svc.CreateSession(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)
	_, second, err := svc.CreateSession(ctx, user.ID, SessionMetadata{})
	require.NoError(t, err)
	_, _, err = svc.CreateSession(ctx, other.ID, SessionMetadata{})
	require.NoError(t, err)

	ids, err := svc.RevokeUserSessions(ctx, user.ID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{first.ID, second.ID}, ids)

	removed, err := svc.CleanupExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)

	clock.Advance(3 * time.Hour)
	removed, err = svc.CleanupExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)
}

func setupSessionService(t *testing.T, cached bool) (*gorm.DB, *SessionService, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	clock := &testClock{current: time.Date(2026, 1, 3, 9, 0, 0, 0, time.UTC)}

	jwtService, err := NewJWTService(JWTConfig{
		Secret:         "session-secret",
		AccessTokenTTL: time.Hour,
		Clock:          clock.Now,
	})
	require.NoError(t, err)

	cfg := SessionConfig{
		RefreshTokenTTL: 2 * time.Hour,
		RefreshLength:   24,
		Clock:           clock.Now,
	}
	if cached {
		cfg.Cache = NewSessionCache(cache.NewDatabaseStore(db))
	}

	svc, err := NewSessionService(db, jwtService, cfg)
	require.NoError(t, err)
	return db, svc, clock
}

func createTestUser(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()

	hashed, err := crypto.HashPassword("password")
	require.NoError(t, err)

	user := &models.User{
		Email:    name + "@example.com",
		FullName: name,
		Password: hashed,
		RoleID:   models.UserRoleID,
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

type testClock struct {
	mu      sync.Mutex
	current time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}
