package auth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/casedesk/internal/cache"
	"github.com/charlesng35/casedesk/internal/database/testutil"
)

func TestLocalAuthenticatorSuccess(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	user := createTestUser(t, db, "alice")

	now := time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)
	authn, err := NewLocalAuthenticator(db, nil, LocalConfig{Clock: func() time.Time { return now }})
	require.NoError(t, err)

	got, err := authn.Authenticate(context.Background(), AuthenticateInput{
		Email:     " ALICE@example.com",
		Password:  "password",
		IPAddress: "192.0.2.1",
	})
	require.NoError(t, err)
	require.Equal(t, user.ID, got.ID)
	require.NotNil(t, got.Role)
	require.Equal(t, "192.0.2.1", got.LastLoginIP)

	_, err = authn.Authenticate(context.Background(), AuthenticateInput{Email: "alice@example.com", Password: "nope"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = authn.Authenticate(context.Background(), AuthenticateInput{Email: "ghost@example.com", Password: "password"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = authn.Authenticate(context.Background(), AuthenticateInput{})
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLocalAuthenticatorDisabledAccount(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	user := createTestUser(t, db, "bob")
	require.NoError(t, db.Model(user).Update("is_active", false).Error)

	authn, err := NewLocalAuthenticator(db, nil, LocalConfig{})
	require.NoError(t, err)

	_, err = authn.Authenticate(context.Background(), AuthenticateInput{Email: "bob@example.com", Password: "password"})
	require.ErrorIs(t, err, ErrAccountDisabled)
}

func TestLocalAuthenticatorLockout(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	createTestUser(t, db, "carol")

	mr := miniredis.RunT(t)
	store, err := cache.NewRedisStore(context.Background(), cache.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	authn, err := NewLocalAuthenticator(db, store, LocalConfig{LockoutThreshold: 3, LockoutWindow: time.Minute})
	require.NoError(t, err)
	ctx := context.Background()
	bad := AuthenticateInput{Email: "carol@example.com", Password: "wrong-password"}

	_, err = authn.Authenticate(ctx, bad)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = authn.Authenticate(ctx, bad)
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = authn.Authenticate(ctx, bad)
	require.ErrorIs(t, err, ErrAccountLocked)

	_, err = authn.Authenticate(ctx, AuthenticateInput{Email: "carol@example.com", Password: "password"})
	require.ErrorIs(t, err, ErrAccountLocked, "correct password is refused while locked")

	mr.FastForward(2 * time.Minute)
	_, err = authn.Authenticate(ctx, AuthenticateInput{Email: "carol@example.com", Password: "password"})
	require.NoError(t, err)
}
