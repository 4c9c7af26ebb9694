package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBaseModelBeforeCreateGeneratesID(t *testing.T) {
	var base BaseModel
	require.NoError(t, base.BeforeCreate(nil))
	require.NotEmpty(t, base.ID)

	seeded := BaseModel{ID: AdminRoleID}
	require.NoError(t, seeded.BeforeCreate(nil))
	require.Equal(t, AdminRoleID, seeded.ID)
}

func TestStandaloneModelsGenerateIDs(t *testing.T) {
	audit := &AuditLog{}
	require.NoError(t, audit.BeforeCreate(nil))
	require.NotEmpty(t, audit.ID)

	session := &Session{}
	require.NoError(t, session.BeforeCreate(nil))
	require.NotEmpty(t, session.ID)
}

func TestAdministratorDetection(t *testing.T) {
	var nilUser *User
	require.False(t, nilUser.IsAdministrator())
	require.False(t, (&User{}).IsAdministrator())
	require.False(t, (&User{Role: &Role{Name: "Investigator"}}).IsAdministrator())
	require.True(t, (&User{Role: &Role{Name: AdministratorRoleName}}).IsAdministrator())
}

func TestRolePermissionNamesSkipsInactive(t *testing.T) {
	role := &Role{Permissions: []Permission{
		{Name: "cases.view.own", IsActive: true},
		{Name: "cases.edit.all", IsActive: false},
	}}
	require.Equal(t, []string{"cases.view.own"}, role.PermissionNames())
}

func TestSessionActive(t *testing.T) {
	now := time.Now()
	session := &Session{ExpiresAt: now.Add(time.Minute)}
	require.True(t, session.Active(now))

	revoked := now
	session.RevokedAt = &revoked
	require.False(t, session.Active(now))

	require.False(t, (&Session{ExpiresAt: now}).Active(now))
}

func TestCacheEntryExpired(t *testing.T) {
	now := time.Now()
	require.False(t, (&CacheEntry{}).Expired(now))
	require.True(t, (&CacheEntry{ExpiresAt: now}).Expired(now))
	require.False(t, (&CacheEntry{ExpiresAt: now.Add(time.Second)}).Expired(now))
}

func TestValidCaseStatus(t *testing.T) {
	require.True(t, ValidCaseStatus(CaseStatusInProgress))
	require.False(t, ValidCaseStatus("archived"))
}
