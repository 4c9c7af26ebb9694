package database

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/casedesk/internal/models"
	"github.com/charlesng35/casedesk/internal/permissions"
	"github.com/charlesng35/casedesk/pkg/crypto"
)

func TestOpenSQLiteMemory(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.Exec("SELECT 1").Error)
	require.NoError(t, Ping(context.Background(), db))
	require.Error(t, Ping(context.Background(), nil))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "oracle"})
	require.Error(t, err)
}

func TestAutoMigrateAndSeedData(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	seed := SeedOptions{Admin: &BootstrapAdmin{Email: " Admin@Example.com ", Password: "sup3r-secret"}}
	require.NoError(t, AutoMigrateAndSeed(ctx, db, seed))

	var roleCount int64
	require.NoError(t, db.Model(&models.Role{}).Count(&roleCount).Error)
	require.EqualValues(t, 3, roleCount)

	var permissionCount int64
	require.NoError(t, db.Model(&models.Permission{}).Count(&permissionCount).Error)
	require.EqualValues(t, len(permissions.Names()), permissionCount)

	var user models.Role
	require.NoError(t, db.Preload("Permissions").First(&user, "id = ?", models.UserRoleID).Error)
	require.NotEmpty(t, user.Permissions)
	for _, perm := range user.Permissions {
		require.Equal(t, models.ScopeOwn, perm.Scope, perm.Name)
	}

	var supervisor models.Role
	require.NoError(t, db.Preload("Permissions").First(&supervisor, "id = ?", models.SupervisorRoleID).Error)
	require.Contains(t, supervisor.PermissionNames(), "case-control.view.team")

	var admin models.User
	require.NoError(t, db.Preload("Role").First(&admin, "email = ?", "admin@example.com").Error)
	require.True(t, admin.IsAdministrator())
	require.True(t, admin.IsActive)
	require.True(t, crypto.VerifyPassword(admin.Password, "sup3r-secret"))
}

func TestSeedDataIsIdempotentAndKeepsEdits(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	require.NoError(t, AutoMigrateAndSeed(ctx, db, SeedOptions{}))

	var role models.Role
	require.NoError(t, db.First(&role, "id = ?", models.UserRoleID).Error)
	require.NoError(t, db.Model(&role).Association("Permissions").Clear())

	require.NoError(t, SeedData(ctx, db, SeedOptions{}))
	require.Zero(t, db.Model(&role).Association("Permissions").Count(), "re-seeding does not restore removed grants")

	var roleCount int64
	require.NoError(t, db.Model(&models.Role{}).Count(&roleCount).Error)
	require.EqualValues(t, 3, roleCount)
}

func TestSeedAdminRejectsShortPassword(t *testing.T) {
	db := openTestDB(t)
	err := AutoMigrateAndSeed(context.Background(), db, SeedOptions{Admin: &BootstrapAdmin{Email: "a@b.c", Password: "short"}})
	require.ErrorIs(t, err, crypto.ErrPasswordTooShort)
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	db, err := Open(Config{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}
