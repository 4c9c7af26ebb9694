package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/casedesk/internal/models"
	"github.com/charlesng35/casedesk/internal/permissions"
	"github.com/charlesng35/casedesk/pkg/crypto"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Team{},
		&models.Role{},
		&models.Permission{},
		&models.Session{},
		&models.AuditLog{},
		&models.CacheEntry{},
		&models.Case{},
	)
}

// BootstrapAdmin describes the administrator account created on first start.
type BootstrapAdmin struct {
	Email    string
	FullName string
	Password string
}

// SeedOptions controls the optional parts of SeedData.
type SeedOptions struct {
	Admin *BootstrapAdmin
}

// caseWork lists the modules a regular case worker operates in.
var caseWork = map[string]bool{
	permissions.ModuleDashboard:    true,
	permissions.ModuleCases:        true,
	permissions.ModuleTodos:        true,
	permissions.ModuleNotes:        true,
	permissions.ModuleKnowledge:    true,
	permissions.ModuleCaseControl:  true,
	permissions.ModuleDispositions: true,
	permissions.ModuleArchive:      true,
}

// SeedData syncs the permission catalog, ensures the system roles and their
// default grants exist, and creates the bootstrap administrator when configured.
func SeedData(ctx context.Context, db *gorm.DB, opts SeedOptions) error {
	if err := permissions.Sync(ctx, db); err != nil {
		return err
	}

	tx := db.WithContext(ctx)
	roles := []models.Role{
		{
			BaseModel:   models.BaseModel{ID: models.AdminRoleID},
			Name:        models.AdministratorRoleName,
			Description: "Full system access",
			IsSystem:    true,
		},
		{
			BaseModel:   models.BaseModel{ID: models.SupervisorRoleID},
			Name:        "Supervisor",
			Description: "Works and oversees the cases of their teams",
			IsSystem:    true,
		},
		{
			BaseModel:   models.BaseModel{ID: models.UserRoleID},
			Name:        "User",
			Description: "Works their own cases",
			IsSystem:    true,
		},
	}

	created := make(map[string]bool, len(roles))
	for _, role := range roles {
		res := tx.Where(models.Role{BaseModel: models.BaseModel{ID: role.ID}}).Attrs(role).FirstOrCreate(&models.Role{})
		if res.Error != nil {
			return fmt.Errorf("seed role %s: %w", role.ID, res.Error)
		}
		created[role.ID] = res.RowsAffected > 0
	}

	// Default grants are only written when the role is first created.
	grants := map[string]string{
		models.SupervisorRoleID: models.ScopeTeam,
		models.UserRoleID:       models.ScopeOwn,
	}
	for roleID, scope := range grants {
		if !created[roleID] {
			continue
		}
		ids := catalogWhere(func(p *permissions.Permission) bool {
			return caseWork[p.Module] && p.Scope == scope
		})
		if err := assignRolePermissions(tx, roleID, ids); err != nil {
			return fmt.Errorf("seed %s grants: %w", roleID, err)
		}
	}

	if opts.Admin != nil {
		if err := seedAdmin(tx, *opts.Admin); err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
	}
	return nil
}

func seedAdmin(tx *gorm.DB, admin BootstrapAdmin) error {
	email := strings.ToLower(strings.TrimSpace(admin.Email))
	if email == "" {
		return nil
	}

	var existing models.User
	err := tx.Where("email = ?", email).Take(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hash, err := crypto.HashPassword(admin.Password)
	if err != nil {
		return err
	}

	fullName := strings.TrimSpace(admin.FullName)
	if fullName == "" {
		fullName = "Administrator"
	}
	return tx.Create(&models.User{
		Email:    email,
		FullName: fullName,
		Password: hash,
		RoleID:   models.AdminRoleID,
		IsActive: true,
	}).Error
}

func catalogWhere(match func(*permissions.Permission) bool) []string {
	var ids []string
	for _, name := range permissions.Names() {
		if perm, ok := permissions.Get(name); ok && match(perm) {
			ids = append(ids, perm.Name)
		}
	}
	return ids
}
