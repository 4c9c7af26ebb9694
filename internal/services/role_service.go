package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/casedesk/internal/models"
	"github.com/charlesng35/casedesk/internal/permissions"
	apperrors "github.com/charlesng35/casedesk/pkg/errors"
)

var (
	// ErrRoleNotFound indicates the requested role does not exist.
	ErrRoleNotFound = apperrors.New("ROLE_NOT_FOUND", "Role not found", http.StatusNotFound)
	// ErrSystemRoleImmutable prevents renaming or deleting system roles.
	ErrSystemRoleImmutable = apperrors.New("ROLE_IMMUTABLE", "System roles cannot be renamed or deleted", http.StatusBadRequest)
	// ErrAdministratorGrantsImmutable rejects grant changes on the Administrator role, which bypasses checks.
	ErrAdministratorGrantsImmutable = apperrors.New("ROLE_ADMIN_GRANTS", "The Administrator role is granted every permission implicitly", http.StatusBadRequest)
	// ErrRoleInUse prevents deleting a role still assigned to users.
	ErrRoleInUse = apperrors.New("ROLE_IN_USE", "Role is still assigned to users", http.StatusConflict)
)

// CreateRoleInput describes the payload accepted by Create.
type CreateRoleInput struct {
	Name        string
	Description string
	Permissions []string
}

// UpdateRoleInput describes mutable fields on a role.
type UpdateRoleInput struct {
	Name        *string
	Description *string
}

// RoleService manages roles and their permission grants.
type RoleService struct {
	db       *gorm.DB
	audit    *AuditService
	notifier PermissionNotifier
}

// NewRoleService constructs a RoleService.
func NewRoleService(db *gorm.DB, audit *AuditService, notifier PermissionNotifier) (*RoleService, error) {
	if db == nil {
		return nil, errors.New("role service: db is required")
	}
	return &RoleService{db: db, audit: audit, notifier: notifier}, nil
}

// Create registers a new role, optionally granting the named permissions.
func (s *RoleService) Create(ctx context.Context, input CreateRoleInput) (*models.Role, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewBadRequest("role name is required")
	}
	if strings.EqualFold(name, models.AdministratorRoleName) {
		return nil, apperrors.NewConflict("role name already exists")
	}

	role := &models.Role{
		Name:        name,
		Description: strings.TrimSpace(input.Description),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(role).Error; err != nil {
			return err
		}
		names := normaliseIDs(input.Permissions)
		if len(names) == 0 {
			return nil
		}
		perms, err := resolveGrants(tx, names)
		if err != nil {
			return err
		}
		if err := tx.Model(role).Association("Permissions").Replace(perms); err != nil {
			return fmt.Errorf("role service: grant permissions: %w", err)
		}
		role.Permissions = perms
		return nil
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewConflict("role name already exists")
		}
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, fmt.Errorf("role service: create role: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "role.create",
		Resource: role.ID,
		Result:   models.AuditResultSuccess,
		Metadata: map[string]any{
			"name":        role.Name,
			"permissions": role.PermissionNames(),
		},
	})

	return role, nil
}

// Get loads a role with its permissions.
func (s *RoleService) Get(ctx context.Context, id string) (*models.Role, error) {
	ctx = ensureContext(ctx)

	var role models.Role
	err := s.db.WithContext(ctx).
		Preload("Permissions", func(db *gorm.DB) *gorm.DB { return db.Order("name ASC") }).
		First(&role, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("role service: load role: %w", err)
	}
	return &role, nil
}

// List returns all roles ordered by name.
func (s *RoleService) List(ctx context.Context) ([]models.Role, error) {
	ctx = ensureContext(ctx)

	var roles []models.Role
	if err := s.db.WithContext(ctx).
		Preload("Permissions", func(db *gorm.DB) *gorm.DB { return db.Order("name ASC") }).
		Order("name ASC").
		Find(&roles).Error; err != nil {
		return nil, fmt.Errorf("role service: list roles: %w", err)
	}
	return roles, nil
}

// Update modifies role metadata. System roles keep their names.
func (s *RoleService) Update(ctx context.Context, id string, input UpdateRoleInput) (*models.Role, error) {
	ctx = ensureContext(ctx)

	role, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return nil, apperrors.NewBadRequest("role name is required")
		}
		if name != role.Name {
			if role.IsSystem {
				return nil, ErrSystemRoleImmutable
			}
			if strings.EqualFold(name, models.AdministratorRoleName) {
				return nil, apperrors.NewConflict("role name already exists")
			}
			updates["name"] = name
		}
	}
	if input.Description != nil {
		if desc := strings.TrimSpace(*input.Description); desc != role.Description {
			updates["description"] = desc
		}
	}

	if len(updates) == 0 {
		return role, nil
	}

	if err := s.db.WithContext(ctx).Model(role).Omit(clause.Associations).Updates(updates).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewConflict("role name already exists")
		}
		return nil, fmt.Errorf("role service: update role: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "role.update",
		Resource: role.ID,
		Result:   models.AuditResultSuccess,
		Metadata: updates,
	})

	return s.Get(ctx, id)
}

// Delete removes a custom role that no user holds.
func (s *RoleService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	role, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return ErrSystemRoleImmutable
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var holders int64
		if err := tx.Model(&models.User{}).Where("role_id = ?", role.ID).Count(&holders).Error; err != nil {
			return fmt.Errorf("role service: count holders: %w", err)
		}
		if holders > 0 {
			return ErrRoleInUse
		}
		if err := tx.Model(role).Association("Permissions").Clear(); err != nil {
			return fmt.Errorf("role service: clear role permissions: %w", err)
		}
		if err := tx.Delete(role).Error; err != nil {
			return fmt.Errorf("role service: delete role: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "role.delete",
		Resource: role.ID,
		Result:   models.AuditResultSuccess,
		Metadata: map[string]any{"name": role.Name},
	})

	return nil
}

// SetPermissions replaces the role's grants with the named permissions and
// refreshes every session holding the role.
func (s *RoleService) SetPermissions(ctx context.Context, id string, names []string) (*models.Role, error) {
	ctx = ensureContext(ctx)

	role, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if role.IsAdministrator() {
		return nil, ErrAdministratorGrantsImmutable
	}

	names = normaliseIDs(names)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(names) == 0 {
			return tx.Model(role).Association("Permissions").Clear()
		}
		perms, err := resolveGrants(tx, names)
		if err != nil {
			return err
		}
		if err := tx.Model(role).Association("Permissions").Replace(perms); err != nil {
			return fmt.Errorf("role service: update permissions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	applied := append([]string(nil), names...)
	sort.Strings(applied)
	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "role.set_permissions",
		Resource: role.ID,
		Result:   models.AuditResultSuccess,
		Metadata: map[string]any{"permissions": applied},
	})

	notify(s.notifier, ctx, PermissionChange{RoleID: role.ID})
	return s.Get(ctx, id)
}

// resolveGrants loads the active catalog rows for canonical names. Every name
// must resolve; legacy spellings are rejected with the canonical suggestion.
func resolveGrants(tx *gorm.DB, names []string) ([]models.Permission, error) {
	canonical := make([]string, 0, len(names))
	for _, raw := range names {
		parsed, err := permissions.ParseName(raw)
		if err != nil {
			return nil, apperrors.NewBadRequest(err.Error())
		}
		canonical = append(canonical, parsed.String())
	}

	var perms []models.Permission
	if err := tx.Where("name IN ? AND is_active = ?", canonical, true).Find(&perms).Error; err != nil {
		return nil, fmt.Errorf("role service: load permissions: %w", err)
	}

	found := make(map[string]struct{}, len(perms))
	for _, perm := range perms {
		found[perm.Name] = struct{}{}
	}
	var missing []string
	for _, name := range canonical {
		if _, ok := found[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("%s: %s", permissions.ErrUnknownPermission.Error(), strings.Join(missing, ", ")))
	}
	return perms, nil
}
