package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/casedesk/internal/models"
	"github.com/charlesng35/casedesk/internal/permissions"
	apperrors "github.com/charlesng35/casedesk/pkg/errors"
)

var (
	// ErrPermissionNotFound indicates the requested catalog entry does not exist.
	ErrPermissionNotFound = apperrors.New("PERMISSION_NOT_FOUND", "Permission not found", http.StatusNotFound)
	// ErrSystemPermissionImmutable prevents renaming or deleting built-in permissions.
	ErrSystemPermissionImmutable = apperrors.New("PERMISSION_IMMUTABLE", "Built-in permissions cannot be renamed or deleted", http.StatusBadRequest)
	// ErrPermissionNameTaken signals another active permission already uses the name.
	ErrPermissionNameTaken = apperrors.New("PERMISSION_NAME_TAKEN", "An active permission with this name already exists", http.StatusConflict)
)

// CreatePermissionInput describes a new catalog entry.
type CreatePermissionInput struct {
	Name        string
	Description string
	IsActive    *bool
}

// UpdatePermissionInput enumerates mutable catalog fields.
type UpdatePermissionInput struct {
	Name        *string
	Description *string
	IsActive    *bool
}

// PermissionFilters narrows catalog listings.
type PermissionFilters struct {
	Module   string
	Scope    string
	IsActive *bool
}

// PermissionService maintains the permission catalog table. Names are unique
// among active entries; an inactive duplicate may coexist.
type PermissionService struct {
	db       *gorm.DB
	audit    *AuditService
	notifier PermissionNotifier
}

// NewPermissionService constructs a PermissionService.
func NewPermissionService(db *gorm.DB, audit *AuditService, notifier PermissionNotifier) (*PermissionService, error) {
	if db == nil {
		return nil, errors.New("permission service: db is required")
	}
	return &PermissionService{db: db, audit: audit, notifier: notifier}, nil
}

// List returns catalog entries ordered by name.
func (s *PermissionService) List(ctx context.Context, filters PermissionFilters) ([]models.Permission, error) {
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Model(&models.Permission{})
	if module := strings.TrimSpace(filters.Module); module != "" {
		query = query.Where("module = ?", module)
	}
	if scope := strings.TrimSpace(filters.Scope); scope != "" {
		query = query.Where("scope = ?", scope)
	}
	if filters.IsActive != nil {
		query = query.Where("is_active = ?", *filters.IsActive)
	}

	var perms []models.Permission
	if err := query.Order("name ASC").Order("id ASC").Find(&perms).Error; err != nil {
		return nil, fmt.Errorf("permission service: list permissions: %w", err)
	}
	return perms, nil
}

// Get loads a catalog entry by ID.
func (s *PermissionService) Get(ctx context.Context, id string) (*models.Permission, error) {
	ctx = ensureContext(ctx)

	var perm models.Permission
	err := s.db.WithContext(ctx).First(&perm, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPermissionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("permission service: load permission: %w", err)
	}
	return &perm, nil
}

// Create adds a custom catalog entry.
func (s *PermissionService) Create(ctx context.Context, input CreatePermissionInput) (*models.Permission, error) {
	ctx = ensureContext(ctx)

	name, err := permissions.ParseName(input.Name)
	if err != nil {
		return nil, apperrors.NewBadRequest(err.Error())
	}

	perm := &models.Permission{
		Name:        name.String(),
		Module:      name.Module,
		Action:      name.Action,
		Scope:       name.Scope,
		Description: strings.TrimSpace(input.Description),
		IsActive:    true,
	}
	if input.IsActive != nil {
		perm.IsActive = *input.IsActive
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if perm.IsActive {
			if err := ensureNameAvailable(tx, perm.Name, ""); err != nil {
				return err
			}
		}
		return tx.Create(perm).Error
	})
	if err != nil {
		if errors.Is(err, ErrPermissionNameTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("permission service: create permission: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "permission.create",
		Resource: perm.ID,
		Result:   models.AuditResultSuccess,
		Metadata: map[string]any{"name": perm.Name, "is_active": perm.IsActive},
	})
	notify(s.notifier, ctx, PermissionChange{})
	return perm, nil
}

// Update edits a catalog entry. Built-in entries may change description and
// activation but keep their name.
func (s *PermissionService) Update(ctx context.Context, id string, input UpdatePermissionInput) (*models.Permission, error) {
	ctx = ensureContext(ctx)

	perm, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	finalName := perm.Name
	finalActive := perm.IsActive

	if input.Name != nil {
		parsed, err := permissions.ParseName(*input.Name)
		if err != nil {
			return nil, apperrors.NewBadRequest(err.Error())
		}
		if parsed.String() != perm.Name {
			if perm.IsSystem {
				return nil, ErrSystemPermissionImmutable
			}
			finalName = parsed.String()
			updates["name"] = finalName
			updates["module"] = parsed.Module
			updates["action"] = parsed.Action
			updates["scope"] = parsed.Scope
		}
	}
	if input.Description != nil {
		if desc := strings.TrimSpace(*input.Description); desc != perm.Description {
			updates["description"] = desc
		}
	}
	if input.IsActive != nil && *input.IsActive != perm.IsActive {
		finalActive = *input.IsActive
		updates["is_active"] = finalActive
	}

	if len(updates) == 0 {
		return perm, nil
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if finalActive {
			if err := ensureNameAvailable(tx, finalName, perm.ID); err != nil {
				return err
			}
		}
		return tx.Model(perm).Omit(clause.Associations).Updates(updates).Error
	})
	if err != nil {
		if errors.Is(err, ErrPermissionNameTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("permission service: update permission: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "permission.update",
		Resource: perm.ID,
		Result:   models.AuditResultSuccess,
		Metadata: updates,
	})
	notify(s.notifier, ctx, PermissionChange{})
	return s.Get(ctx, id)
}

// Delete removes a custom catalog entry together with its role grants.
func (s *PermissionService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	perm, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if perm.IsSystem {
		return ErrSystemPermissionImmutable
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(perm).Association("Roles").Clear(); err != nil {
			return fmt.Errorf("permission service: clear role links: %w", err)
		}
		if err := tx.Delete(perm).Error; err != nil {
			return fmt.Errorf("permission service: delete permission: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "permission.delete",
		Resource: perm.ID,
		Result:   models.AuditResultSuccess,
		Metadata: map[string]any{"name": perm.Name},
	})
	notify(s.notifier, ctx, PermissionChange{})
	return nil
}

func ensureNameAvailable(tx *gorm.DB, name, exceptID string) error {
	query := tx.Model(&models.Permission{}).Where("name = ? AND is_active = ?", name, true)
	if exceptID != "" {
		query = query.Where("id <> ?", exceptID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrPermissionNameTaken
	}
	return nil
}
