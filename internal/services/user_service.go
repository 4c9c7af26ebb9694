package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/casedesk/internal/auditctx"
	"github.com/charlesng35/casedesk/internal/models"
	"github.com/charlesng35/casedesk/pkg/crypto"
	apperrors "github.com/charlesng35/casedesk/pkg/errors"
)

var (
	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = apperrors.New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
	// ErrLastAdministrator protects the only remaining active administrator.
	ErrLastAdministrator = apperrors.New("USER_LAST_ADMIN", "The last active administrator cannot be removed or demoted", http.StatusBadRequest)
	// ErrSelfDeactivation prevents users from locking themselves out.
	ErrSelfDeactivation = apperrors.New("USER_SELF_DEACTIVATION", "You cannot deactivate or delete your own account", http.StatusBadRequest)
	// ErrUserOwnsCases blocks deleting users that still own cases.
	ErrUserOwnsCases = apperrors.New("USER_OWNS_CASES", "User still owns cases; deactivate the account instead", http.StatusConflict)
)

// SessionRevoker terminates a user's login sessions.
type SessionRevoker interface {
	RevokeUserSessions(ctx context.Context, userID string) ([]string, error)
}

// CreateUserInput describes the fields accepted when creating a user.
type CreateUserInput struct {
	Email    string
	FullName string
	Password string
	RoleID   string
	IsActive *bool
}

// UpdateUserInput enumerates mutable profile attributes.
type UpdateUserInput struct {
	Email    *string
	FullName *string
}

// UserFilters captures listing filters.
type UserFilters struct {
	IsActive *bool
	RoleID   string
	Query    string
}

// ListUsersOptions controls pagination for user listing.
type ListUsersOptions struct {
	Page     int
	PageSize int
	Filters  UserFilters
}

// UserService manages accounts, their single role and activation.
type UserService struct {
	db       *gorm.DB
	audit    *AuditService
	notifier PermissionNotifier
	sessions SessionRevoker
}

// NewUserService constructs a UserService. notifier and sessions may be nil.
func NewUserService(db *gorm.DB, audit *AuditService, notifier PermissionNotifier, sessions SessionRevoker) (*UserService, error) {
	if db == nil {
		return nil, errors.New("user service: db is required")
	}
	return &UserService{db: db, audit: audit, notifier: notifier, sessions: sessions}, nil
}

// Create provisions a user with a hashed password. RoleID defaults to the user role.
func (s *UserService) Create(ctx context.Context, input CreateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" {
		return nil, apperrors.NewBadRequest("email is required")
	}
	if input.Password == "" {
		return nil, apperrors.NewBadRequest("password is required")
	}

	hashed, err := crypto.HashPassword(input.Password)
	if errors.Is(err, crypto.ErrPasswordTooShort) {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("password must be at least %d characters", crypto.MinPasswordLength))
	}
	if err != nil {
		return nil, fmt.Errorf("user service: hash password: %w", err)
	}

	roleID := strings.TrimSpace(input.RoleID)
	if roleID == "" {
		roleID = models.UserRoleID
	}

	user := &models.User{
		Email:    email,
		FullName: strings.TrimSpace(input.FullName),
		Password: hashed,
		RoleID:   roleID,
		IsActive: true,
	}
	if input.IsActive != nil {
		user.IsActive = *input.IsActive
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		role, err := loadRole(tx, roleID)
		if err != nil {
			return err
		}
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		user.Role = role
		return nil
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewConflict("email already exists")
		}
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, fmt.Errorf("user service: create user: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "user.create",
		Resource: user.ID,
		Result:   models.AuditResultSuccess,
		Metadata: map[string]any{"email": user.Email, "role_id": user.RoleID},
	})

	return user, nil
}

// GetByID loads a user with role and teams.
func (s *UserService) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx = ensureContext(ctx)

	var user models.User
	err := s.db.WithContext(ctx).
		Preload("Role").
		Preload("Teams").
		First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: get user: %w", err)
	}
	return &user, nil
}

// List retrieves users matching the filters with pagination.
func (s *UserService) List(ctx context.Context, opts ListUsersOptions) ([]models.User, int64, error) {
	ctx = ensureContext(ctx)
	page, perPage := paging(opts.Page, opts.PageSize)

	query := s.db.WithContext(ctx).Model(&models.User{})
	if opts.Filters.IsActive != nil {
		query = query.Where("is_active = ?", *opts.Filters.IsActive)
	}
	if roleID := strings.TrimSpace(opts.Filters.RoleID); roleID != "" {
		query = query.Where("role_id = ?", roleID)
	}
	if q := strings.TrimSpace(opts.Filters.Query); q != "" {
		pattern := "%" + strings.ToLower(q) + "%"
		query = query.Where("LOWER(email) LIKE ? OR LOWER(full_name) LIKE ?", pattern, pattern)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: count users: %w", err)
	}

	var users []models.User
	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Preload("Role").
		Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("user service: list users: %w", err)
	}

	return users, total, nil
}

// Update persists profile changes.
func (s *UserService) Update(ctx context.Context, id string, input UpdateUserInput) (*models.User, error) {
	ctx = ensureContext(ctx)

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.Email != nil {
		if email := strings.ToLower(strings.TrimSpace(*input.Email)); email != "" && email != user.Email {
			updates["email"] = email
		}
	}
	if input.FullName != nil {
		if name := strings.TrimSpace(*input.FullName); name != user.FullName {
			updates["full_name"] = name
		}
	}

	if len(updates) == 0 {
		return user, nil
	}

	if err := s.db.WithContext(ctx).Model(user).Omit(clause.Associations).Updates(updates).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewConflict("email already exists")
		}
		return nil, fmt.Errorf("user service: update user: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "user.update",
		Resource: user.ID,
		Result:   models.AuditResultSuccess,
		Metadata: updates,
	})

	return s.GetByID(ctx, id)
}

// SetRole assigns the user's single role and refreshes their live sessions.
func (s *UserService) SetRole(ctx context.Context, id, roleID string) (*models.User, error) {
	ctx = ensureContext(ctx)

	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, apperrors.NewBadRequest("role id is required")
	}

	var previous string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := loadUser(tx, id)
		if err != nil {
			return err
		}
		previous = user.RoleID
		if previous == roleID {
			return nil
		}
		if _, err := loadRole(tx, roleID); err != nil {
			return err
		}
		if user.IsAdministrator() && user.IsActive {
			if err := ensureAnotherAdmin(tx, user.ID); err != nil {
				return err
			}
		}
		return tx.Model(user).Omit(clause.Associations).Update("role_id", roleID).Error
	})
	if err != nil {
		return nil, err
	}

	user, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if previous == roleID {
		return user, nil
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "user.set_role",
		Resource: user.ID,
		Result:   models.AuditResultSuccess,
		Metadata: map[string]any{"from": previous, "to": roleID},
	})
	notify(s.notifier, ctx, PermissionChange{UserID: user.ID, RoleID: user.RoleID, RoleName: user.RoleName()})

	return user, nil
}

// SetActive toggles an account. Deactivation revokes every session of the user.
func (s *UserService) SetActive(ctx context.Context, id string, active bool) error {
	ctx = ensureContext(ctx)

	if !active && isActor(ctx, id) {
		return ErrSelfDeactivation
	}

	var changed bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := loadUser(tx, id)
		if err != nil {
			return err
		}
		if user.IsActive == active {
			return nil
		}
		if !active && user.IsAdministrator() {
			if err := ensureAnotherAdmin(tx, user.ID); err != nil {
				return err
			}
		}
		changed = true
		return tx.Model(user).Omit(clause.Associations).Update("is_active", active).Error
	})
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	action := "user.activate"
	if !active {
		action = "user.deactivate"
		s.revokeSessions(ctx, id)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   action,
		Resource: id,
		Result:   models.AuditResultSuccess,
	})
	notify(s.notifier, ctx, PermissionChange{UserID: id, Revoked: !active})

	return nil
}

// ChangePassword hashes and stores a new password.
func (s *UserService) ChangePassword(ctx context.Context, id, newPassword string) error {
	ctx = ensureContext(ctx)

	if newPassword == "" {
		return apperrors.NewBadRequest("new password is required")
	}

	hashed, err := crypto.HashPassword(newPassword)
	if errors.Is(err, crypto.ErrPasswordTooShort) {
		return apperrors.NewBadRequest(fmt.Sprintf("password must be at least %d characters", crypto.MinPasswordLength))
	}
	if err != nil {
		return fmt.Errorf("user service: hash new password: %w", err)
	}

	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", id).
		Update("password", hashed)
	if result.Error != nil {
		return fmt.Errorf("user service: change password: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "user.password_change",
		Resource: id,
		Result:   models.AuditResultSuccess,
	})

	return nil
}

// Delete removes a user who owns no cases. Their sessions and team memberships go with them.
func (s *UserService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	if isActor(ctx, id) {
		return ErrSelfDeactivation
	}

	var email string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := loadUser(tx, id)
		if err != nil {
			return err
		}
		email = user.Email
		if user.IsAdministrator() && user.IsActive {
			if err := ensureAnotherAdmin(tx, user.ID); err != nil {
				return err
			}
		}

		var owned int64
		if err := tx.Model(&models.Case{}).Where("owner_id = ?", user.ID).Count(&owned).Error; err != nil {
			return fmt.Errorf("user service: count cases: %w", err)
		}
		if owned > 0 {
			return ErrUserOwnsCases
		}

		if err := tx.Model(user).Association("Teams").Clear(); err != nil {
			return fmt.Errorf("user service: clear user teams: %w", err)
		}
		if err := tx.Where("user_id = ?", user.ID).Delete(&models.Session{}).Error; err != nil {
			return fmt.Errorf("user service: delete sessions: %w", err)
		}
		if err := tx.Delete(user).Error; err != nil {
			return fmt.Errorf("user service: delete user: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "user.delete",
		Resource: id,
		Result:   models.AuditResultSuccess,
		Metadata: map[string]any{"email": email},
	})
	notify(s.notifier, ctx, PermissionChange{UserID: id, Revoked: true})

	return nil
}

func (s *UserService) revokeSessions(ctx context.Context, userID string) {
	if s.sessions == nil {
		return
	}
	if _, err := s.sessions.RevokeUserSessions(ctx, userID); err != nil {
		recordAudit(s.audit, ctx, AuditEntry{
			Action:   "user.revoke_sessions",
			Resource: userID,
			Result:   models.AuditResultFailure,
			Metadata: map[string]any{"error": err.Error()},
		})
	}
}

func loadUser(tx *gorm.DB, id string) (*models.User, error) {
	var user models.User
	err := tx.Preload("Role").First(&user, "id = ?", strings.TrimSpace(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: load user: %w", err)
	}
	return &user, nil
}

func loadRole(tx *gorm.DB, id string) (*models.Role, error) {
	var role models.Role
	err := tx.First(&role, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRoleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user service: load role: %w", err)
	}
	return &role, nil
}

// ensureAnotherAdmin fails unless an active administrator other than userID exists.
func ensureAnotherAdmin(tx *gorm.DB, userID string) error {
	var count int64
	err := tx.Model(&models.User{}).
		Joins("JOIN roles ON roles.id = users.role_id").
		Where("roles.name = ? AND users.is_active = ? AND users.id <> ?", models.AdministratorRoleName, true, userID).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("user service: count administrators: %w", err)
	}
	if count == 0 {
		return ErrLastAdministrator
	}
	return nil
}

func isActor(ctx context.Context, userID string) bool {
	actor, ok := auditctx.FromContext(ctx)
	return ok && actor.UserID != "" && actor.UserID == strings.TrimSpace(userID)
}
