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
	// ErrCaseNotFound indicates the requested case does not exist.
	ErrCaseNotFound = apperrors.New("CASE_NOT_FOUND", "Case not found", http.StatusNotFound)
	// ErrInvalidCaseStatus rejects statuses outside the known set.
	ErrInvalidCaseStatus = apperrors.New("CASE_INVALID_STATUS", "Unknown case status", http.StatusBadRequest)
)

// CreateCaseInput describes a new case. OwnerID defaults to the acting user.
type CreateCaseInput struct {
	Title       string
	Description string
	Status      string
	OwnerID     string
}

// UpdateCaseInput enumerates mutable case fields. Changing OwnerID reassigns
// the case and requires edit scope over both owners.
type UpdateCaseInput struct {
	Title       *string
	Description *string
	Status      *string
	OwnerID     *string
}

// CaseFilters narrows case listings.
type CaseFilters struct {
	Status  string
	OwnerID string
}

// ListCasesOptions controls pagination for case listing.
type ListCasesOptions struct {
	Page     int
	PageSize int
	Filters  CaseFilters
}

// CaseService manages cases. Every operation is checked with the scope
// resolver against the case owner.
type CaseService struct {
	db    *gorm.DB
	audit *AuditService
	scope *permissions.ScopeResolver
}

// NewCaseService constructs a CaseService.
func NewCaseService(db *gorm.DB, audit *AuditService, scope *permissions.ScopeResolver) (*CaseService, error) {
	if db == nil {
		return nil, errors.New("case service: db is required")
	}
	if scope == nil {
		scope = permissions.NewScopeResolver()
	}
	return &CaseService{db: db, audit: audit, scope: scope}, nil
}

// Create opens a case owned by input.OwnerID or the subject.
func (s *CaseService) Create(ctx context.Context, subject permissions.Subject, input CreateCaseInput) (*models.Case, error) {
	ctx = ensureContext(ctx)

	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, apperrors.NewBadRequest("case title is required")
	}
	status := strings.TrimSpace(input.Status)
	if status == "" {
		status = models.CaseStatusOpen
	}
	if !models.ValidCaseStatus(status) {
		return nil, ErrInvalidCaseStatus
	}
	owner := strings.TrimSpace(input.OwnerID)
	if owner == "" {
		owner = subject.UserID
	}

	if err := s.authorize(ctx, subject, permissions.ActionCreate, owner, ""); err != nil {
		return nil, err
	}
	if err := s.ensureOwner(ctx, owner); err != nil {
		return nil, err
	}

	record := &models.Case{
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Status:      status,
		OwnerID:     owner,
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("case service: create case: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "case.create",
		Resource: record.ID,
		Result:   models.AuditResultSuccess,
		Metadata: map[string]any{"owner_id": owner},
	})
	return record, nil
}

// Get returns a case the subject may view.
func (s *CaseService) Get(ctx context.Context, subject permissions.Subject, id string) (*models.Case, error) {
	ctx = ensureContext(ctx)

	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, subject, permissions.ActionView, record.OwnerID, record.ID); err != nil {
		return nil, err
	}
	return record, nil
}

// List returns the cases visible under the broadest view scope the subject holds.
func (s *CaseService) List(ctx context.Context, subject permissions.Subject, opts ListCasesOptions) ([]models.Case, int64, error) {
	ctx = ensureContext(ctx)
	page, perPage := paging(opts.Page, opts.PageSize)

	query := s.db.WithContext(ctx).Model(&models.Case{})

	switch s.scope.Scope(ctx, subject, permissions.ModuleCases, permissions.ActionView) {
	case models.ScopeAll:
	case models.ScopeTeam:
		if s.scope.NarrowsTeams() {
			mates := s.db.WithContext(ctx).Table("user_teams AS mine").
				Select("theirs.user_id").
				Joins("JOIN user_teams AS theirs ON theirs.team_id = mine.team_id").
				Where("mine.user_id = ?", subject.UserID)
			query = query.Where("owner_id = ? OR owner_id IN (?)", subject.UserID, mates)
		}
	case models.ScopeOwn:
		query = query.Where("owner_id = ?", subject.UserID)
	default:
		return nil, 0, apperrors.ErrForbidden
	}

	if status := strings.TrimSpace(opts.Filters.Status); status != "" {
		query = query.Where("status = ?", status)
	}
	if owner := strings.TrimSpace(opts.Filters.OwnerID); owner != "" {
		query = query.Where("owner_id = ?", owner)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("case service: count cases: %w", err)
	}

	var cases []models.Case
	if err := query.
		Preload("Owner").
		Order("updated_at DESC").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&cases).Error; err != nil {
		return nil, 0, fmt.Errorf("case service: list cases: %w", err)
	}
	return cases, total, nil
}

// Update edits a case the subject may edit.
func (s *CaseService) Update(ctx context.Context, subject permissions.Subject, id string, input UpdateCaseInput) (*models.Case, error) {
	ctx = ensureContext(ctx)

	record, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, subject, permissions.ActionEdit, record.OwnerID, record.ID); err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.Title != nil {
		title := strings.TrimSpace(*input.Title)
		if title == "" {
			return nil, apperrors.NewBadRequest("case title is required")
		}
		if title != record.Title {
			updates["title"] = title
		}
	}
	if input.Description != nil {
		if desc := strings.TrimSpace(*input.Description); desc != record.Description {
			updates["description"] = desc
		}
	}
	if input.Status != nil {
		status := strings.TrimSpace(*input.Status)
		if !models.ValidCaseStatus(status) {
			return nil, ErrInvalidCaseStatus
		}
		if status != record.Status {
			updates["status"] = status
		}
	}
	if input.OwnerID != nil {
		owner := strings.TrimSpace(*input.OwnerID)
		if owner != "" && owner != record.OwnerID {
			if err := s.authorize(ctx, subject, permissions.ActionEdit, owner, record.ID); err != nil {
				return nil, err
			}
			if err := s.ensureOwner(ctx, owner); err != nil {
				return nil, err
			}
			updates["owner_id"] = owner
		}
	}

	if len(updates) == 0 {
		return record, nil
	}

	if err := s.db.WithContext(ctx).Model(record).Omit(clause.Associations).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("case service: update case: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "case.update",
		Resource: record.ID,
		Result:   models.AuditResultSuccess,
		Metadata: updates,
	})
	return s.load(ctx, id)
}

// Delete removes a case the subject may delete.
func (s *CaseService) Delete(ctx context.Context, subject permissions.Subject, id string) error {
	ctx = ensureContext(ctx)

	record, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorize(ctx, subject, permissions.ActionDelete, record.OwnerID, record.ID); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Delete(record).Error; err != nil {
		return fmt.Errorf("case service: delete case: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "case.delete",
		Resource: record.ID,
		Result:   models.AuditResultSuccess,
		Metadata: map[string]any{"owner_id": record.OwnerID},
	})
	return nil
}

func (s *CaseService) authorize(ctx context.Context, subject permissions.Subject, action, ownerID, caseID string) error {
	if s.scope.Check(ctx, subject, permissions.ModuleCases, action, ownerID) {
		return nil
	}
	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "case." + action,
		Resource: caseID,
		Result:   models.AuditResultDenied,
		Metadata: map[string]any{"owner_id": ownerID},
	})
	return apperrors.ErrForbidden
}

func (s *CaseService) load(ctx context.Context, id string) (*models.Case, error) {
	var record models.Case
	err := s.db.WithContext(ctx).Preload("Owner").First(&record, "id = ?", strings.TrimSpace(id)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("case service: load case: %w", err)
	}
	return &record, nil
}

func (s *CaseService) ensureOwner(ctx context.Context, ownerID string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", ownerID).Count(&count).Error; err != nil {
		return fmt.Errorf("case service: load owner: %w", err)
	}
	if count == 0 {
		return apperrors.NewBadRequest("case owner does not exist")
	}
	return nil
}
