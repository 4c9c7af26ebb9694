package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gorm.io/gorm"

	"github.com/charlesng35/casedesk/internal/models"
	apperrors "github.com/charlesng35/casedesk/pkg/errors"
)

var (
	// ErrTeamNotFound indicates the requested team does not exist.
	ErrTeamNotFound = apperrors.New("TEAM_NOT_FOUND", "Team not found", http.StatusNotFound)
	// ErrTeamMemberAlreadyExists signals the user is already a member of the team.
	ErrTeamMemberAlreadyExists = apperrors.New("TEAM_MEMBER_EXISTS", "User already assigned to team", http.StatusConflict)
	// ErrTeamMemberNotFound indicates the requested membership does not exist.
	ErrTeamMemberNotFound = apperrors.New("TEAM_MEMBER_NOT_FOUND", "User is not a member of the team", http.StatusNotFound)
)

// CreateTeamInput captures new team metadata.
type CreateTeamInput struct {
	Name        string
	Description string
}

// UpdateTeamInput describes mutable team fields.
type UpdateTeamInput struct {
	Name        *string
	Description *string
}

// TeamService handles team lifecycle and membership. It also answers team
// scope questions for the scope resolver.
type TeamService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewTeamService constructs a TeamService instance.
func NewTeamService(db *gorm.DB, audit *AuditService) (*TeamService, error) {
	if db == nil {
		return nil, errors.New("team service: db is required")
	}
	return &TeamService{db: db, audit: audit}, nil
}

// Create registers a new team.
func (s *TeamService) Create(ctx context.Context, input CreateTeamInput) (*models.Team, error) {
	ctx = ensureContext(ctx)

	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperrors.NewBadRequest("team name is required")
	}

	team := &models.Team{
		Name:        name,
		Description: strings.TrimSpace(input.Description),
	}

	if err := s.db.WithContext(ctx).Create(team).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewConflict("team name already exists")
		}
		return nil, fmt.Errorf("team service: create team: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "team.create",
		Resource: team.ID,
		Result:   models.AuditResultSuccess,
		Metadata: map[string]any{"name": team.Name},
	})

	return team, nil
}

// Update modifies team metadata.
func (s *TeamService) Update(ctx context.Context, id string, input UpdateTeamInput) (*models.Team, error) {
	ctx = ensureContext(ctx)

	team, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.Name != nil {
		if name := strings.TrimSpace(*input.Name); name != "" && name != team.Name {
			updates["name"] = name
		}
	}
	if input.Description != nil {
		updates["description"] = strings.TrimSpace(*input.Description)
	}

	if len(updates) == 0 {
		return team, nil
	}

	if err := s.db.WithContext(ctx).Model(team).Updates(updates).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, apperrors.NewConflict("team name already exists")
		}
		return nil, fmt.Errorf("team service: update team: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "team.update",
		Resource: team.ID,
		Result:   models.AuditResultSuccess,
		Metadata: updates,
	})

	return s.GetByID(ctx, id)
}

// GetByID loads a team with its members.
func (s *TeamService) GetByID(ctx context.Context, id string) (*models.Team, error) {
	ctx = ensureContext(ctx)

	var team models.Team
	err := s.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB { return db.Order("email ASC") }).
		First(&team, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTeamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("team service: get team: %w", err)
	}
	return &team, nil
}

// List returns every team ordered by name.
func (s *TeamService) List(ctx context.Context) ([]models.Team, error) {
	ctx = ensureContext(ctx)

	var teams []models.Team
	if err := s.db.WithContext(ctx).
		Preload("Members").
		Order("name ASC").
		Find(&teams).Error; err != nil {
		return nil, fmt.Errorf("team service: list teams: %w", err)
	}
	return teams, nil
}

// Delete removes a team and its memberships.
func (s *TeamService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	team, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(team).Association("Members").Clear(); err != nil {
			return fmt.Errorf("team service: clear members: %w", err)
		}
		if err := tx.Delete(team).Error; err != nil {
			return fmt.Errorf("team service: delete team: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "team.delete",
		Resource: team.ID,
		Result:   models.AuditResultSuccess,
		Metadata: map[string]any{"name": team.Name},
	})

	return nil
}

// AddMember attaches a user to a team.
func (s *TeamService) AddMember(ctx context.Context, teamID, userID string) error {
	ctx = ensureContext(ctx)

	team, user, err := s.membership(ctx, teamID, userID)
	if err != nil {
		return err
	}

	exists, err := s.isMember(ctx, team.ID, user.ID)
	if err != nil {
		return err
	}
	if exists {
		return ErrTeamMemberAlreadyExists
	}

	if err := s.db.WithContext(ctx).Model(team).Association("Members").Append(user); err != nil {
		return fmt.Errorf("team service: append member: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "team.add_member",
		Resource: team.ID,
		Result:   models.AuditResultSuccess,
		Metadata: map[string]any{"user_id": user.ID},
	})
	return nil
}

// RemoveMember detaches a user from a team.
func (s *TeamService) RemoveMember(ctx context.Context, teamID, userID string) error {
	ctx = ensureContext(ctx)

	team, user, err := s.membership(ctx, teamID, userID)
	if err != nil {
		return err
	}

	exists, err := s.isMember(ctx, team.ID, user.ID)
	if err != nil {
		return err
	}
	if !exists {
		return ErrTeamMemberNotFound
	}

	if err := s.db.WithContext(ctx).Model(team).Association("Members").Delete(user); err != nil {
		return fmt.Errorf("team service: remove member: %w", err)
	}

	recordAudit(s.audit, ctx, AuditEntry{
		Action:   "team.remove_member",
		Resource: team.ID,
		Result:   models.AuditResultSuccess,
		Metadata: map[string]any{"user_id": user.ID},
	})
	return nil
}

// ListMembers returns the users assigned to a team.
func (s *TeamService) ListMembers(ctx context.Context, teamID string) ([]models.User, error) {
	team, err := s.GetByID(ctx, teamID)
	if err != nil {
		return nil, err
	}
	return team.Members, nil
}

// SharesTeam reports whether two users are members of at least one common team.
func (s *TeamService) SharesTeam(ctx context.Context, userID, otherUserID string) (bool, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	otherUserID = strings.TrimSpace(otherUserID)
	if userID == "" || otherUserID == "" {
		return false, nil
	}

	var count int64
	err := s.db.WithContext(ctx).
		Table("user_teams AS mine").
		Joins("JOIN user_teams AS theirs ON theirs.team_id = mine.team_id").
		Where("mine.user_id = ? AND theirs.user_id = ?", userID, otherUserID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("team service: shared teams: %w", err)
	}
	return count > 0, nil
}

func (s *TeamService) load(ctx context.Context, id string) (*models.Team, error) {
	var team models.Team
	err := s.db.WithContext(ctx).First(&team, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTeamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("team service: load team: %w", err)
	}
	return &team, nil
}

func (s *TeamService) membership(ctx context.Context, teamID, userID string) (*models.Team, *models.User, error) {
	teamID = strings.TrimSpace(teamID)
	userID = strings.TrimSpace(userID)
	if teamID == "" || userID == "" {
		return nil, nil, apperrors.NewBadRequest("team id and user id are required")
	}

	team, err := s.load(ctx, teamID)
	if err != nil {
		return nil, nil, err
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrUserNotFound
		}
		return nil, nil, fmt.Errorf("team service: load user: %w", err)
	}
	return team, &user, nil
}

func (s *TeamService) isMember(ctx context.Context, teamID, userID string) (bool, error) {
	var existing int64
	if err := s.db.WithContext(ctx).
		Table("user_teams").
		Where("team_id = ? AND user_id = ?", teamID, userID).
		Count(&existing).Error; err != nil {
		return false, fmt.Errorf("team service: check membership: %w", err)
	}
	return existing > 0, nil
}
