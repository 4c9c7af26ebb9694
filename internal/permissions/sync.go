package permissions

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/casedesk/internal/models"
)

// Sync upserts the built-in catalog into the permissions table. Built-in rows use
// their name as a stable ID and are flagged as system permissions. An
// administrator's activation choice survives re-syncs.
func Sync(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("permission: db is required")
	}

	tx := db.WithContext(ensureContext(ctx))
	for _, name := range Names() {
		perm, _ := Get(name)
		record := models.Permission{
			BaseModel:   models.BaseModel{ID: perm.Name},
			Name:        perm.Name,
			Module:      perm.Module,
			Action:      perm.Action,
			Scope:       perm.Scope,
			Description: perm.Description,
			IsActive:    true,
			IsSystem:    true,
		}

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "module", "action", "scope", "description", "is_system", "updated_at"}),
		}).Create(&record).Error; err != nil {
			return fmt.Errorf("permission: sync %s: %w", perm.Name, err)
		}
	}

	return nil
}
