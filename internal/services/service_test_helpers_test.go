package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/casedesk/internal/database/testutil"
	"github.com/charlesng35/casedesk/internal/models"
	"github.com/charlesng35/casedesk/pkg/crypto"
)

type recordingNotifier struct {
	mu      sync.Mutex
	changes []PermissionChange
}

func (n *recordingNotifier) PermissionsChanged(_ context.Context, change PermissionChange) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, change)
}

func (n *recordingNotifier) Changes() []PermissionChange {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]PermissionChange(nil), n.changes...)
}

func openSeededDB(t *testing.T) (*gorm.DB, *AuditService) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	audit, err := NewAuditService(db)
	require.NoError(t, err)
	return db, audit
}

func seedUser(t *testing.T, db *gorm.DB, email, roleID string) *models.User {
	t.Helper()

	hashed, err := crypto.HashPassword("password")
	require.NoError(t, err)

	user := &models.User{
		Email:    email,
		FullName: email,
		Password: hashed,
		RoleID:   roleID,
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func auditActions(t *testing.T, db *gorm.DB, result string) []string {
	t.Helper()

	var actions []string
	require.NoError(t, db.Model(&models.AuditLog{}).
		Where("result = ?", result).
		Order("created_at ASC").
		Pluck("action", &actions).Error)
	return actions
}
