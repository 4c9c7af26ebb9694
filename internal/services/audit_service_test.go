package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/casedesk/internal/auditctx"
	"github.com/charlesng35/casedesk/internal/models"
)

func TestAuditServiceLogAndList(t *testing.T) {
	db, svc := openSeededDB(t)
	user := seedUser(t, db, "auditor@example.com", models.UserRoleID)
	ctx := context.Background()

	require.NoError(t, svc.Log(ctx, AuditEntry{
		UserID:   &user.ID,
		Actor:    user.Email,
		Action:   "user.create",
		Resource: "users",
		Result:   models.AuditResultSuccess,
		Metadata: map[string]any{"email": user.Email},
	}))
	require.NoError(t, svc.Log(ctx, AuditEntry{
		Action: "case.view",
		Result: models.AuditResultDenied,
	}))

	logs, total, err := svc.List(ctx, AuditListOptions{Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.EqualValues(t, 2, total)
	require.Len(t, logs, 2)

	logs, total, err = svc.List(ctx, AuditListOptions{Filters: AuditFilters{UserID: user.ID}})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "user.create", logs[0].Action)
	require.Equal(t, user.Email, logs[0].Actor)

	var metadata map[string]any
	require.NoError(t, json.Unmarshal(logs[0].Metadata, &metadata))
	require.Equal(t, user.Email, metadata["email"])

	_, total, err = svc.List(ctx, AuditListOptions{Filters: AuditFilters{Result: models.AuditResultDenied}})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
}

func TestAuditServiceRejectsIncompleteEntries(t *testing.T) {
	_, svc := openSeededDB(t)

	require.Error(t, svc.Log(context.Background(), AuditEntry{Result: models.AuditResultSuccess}))
	require.Error(t, svc.Log(context.Background(), AuditEntry{Action: "x"}))
}

func TestRecordAuditUsesContextActor(t *testing.T) {
	db, svc := openSeededDB(t)

	ctx := auditctx.WithActor(context.Background(), auditctx.Actor{
		UserID:    "actor-1",
		Email:     "actor@example.com",
		IPAddress: "203.0.113.9",
	})
	recordAudit(svc, ctx, AuditEntry{Action: "team.create", Result: models.AuditResultSuccess})

	var entry models.AuditLog
	require.NoError(t, db.Where("action = ?", "team.create").Take(&entry).Error)
	require.NotNil(t, entry.UserID)
	require.Equal(t, "actor-1", *entry.UserID)
	require.Equal(t, "actor@example.com", entry.Actor)
	require.Equal(t, "203.0.113.9", entry.IPAddress)

	recordAudit(nil, ctx, AuditEntry{Action: "ignored", Result: models.AuditResultSuccess})
}

func TestAuditServiceCleanupOlderThan(t *testing.T) {
	db, _ := openSeededDB(t)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	svc, err := NewAuditService(db, WithAuditClock(func() time.Time { return now }))
	require.NoError(t, err)

	require.NoError(t, db.Create(&models.AuditLog{
		Action:    "old.action",
		Result:    models.AuditResultSuccess,
		CreatedAt: now.AddDate(0, 0, -10),
	}).Error)
	require.NoError(t, db.Create(&models.AuditLog{
		Action:    "recent.action",
		Result:    models.AuditResultSuccess,
		CreatedAt: now.AddDate(0, 0, -1),
	}).Error)

	rows, err := svc.CleanupOlderThan(context.Background(), 5)
	require.NoError(t, err)
	require.EqualValues(t, 1, rows)

	_, err = svc.CleanupOlderThan(context.Background(), 0)
	require.Error(t, err)
}
