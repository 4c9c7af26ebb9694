package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/charlesng35/casedesk/internal/auditctx"
	"github.com/charlesng35/casedesk/pkg/logger"
)

// recordAudit logs the entry, filling the actor from the request context. Audit
// failures never fail the calling operation.
func recordAudit(audit *AuditService, ctx context.Context, entry AuditEntry) {
	if audit == nil {
		return
	}
	if actor, ok := auditctx.FromContext(ctx); ok {
		if entry.UserID == nil && actor.UserID != "" {
			id := actor.UserID
			entry.UserID = &id
		}
		if entry.Actor == "" {
			entry.Actor = actor.Email
		}
		if entry.IPAddress == "" {
			entry.IPAddress = actor.IPAddress
		}
		if entry.UserAgent == "" {
			entry.UserAgent = actor.UserAgent
		}
	}
	if err := audit.Log(ctx, entry); err != nil {
		logger.WithModule("audit").Warn("failed to record audit entry",
			zap.String("action", entry.Action),
			zap.Error(err))
	}
}
