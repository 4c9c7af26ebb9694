package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/charlesng35/casedesk/internal/realtime"
	"github.com/charlesng35/casedesk/pkg/logger"
)

// PermissionChange describes what changed. The zero value means the catalog
// changed and every subject is affected.
type PermissionChange struct {
	UserID   string
	RoleID   string
	RoleName string
	// Revoked marks a user whose sessions were terminated.
	Revoked bool
}

// PermissionNotifier is told about every change that can alter a permission
// decision.
type PermissionNotifier interface {
	PermissionsChanged(ctx context.Context, change PermissionChange)
}

// CacheInvalidator drops server-side cached permission sets.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// SessionOracles is the live session oracle registry.
type SessionOracles interface {
	RefreshUser(ctx context.Context, userID string) error
	RefreshRole(ctx context.Context, roleID string) error
	RefreshAll(ctx context.Context) error
	UpdateRole(userID, roleID, roleName string)
	CloseUser(userID string) int
}

// Broadcaster publishes realtime events.
type Broadcaster interface {
	BroadcastToUser(stream, userID string, message realtime.Message)
	BroadcastStream(stream string, message realtime.Message)
}

// AccessNotifier invalidates the checker cache, refreshes the affected session
// oracles, then tells connected clients so their own oracles refresh.
type AccessNotifier struct {
	checker CacheInvalidator
	oracles SessionOracles
	hub     Broadcaster
	log     *zap.Logger
}

// NewAccessNotifier wires the notifier. Any collaborator may be nil.
func NewAccessNotifier(checker CacheInvalidator, oracles SessionOracles, hub Broadcaster) *AccessNotifier {
	return &AccessNotifier{
		checker: checker,
		oracles: oracles,
		hub:     hub,
		log:     logger.WithModule("permissions"),
	}
}

// PermissionsChanged implements PermissionNotifier.
func (n *AccessNotifier) PermissionsChanged(ctx context.Context, change PermissionChange) {
	if n == nil {
		return
	}
	ctx = ensureContext(ctx)

	// The checker cache goes first so refreshed oracles read current grants.
	if n.checker != nil {
		if err := n.checker.Invalidate(ctx); err != nil {
			n.log.Warn("permission cache invalidation failed", zap.Error(err))
		}
	}

	switch {
	case change.UserID != "" && change.Revoked:
		if n.oracles != nil {
			n.oracles.CloseUser(change.UserID)
		}
		n.publishToUser(change.UserID, realtime.EventSessionLogout, change)
	case change.UserID != "":
		if n.oracles != nil {
			if change.RoleID != "" {
				n.oracles.UpdateRole(change.UserID, change.RoleID, change.RoleName)
			}
			n.refresh(n.oracles.RefreshUser(ctx, change.UserID), change)
		}
		n.publishToUser(change.UserID, realtime.EventPermissionsChanged, change)
	case change.RoleID != "":
		if n.oracles != nil {
			n.refresh(n.oracles.RefreshRole(ctx, change.RoleID), change)
		}
		n.publish(realtime.EventPermissionsChanged, change)
	default:
		if n.oracles != nil {
			n.refresh(n.oracles.RefreshAll(ctx), change)
		}
		n.publish(realtime.EventPermissionsChanged, change)
	}
}

func (n *AccessNotifier) refresh(err error, change PermissionChange) {
	if err != nil {
		n.log.Warn("session oracle refresh failed",
			zap.String("user_id", change.UserID),
			zap.String("role_id", change.RoleID),
			zap.Error(err))
	}
}

func (n *AccessNotifier) publishToUser(userID, event string, change PermissionChange) {
	if n.hub == nil {
		return
	}
	n.hub.BroadcastToUser(realtime.StreamPermissions, userID, realtime.Message{Event: event, Data: changePayload(change)})
}

func (n *AccessNotifier) publish(event string, change PermissionChange) {
	if n.hub == nil {
		return
	}
	n.hub.BroadcastStream(realtime.StreamPermissions, realtime.Message{Event: event, Data: changePayload(change)})
}

func changePayload(change PermissionChange) map[string]any {
	payload := map[string]any{}
	if change.UserID != "" {
		payload["user_id"] = change.UserID
	}
	if change.RoleID != "" {
		payload["role_id"] = change.RoleID
	}
	if change.UserID == "" && change.RoleID == "" {
		payload["catalog"] = true
	}
	return payload
}

func notify(n PermissionNotifier, ctx context.Context, change PermissionChange) {
	if n == nil {
		return
	}
	n.PermissionsChanged(ctx, change)
}
