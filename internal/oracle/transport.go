package oracle

import (
	"context"
	"errors"
	"strings"
)

// ErrAuthExpired reports that the session behind a transport is no longer
// authenticated. The oracle treats it as a denial and fires OnAuthExpired.
var ErrAuthExpired = errors.New("oracle: authentication expired")

// Transport performs the remote (or in-process) permission round-trips.
type Transport interface {
	CheckPermission(ctx context.Context, name string) (bool, error)
	CheckModuleAccess(ctx context.Context, module string) (bool, error)
}

// PermissionChecker is the server-side source of truth a CheckerTransport delegates to.
type PermissionChecker interface {
	Check(ctx context.Context, userID, name string) (bool, error)
	CheckModule(ctx context.Context, userID, module string) (bool, error)
}

// CheckerTransport answers oracle fetches in-process for one user.
type CheckerTransport struct {
	checker PermissionChecker
	userID  string
}

// NewCheckerTransport binds a checker to a user.
func NewCheckerTransport(checker PermissionChecker, userID string) (*CheckerTransport, error) {
	if checker == nil {
		return nil, errors.New("oracle: checker is required")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("oracle: user id is required")
	}
	return &CheckerTransport{checker: checker, userID: userID}, nil
}

func (t *CheckerTransport) CheckPermission(ctx context.Context, name string) (bool, error) {
	return t.checker.Check(ctx, t.userID, name)
}

func (t *CheckerTransport) CheckModuleAccess(ctx context.Context, module string) (bool, error) {
	return t.checker.CheckModule(ctx, t.userID, module)
}
