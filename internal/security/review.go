package security

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/casedesk/internal/app"
	"github.com/charlesng35/casedesk/internal/models"
)

// Status is the verdict of a single review check.
type Status string

const (
	StatusPass Status = "pass"
	StatusWarn Status = "warn"
	StatusFail Status = "fail"
)

const maxRefreshTTL = 30 * 24 * time.Hour

// Finding is the result of one check.
type Finding struct {
	ID          string `json:"id"`
	Status      Status `json:"status"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
	Details     any    `json:"details,omitempty"`
}

// Report lists every finding with per-status counts.
type Report struct {
	CheckedAt time.Time      `json:"checked_at"`
	Findings  []Finding      `json:"findings"`
	Summary   map[Status]int `json:"summary"`
}

// Reviewer evaluates the access-control posture of a running deployment.
type Reviewer struct {
	db  *gorm.DB
	cfg *app.Config
	now func() time.Time
}

// NewReviewer builds a reviewer. Missing inputs turn the affected checks into warnings.
func NewReviewer(db *gorm.DB, cfg *app.Config) *Reviewer {
	return &Reviewer{db: db, cfg: cfg, now: time.Now}
}

// WithClock overrides the report timestamp source.
func (r *Reviewer) WithClock(clock func() time.Time) *Reviewer {
	if clock != nil {
		r.now = clock
	}
	return r
}

// Run executes every check.
func (r *Reviewer) Run(ctx context.Context) Report {
	if ctx == nil {
		ctx = context.Background()
	}

	findings := []Finding{
		r.activeAdministrator(ctx),
		r.jwtSecret(),
		r.refreshTTL(),
		r.loginThrottling(),
		r.teamScope(),
	}

	summary := map[Status]int{StatusPass: 0, StatusWarn: 0, StatusFail: 0}
	for _, f := range findings {
		summary[f.Status]++
	}
	return Report{CheckedAt: r.now().UTC(), Findings: findings, Summary: summary}
}

func (r *Reviewer) activeAdministrator(ctx context.Context) Finding {
	const id = "active_administrator"
	if r.db == nil {
		return Finding{ID: id, Status: StatusWarn, Message: "Database unavailable, administrator accounts not checked."}
	}

	var count int64
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("role_id = ? AND is_active = ?", models.AdminRoleID, true).
		Count(&count).Error
	switch {
	case err != nil:
		return Finding{ID: id, Status: StatusWarn, Message: fmt.Sprintf("Could not count administrators: %v", err)}
	case count == 0:
		return Finding{
			ID:          id,
			Status:      StatusFail,
			Message:     "No active administrator.",
			Remediation: "Set bootstrap.admin_email and bootstrap.admin_password, or reactivate an administrator.",
		}
	case count == 1:
		return Finding{
			ID:          id,
			Status:      StatusWarn,
			Message:     "Only one active administrator.",
			Remediation: "Grant the Administrator role to a second account for emergency access.",
			Details:     map[string]any{"count": count},
		}
	}
	return Finding{ID: id, Status: StatusPass, Message: "Administrators present.", Details: map[string]any{"count": count}}
}

func (r *Reviewer) jwtSecret() Finding {
	const id = "jwt_secret_strength"
	if r.cfg == nil {
		return Finding{ID: id, Status: StatusWarn, Message: "Configuration not loaded."}
	}

	length := len(r.cfg.Auth.JWT.Secret)
	switch {
	case length == 0:
		return Finding{ID: id, Status: StatusFail, Message: "Missing JWT signing secret.",
			Remediation: "Set CASEDESK_AUTH_JWT_SECRET to at least 32 random bytes."}
	case length < 32:
		return Finding{ID: id, Status: StatusFail, Message: fmt.Sprintf("JWT signing secret is too short (%d bytes).", length),
			Remediation: "Use a randomly generated secret of at least 32 bytes."}
	case length < 48:
		return Finding{ID: id, Status: StatusWarn, Message: fmt.Sprintf("JWT signing secret is %d bytes.", length),
			Remediation: "Increase CASEDESK_AUTH_JWT_SECRET to 48 bytes or more.", Details: map[string]any{"length": length}}
	}
	return Finding{ID: id, Status: StatusPass, Message: fmt.Sprintf("JWT signing secret is %d bytes.", length),
		Details: map[string]any{"length": length}}
}

func (r *Reviewer) refreshTTL() Finding {
	const id = "session_refresh_ttl"
	if r.cfg == nil {
		return Finding{ID: id, Status: StatusWarn, Message: "Configuration not loaded."}
	}

	ttl := r.cfg.Auth.Session.RefreshTTL
	switch {
	case ttl <= 0:
		return Finding{ID: id, Status: StatusWarn, Message: "Refresh token TTL not configured; the default applies.",
			Remediation: "Set CASEDESK_AUTH_SESSION_REFRESH_TOKEN_TTL."}
	case ttl > maxRefreshTTL:
		return Finding{ID: id, Status: StatusWarn,
			Message:     fmt.Sprintf("Refresh token TTL (%s) exceeds %s.", ttl, maxRefreshTTL),
			Remediation: "Reduce the refresh token TTL to 30 days or less.",
			Details:     map[string]any{"ttl": ttl.String()}}
	}
	return Finding{ID: id, Status: StatusPass, Message: fmt.Sprintf("Refresh token TTL is %s.", ttl),
		Details: map[string]any{"ttl": ttl.String()}}
}

func (r *Reviewer) loginThrottling() Finding {
	const id = "login_throttling"
	if r.cfg == nil {
		return Finding{ID: id, Status: StatusWarn, Message: "Configuration not loaded."}
	}

	limit := r.cfg.Server.LoginRateLimit
	lockout := r.cfg.Auth.LocalAuthConfig()
	details := map[string]any{
		"rate_limit":        limit.Requests,
		"lockout_threshold": lockout.LockoutThreshold,
		"lockout_window":    lockout.LockoutWindow.String(),
	}
	if limit.Requests <= 0 {
		return Finding{ID: id, Status: StatusWarn,
			Message:     "Login is not rate limited; only account lockout applies.",
			Remediation: "Set server.login_rate_limit.requests to throttle credential guessing per client.",
			Details:     details}
	}
	return Finding{ID: id, Status: StatusPass, Message: "Login rate limiting and lockout enabled.", Details: details}
}

func (r *Reviewer) teamScope() Finding {
	const id = "team_scope_narrowing"
	if r.cfg == nil {
		return Finding{ID: id, Status: StatusWarn, Message: "Configuration not loaded."}
	}
	if !r.cfg.Permissions.TeamScopeNarrowing {
		return Finding{ID: id, Status: StatusWarn,
			Message:     "Team-scoped grants reach every record.",
			Remediation: "Set permissions.team_scope_narrowing to restrict team scope to shared team members."}
	}
	return Finding{ID: id, Status: StatusPass, Message: "Team-scoped grants are limited to team members."}
}
