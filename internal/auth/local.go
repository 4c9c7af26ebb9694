package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/casedesk/internal/cache"
	"github.com/charlesng35/casedesk/internal/models"
	"github.com/charlesng35/casedesk/pkg/crypto"
)

var (
	// ErrInvalidCredentials is returned when the email/password pair is invalid.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrAccountLocked signals that too many failed attempts were made recently.
	ErrAccountLocked = errors.New("auth: account locked")
	// ErrAccountDisabled signals that the user has been deactivated.
	ErrAccountDisabled = errors.New("auth: account disabled")
)

const failedAttemptPrefix = "auth:failed:"

// LocalConfig defines tunable behaviour for the local authenticator.
type LocalConfig struct {
	// LockoutThreshold failed attempts within LockoutWindow lock the account
	// until the window ends.
	LockoutThreshold int
	LockoutWindow    time.Duration
	Clock            func() time.Time
}

// AuthenticateInput carries a login attempt.
type AuthenticateInput struct {
	Email     string
	Password  string
	IPAddress string
}

// LocalAuthenticator verifies email/password logins. Failed attempts are
// counted in the shared cache so every instance sees the same lockout.
type LocalAuthenticator struct {
	db        *gorm.DB
	attempts  cache.Store
	threshold int
	window    time.Duration
	clock     func() time.Time
}

// NewLocalAuthenticator builds an authenticator. A nil attempts store disables lockout.
func NewLocalAuthenticator(db *gorm.DB, attempts cache.Store, cfg LocalConfig) (*LocalAuthenticator, error) {
	if db == nil {
		return nil, errors.New("local auth: db is required")
	}
	threshold := cfg.LockoutThreshold
	if threshold <= 0 {
		threshold = 5
	}
	window := cfg.LockoutWindow
	if window <= 0 {
		window = 15 * time.Minute
	}
	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}
	return &LocalAuthenticator{db: db, attempts: attempts, threshold: threshold, window: window, clock: clock}, nil
}

// Authenticate verifies the credentials and returns the user with its role loaded.
func (a *LocalAuthenticator) Authenticate(ctx context.Context, input AuthenticateInput) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	if email == "" || input.Password == "" {
		return nil, ErrInvalidCredentials
	}

	if a.locked(ctx, email) {
		return nil, ErrAccountLocked
	}

	var user models.User
	err := a.db.WithContext(ctx).Preload("Role").Where("email = ?", email).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, a.fail(ctx, email)
	}
	if err != nil {
		return nil, fmt.Errorf("local auth: query user: %w", err)
	}

	if !crypto.VerifyPassword(user.Password, input.Password) {
		return nil, a.fail(ctx, email)
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}

	if a.attempts != nil {
		_ = a.attempts.Delete(ctx, failedAttemptPrefix+email)
	}

	now := a.clock()
	ip := strings.TrimSpace(input.IPAddress)
	if err := a.db.WithContext(ctx).Model(&user).Updates(map[string]any{
		"last_login_at": now,
		"last_login_ip": ip,
	}).Error; err != nil {
		return nil, fmt.Errorf("local auth: update user: %w", err)
	}
	user.LastLoginAt = &now
	user.LastLoginIP = ip
	return &user, nil
}

func (a *LocalAuthenticator) locked(ctx context.Context, email string) bool {
	if a.attempts == nil {
		return false
	}
	raw, ok, err := a.attempts.Get(ctx, failedAttemptPrefix+email)
	if err != nil || !ok {
		return false
	}
	count, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	return err == nil && count >= a.threshold
}

func (a *LocalAuthenticator) fail(ctx context.Context, email string) error {
	if a.attempts == nil {
		return ErrInvalidCredentials
	}
	count, _, err := a.attempts.IncrementWithTTL(ctx, failedAttemptPrefix+email, a.window)
	if err == nil && count >= int64(a.threshold) {
		return ErrAccountLocked
	}
	return ErrInvalidCredentials
}
