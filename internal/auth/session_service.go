package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/casedesk/internal/models"
	"github.com/charlesng35/casedesk/pkg/crypto"
	"github.com/charlesng35/casedesk/pkg/logger"
	"github.com/charlesng35/casedesk/pkg/metrics"
)

// DefaultRefreshTokenTTL is the fallback refresh token lifetime.
const DefaultRefreshTokenTTL = 7 * 24 * time.Hour

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	RefreshTokenTTL time.Duration
	RefreshLength   int
	Clock           func() time.Time
	Cache           SessionCache
}

// SessionMetadata captures contextual information about the client.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
}

// TokenPair is the access and refresh token handed to a client.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

var (
	// ErrSessionNotFound indicates that no session matches the provided token or identifier.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionRevoked marks a session that was logged out or revoked by an administrator.
	ErrSessionRevoked = errors.New("session: revoked")
	// ErrSessionExpired signals that a refresh token has reached its expiry.
	ErrSessionExpired = errors.New("session: expired")
	// ErrSessionInvalidToken is returned when the supplied refresh token is malformed.
	ErrSessionInvalidToken = errors.New("session: invalid token")
	// ErrUserInactive is returned when the session owner is missing or deactivated.
	ErrUserInactive = errors.New("session: user inactive")
)

var errSessionCacheMiss = errors.New("session cache miss")

// SessionCache caches sessions keyed by refresh token digest.
type SessionCache interface {
	Get(ctx context.Context, tokenHash string) (*models.Session, error)
	Set(ctx context.Context, session *models.Session, ttl time.Duration) error
	Delete(ctx context.Context, tokenHash string) error
}

// SessionService creates, rotates and revokes refresh-token sessions. Only the
// SHA-256 digest of a refresh token is stored.
type SessionService struct {
	db         *gorm.DB
	jwt        *JWTService
	refreshTTL time.Duration
	tokenLen   int
	now        func() time.Time
	cache      SessionCache
	log        *zap.Logger
}

// NewSessionService constructs a session manager.
func NewSessionService(db *gorm.DB, jwtService *JWTService, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}
	if jwtService == nil {
		return nil, errors.New("session service: jwt service is required")
	}

	ttl := cfg.RefreshTokenTTL
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}
	length := cfg.RefreshLength
	if length <= 0 {
		length = 48
	}
	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		db:         db,
		jwt:        jwtService,
		refreshTTL: ttl,
		tokenLen:   length,
		now:        clock,
		cache:      cfg.Cache,
		log:        logger.WithModule("auth.session"),
	}, nil
}

// CreateSession opens a session for userID and issues a token pair.
func (s *SessionService) CreateSession(ctx context.Context, userID string, meta SessionMetadata) (TokenPair, *models.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return TokenPair{}, nil, errors.New("session service: user id is required")
	}

	refreshToken, err := crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate refresh token: %w", err)
	}

	now := s.now()
	session := &models.Session{
		UserID:       userID,
		RefreshToken: crypto.HashToken(refreshToken),
		IPAddress:    strings.TrimSpace(meta.IPAddress),
		UserAgent:    strings.TrimSpace(meta.UserAgent),
		ExpiresAt:    now.Add(s.refreshTTL),
		LastUsedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: create session: %w", err)
	}
	metrics.ActiveSessions.Inc()

	pair, err := s.issue(session, refreshToken)
	if err != nil {
		return TokenPair{}, nil, err
	}
	s.remember(ctx, session)
	return pair, session, nil
}

// RefreshSession rotates the refresh token and issues a new access token.
func (s *SessionService) RefreshSession(ctx context.Context, refreshToken string) (TokenPair, *models.Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return TokenPair{}, nil, ErrSessionInvalidToken
	}
	digest := crypto.HashToken(refreshToken)

	session, err := s.lookup(ctx, digest)
	if err != nil {
		return TokenPair{}, nil, err
	}

	now := s.now()
	if session.RevokedAt != nil {
		return TokenPair{}, nil, ErrSessionRevoked
	}
	if !now.Before(session.ExpiresAt) {
		return TokenPair{}, nil, ErrSessionExpired
	}

	next, err := crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: generate refresh token: %w", err)
	}
	nextDigest := crypto.HashToken(next)
	expiresAt := now.Add(s.refreshTTL)

	// The digest guard makes concurrent rotations of the same token fail.
	res := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND refresh_token = ? AND revoked_at IS NULL", session.ID, digest).
		Updates(map[string]any{
			"refresh_token": nextDigest,
			"expires_at":    expiresAt,
			"last_used_at":  now,
		})
	if res.Error != nil {
		return TokenPair{}, nil, fmt.Errorf("session service: update session: %w", res.Error)
	}
	if s.cache != nil {
		_ = s.cache.Delete(ctx, digest)
	}
	if res.RowsAffected == 0 {
		return TokenPair{}, nil, ErrSessionNotFound
	}

	session.RefreshToken = nextDigest
	session.ExpiresAt = expiresAt
	session.LastUsedAt = now

	pair, err := s.issue(session, next)
	if err != nil {
		return TokenPair{}, nil, err
	}
	s.remember(ctx, session)
	return pair, session, nil
}

// Resolve returns the active session and its user, with the role and role
// permissions loaded. It is used to rebuild a session's identity.
func (s *SessionService) Resolve(ctx context.Context, sessionID, userID string) (*models.Session, *models.User, error) {
	var session models.Session
	err := s.db.WithContext(ctx).Take(&session, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("session service: find session: %w", err)
	}
	if session.UserID != userID {
		return nil, nil, ErrSessionNotFound
	}
	if session.RevokedAt != nil {
		return nil, nil, ErrSessionRevoked
	}
	if !session.Active(s.now()) {
		return nil, nil, ErrSessionExpired
	}

	var user models.User
	err = s.db.WithContext(ctx).Preload("Role").Take(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !user.IsActive) {
		return nil, nil, ErrUserInactive
	}
	if err != nil {
		return nil, nil, fmt.Errorf("session service: find user: %w", err)
	}
	return &session, &user, nil
}

// RevokeSession marks a session as revoked.
func (s *SessionService) RevokeSession(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionInvalidToken
	}

	var session models.Session
	if err := s.db.WithContext(ctx).Select("id", "refresh_token").Take(&session, "id = ?", sessionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("session service: find session: %w", err)
	}

	res := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Update("revoked_at", s.now())
	if res.Error != nil {
		return fmt.Errorf("session service: revoke session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrSessionRevoked
	}

	if s.cache != nil {
		_ = s.cache.Delete(ctx, session.RefreshToken)
	}
	metrics.ActiveSessions.Sub(float64(res.RowsAffected))
	return nil
}

// RevokeUserSessions revokes every active session of a user and returns their IDs.
func (s *SessionService) RevokeUserSessions(ctx context.Context, userID string) ([]string, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrSessionInvalidToken
	}

	var sessions []models.Session
	if err := s.db.WithContext(ctx).
		Select("id", "refresh_token").
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("session service: list sessions: %w", err)
	}
	if len(sessions) == 0 {
		return nil, nil
	}

	res := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", s.now())
	if res.Error != nil {
		return nil, fmt.Errorf("session service: revoke sessions: %w", res.Error)
	}
	metrics.ActiveSessions.Sub(float64(res.RowsAffected))

	ids := make([]string, 0, len(sessions))
	for _, session := range sessions {
		ids = append(ids, session.ID)
		if s.cache != nil {
			_ = s.cache.Delete(ctx, session.RefreshToken)
		}
	}
	return ids, nil
}

// CleanupExpired deletes expired and revoked sessions.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	now := s.now()

	var activeExpired int64
	if err := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("expires_at < ? AND revoked_at IS NULL", now).
		Count(&activeExpired).Error; err != nil {
		return 0, fmt.Errorf("session service: count expired sessions: %w", err)
	}

	var digests []string
	if s.cache != nil {
		_ = s.db.WithContext(ctx).
			Model(&models.Session{}).
			Where("expires_at < ? OR revoked_at IS NOT NULL", now).
			Pluck("refresh_token", &digests).Error
	}

	res := s.db.WithContext(ctx).
		Where("expires_at < ? OR revoked_at IS NOT NULL", now).
		Delete(&models.Session{})
	if res.Error != nil {
		return 0, fmt.Errorf("session service: cleanup expired sessions: %w", res.Error)
	}

	for _, digest := range digests {
		_ = s.cache.Delete(ctx, digest)
	}
	if activeExpired > 0 {
		metrics.ActiveSessions.Sub(float64(activeExpired))
	}
	return res.RowsAffected, nil
}

func (s *SessionService) lookup(ctx context.Context, digest string) (*models.Session, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, digest)
		if err == nil && cached != nil {
			return cached, nil
		}
		if err != nil && !errors.Is(err, errSessionCacheMiss) {
			s.log.Warn("session cache read failed", zap.Error(err))
		}
	}

	var session models.Session
	err := s.db.WithContext(ctx).Where("refresh_token = ?", digest).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session service: find session: %w", err)
	}
	return &session, nil
}

func (s *SessionService) issue(session *models.Session, refreshToken string) (TokenPair, error) {
	access, err := s.jwt.GenerateAccessToken(session.UserID, session.ID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("session service: generate access token: %w", err)
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refreshToken,
		ExpiresAt:    s.now().Add(s.jwt.TTL()),
	}, nil
}

func (s *SessionService) remember(ctx context.Context, session *models.Session) {
	if s.cache == nil {
		return
	}
	ttl := session.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return
	}
	if err := s.cache.Set(ctx, session, ttl); err != nil {
		s.log.Warn("session cache write failed", zap.String("session_id", session.ID), zap.Error(err))
	}
}
