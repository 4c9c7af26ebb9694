package app

import (
	"time"

	"github.com/charlesng35/casedesk/internal/auth"
)

const (
	defaultLockoutThreshold = 5
	defaultLockoutDuration  = 15 * time.Minute
)

// JWTServiceConfig converts AuthConfig into the parameters expected by the JWT service.
func (c AuthConfig) JWTServiceConfig() auth.JWTConfig {
	ttl := c.JWT.TTL
	if ttl <= 0 {
		ttl = auth.DefaultAccessTokenTTL
	}
	return auth.JWTConfig{
		Secret:         c.JWT.Secret,
		Issuer:         c.JWT.Issuer,
		AccessTokenTTL: ttl,
	}
}

// SessionServiceConfig converts AuthConfig into SessionService parameters.
// The revocation cache is wired separately by the caller.
func (c AuthConfig) SessionServiceConfig() auth.SessionConfig {
	ttl := c.Session.RefreshTTL
	if ttl <= 0 {
		ttl = auth.DefaultRefreshTokenTTL
	}
	return auth.SessionConfig{
		RefreshTokenTTL: ttl,
		RefreshLength:   c.Session.RefreshLength,
	}
}

// LocalAuthConfig converts AuthConfig into password login parameters.
func (c AuthConfig) LocalAuthConfig() auth.LocalConfig {
	duration := c.Local.LockoutDuration
	if duration <= 0 {
		duration = defaultLockoutDuration
	}
	threshold := c.Local.LockoutThreshold
	if threshold <= 0 {
		threshold = defaultLockoutThreshold
	}
	return auth.LocalConfig{
		LockoutThreshold: threshold,
		LockoutWindow:    duration,
	}
}
