package app

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig("testdata")
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, 3, cfg.Server.LoginRateLimit.Requests)
	require.Equal(t, 30*time.Second, cfg.Server.LoginRateLimit.Window)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.example.com", cfg.Database.Host)
	conn := cfg.Database.ConnectionConfig()
	require.Equal(t, "casedesk", conn.Name)
	require.Equal(t, "casedesk", conn.User)

	redisCfg, enabled := cfg.Cache.SharedRedis()
	require.True(t, enabled)
	require.Equal(t, "redis.example.com:6379", redisCfg.Address)
	require.Equal(t, 2, redisCfg.DB)

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, 10*time.Minute, cfg.Auth.JWTServiceConfig().AccessTokenTTL)
	require.Equal(t, 48*time.Hour, cfg.Auth.SessionServiceConfig().RefreshTokenTTL)
	local := cfg.Auth.LocalAuthConfig()
	require.Equal(t, 3, local.LockoutThreshold)
	require.Equal(t, 5*time.Minute, local.LockoutWindow)

	require.Equal(t, time.Minute, cfg.Permissions.RefreshInterval)
	require.Equal(t, 15*time.Second, cfg.Permissions.ServerCacheTTL)
	require.Equal(t, 30*time.Minute, cfg.Permissions.IdleSessionTTL)
	require.Equal(t, []string{"profile", "dashboard", "cases"}, cfg.Permissions.PublicModules)
	require.True(t, cfg.Permissions.TeamScopeNarrowing)

	require.Equal(t, []string{"app.example.com"}, cfg.Realtime.AllowedOrigins)
	require.Equal(t, 30, cfg.Maintenance.AuditRetentionDays)

	seed := cfg.Bootstrap.SeedOptions()
	require.NotNil(t, seed.Admin)
	require.Equal(t, "admin@example.com", seed.Admin.Email)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.False(t, cfg.Cache.Redis.Enabled)
	_, redisEnabled := cfg.Cache.SharedRedis()
	require.False(t, redisEnabled)
	require.Equal(t, 5*time.Minute, cfg.Permissions.RefreshInterval)
	require.Equal(t, 2*time.Hour, cfg.Permissions.IdleSessionTTL)
	require.False(t, cfg.Permissions.TeamScopeNarrowing)
	require.Equal(t, 90, cfg.Maintenance.AuditRetentionDays)
	require.Nil(t, cfg.Bootstrap.SeedOptions().Admin)

	local := cfg.Auth.LocalAuthConfig()
	require.Equal(t, 5, local.LockoutThreshold)
	require.Equal(t, 15*time.Minute, local.LockoutWindow)
}

func TestLoadConfigEnvironmentOverrides(t *testing.T) {
	t.Setenv("CASEDESK_SERVER_PORT", "7070")
	t.Setenv("CASEDESK_PERMISSIONS_REFRESH_INTERVAL", "90s")
	t.Setenv("CASEDESK_PERMISSIONS_TEAM_SCOPE_NARROWING", "true")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, 90*time.Second, cfg.Permissions.RefreshInterval)
	require.True(t, cfg.Permissions.TeamScopeNarrowing)
}

func TestLoadConfigWithPrefersExplicitValues(t *testing.T) {
	v := viper.New()
	v.Set("server.port", 6060)

	cfg, err := LoadConfigWith(v, "testdata")
	require.NoError(t, err)
	require.Equal(t, 6060, cfg.Server.Port)
	require.Equal(t, "postgres", cfg.Database.Driver)
}
